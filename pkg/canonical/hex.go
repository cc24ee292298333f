package canonical

import "strings"

// NormalizeHex normalizes a hex string for use as a Merkle leaf: strips an
// optional 0x prefix, lowercases, and left-pads odd lengths with a zero.
// Returns the empty string when the input contains non-hex characters so
// callers can skip the value.
func NormalizeHex(s string) string {
	h := strings.TrimSpace(s)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	h = strings.ToLower(h)
	if h == "" {
		return ""
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	if len(h)%2 != 0 {
		h = "0" + h
	}
	return h
}
