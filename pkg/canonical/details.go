package canonical

import (
	"fmt"
	"strings"
)

// detailsFields is the fixed subset of an upstream transfer payload that
// participates in the content address. Changing this set invalidates every
// stored details_hash.
var detailsFields = []string{
	"hash", "blockNumber", "timeStamp", "from", "to",
	"contractAddress", "value", "tokenDecimal",
}

var lowercasedFields = map[string]bool{
	"from":            true,
	"to":              true,
	"contractAddress": true,
}

// DetailsHash computes the content address of a transfer payload: SHA-256
// over the canonical JSON of the fixed field subset. Address fields are
// lowercased and every value is serialized as a string.
func DetailsHash(raw map[string]any) (string, error) {
	subset := make(map[string]any, len(detailsFields))
	for _, key := range detailsFields {
		val := stringField(raw[key])
		if lowercasedFields[key] {
			val = strings.ToLower(val)
		}
		subset[key] = val
	}
	return Hash(subset)
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// Upstream numerics decoded via encoding/json. Integral values
		// must not pick up an exponent or decimal point.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
