package txaudit

import "time"

// DefaultTimezone localizes displayed timestamps for operators in Seoul.
const DefaultTimezone = "Asia/Seoul"

// FormatLocal renders t in the named zone, falling back to UTC when the
// zone is unknown. The zero time renders as an empty string.
func FormatLocal(t time.Time, tz string) string {
	if t.IsZero() {
		return ""
	}
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}

// FormatUTC renders t as an ISO 8601 UTC timestamp with a Z suffix.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
