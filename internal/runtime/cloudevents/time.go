package cloudevents

import (
	"time"
)

// Time layouts accepted on decode. Producers written in other languages
// usually emit RFC3339 with milliseconds; older ones omit the zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a CloudEvents time attribute.
func ParseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// FormatTime renders t as RFC3339 with nanoseconds in UTC; zero is "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Now returns the current UTC time without a monotonic reading, so it
// compares equal to its decoded form.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}
