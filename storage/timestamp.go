package storage

import (
	"fmt"
	"time"
)

// timestampLayouts lists the accepted input formats for TIMESTAMP values,
// tried in order until one matches. All parsed times are converted to UTC.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999Z07:00", // full with fractional seconds and timezone
	"2006-01-02 15:04:05Z07:00",        // full with timezone
	"2006-01-02T15:04:05.999999Z07:00", // ISO 8601 with fractional seconds
	"2006-01-02T15:04:05Z07:00",        // ISO 8601
	"2006-01-02 15:04:05.999999",       // no timezone, fractional seconds (assumed UTC)
	"2006-01-02 15:04:05",              // no timezone (assumed UTC)
	"2006-01-02T15:04:05",              // ISO 8601 no timezone (assumed UTC)
	"2006-01-02",                       // date only (midnight UTC)
}

// ParseTimestamp parses s against each of timestampLayouts in turn and
// returns the first match, converted to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
