package engine

import "time"

// parseTime parses a timestamp string embedded in a freeform args map
// (remind.expire_at, split params, etc.), accepting RFC3339 with or
// without a fractional-seconds component.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
