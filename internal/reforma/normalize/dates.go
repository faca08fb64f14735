package normalize

import (
	"strings"
	"time"
)

// dateLayouts are the absolute formats accepted for dates typed in chat.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
}

// ParseDate resolves a relative or absolute date expression to a concrete
// date. Relative words are resolved against now. Returns false when the
// expression cannot be parsed; the caller turns that into a soft error.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	switch trimmed {
	case "hoy", "today":
		return startOfDay(now), true
	case "ayer", "yesterday":
		return startOfDay(now.AddDate(0, 0, -1)), true
	case "anteayer":
		return startOfDay(now.AddDate(0, 0, -2)), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// startOfDay keeps the calendar day in now's own zone. Truncate would cut to
// UTC day boundaries and shift "hoy" to the wrong day everywhere west of UTC.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
