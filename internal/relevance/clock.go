package relevance

import (
	"strings"
	"time"
)

// clockLayouts are the time-of-day shapes upstream aggregators produce.
var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	time.RFC3339,
}

// validClock reports whether s is a recognisable time of day. Only presence
// and shape matter; the value itself does not affect relevance.
func validClock(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	for _, layout := range clockLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
