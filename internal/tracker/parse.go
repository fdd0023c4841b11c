package tracker

import (
	"strconv"
	"strings"
	"time"
)

// dateFormats are tried in order when parsing free-form site dates.
var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"1-2-2006",
	"2006/1/2",
	"January 2, 2006",
	"Jan 2, 2006",
	"2/1/2006",
}

// ParseAmount extracts a numeric value from a currency-formatted string such
// as "$2,500,000". It reports false for empty or unparseable input.
func ParseAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDate parses a site date string, trying each known format in order.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
