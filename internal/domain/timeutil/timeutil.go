// internal/domain/timeutil/timeutil.go
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidClock = fmt.Errorf("invalid HH:MM clock value")

// ParseClock parses a wall-clock value in "HH:MM" form (24-hour).
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return hour, minute, nil
}

// ValidClock reports whether s is a parseable "HH:MM" value.
func ValidClock(s string) bool {
	_, _, err := ParseClock(s)
	return err == nil
}

// ValidZone reports whether tz names a loadable IANA timezone.
func ValidZone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// ToUTC converts a wall-clock hour/minute in the given IANA timezone to the
// UTC hour/minute it corresponds to on the calendar date of ref. The calendar
// date matters because of DST: 08:00 America/New_York is 13:00 UTC in winter
// and 12:00 UTC in summer.
func ToUTC(hour, minute int, tz string, ref time.Time) (utcHour, utcMinute int, err error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, 0, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	local := ref.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	u := at.UTC()
	return u.Hour(), u.Minute(), nil
}

// IsSameLocalDay reports whether a and b fall on the same calendar day in the
// given timezone. An empty or unknown timezone falls back to UTC.
func IsSameLocalDay(a, b time.Time, tz string) bool {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
