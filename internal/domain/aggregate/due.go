// internal/domain/aggregate/due.go
package aggregate

import (
	"alarmkeeper/internal/domain/timeutil"
	"time"
)

// DueForSlot reports whether the schedule's slot fires at the given instant.
// The configured "HH:MM" is converted from the user's timezone to UTC for
// now's calendar date and compared against now's UTC hour and minute for an
// exact match; there is no tolerance window, so the caller must evaluate
// schedules at least once per minute. A user already notified for this slot
// on the same calendar day (in their own timezone) is skipped.
func DueForSlot(s *FCMSchedule, slot Slot, now time.Time) (bool, error) {
	if !s.IsEnabled || !s.ActiveProfileID.Valid {
		return false, nil
	}

	hh, mm, err := timeutil.ParseClock(s.SlotTime(slot))
	if err != nil {
		return false, err
	}
	utcHour, utcMinute, err := timeutil.ToUTC(hh, mm, s.Timezone, now)
	if err != nil {
		return false, err
	}

	u := now.UTC()
	if u.Hour() != utcHour || u.Minute() != utcMinute {
		return false, nil
	}

	if last := s.LastSentFor(slot); last.Valid && timeutil.IsSameLocalDay(last.Time, now, s.Timezone) {
		return false, nil
	}
	return true, nil
}
