// internal/domain/aggregate/schedule.go
package aggregate

import (
	"database/sql"
	"fmt"
	"time"

	"alarmkeeper/internal/domain/timeutil"
)

// Slot names one of the two daily push-notification timings.
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotEvening Slot = "evening"
)

// ValidSlot reports whether s is a known slot name.
func ValidSlot(s Slot) bool {
	return s == SlotMorning || s == SlotEvening
}

// FCMSchedule is the single per-user push delivery schedule. ActiveProfileID
// always equals the id of the currently active alarm profile, or is null when
// none is active.
type FCMSchedule struct {
	UserID          string
	ActiveProfileID sql.NullString
	MorningTime     string // "HH:MM" in the user's timezone
	EveningTime     string // "HH:MM" in the user's timezone
	Timezone        string // IANA zone name, e.g. "America/New_York"
	IsEnabled       bool

	LastSentAt        sql.NullTime // combined, either slot
	LastMorningSentAt sql.NullTime
	LastEveningSentAt sql.NullTime
	NextMorningAt     sql.NullTime
	NextEveningAt     sql.NullTime

	RetryCount    int
	FailureReason sql.NullString
	UpdatedAt     time.Time
}

// SlotTime returns the configured "HH:MM" for the given slot.
func (s *FCMSchedule) SlotTime(slot Slot) string {
	if slot == SlotEvening {
		return s.EveningTime
	}
	return s.MorningTime
}

// LastSentFor returns the slot-specific last-sent timestamp, falling back to
// the combined timestamp when per-slot tracking is absent.
func (s *FCMSchedule) LastSentFor(slot Slot) sql.NullTime {
	var last sql.NullTime
	switch slot {
	case SlotMorning:
		last = s.LastMorningSentAt
	case SlotEvening:
		last = s.LastEveningSentAt
	}
	if !last.Valid {
		last = s.LastSentAt
	}
	return last
}

// ScheduleUpdate carries a partial update to the schedule. Nil pointers mean
// "leave unchanged".
type ScheduleUpdate struct {
	MorningTime *string
	EveningTime *string
	Timezone    *string
	IsEnabled   *bool
}

// Empty reports whether the update would change nothing.
func (u ScheduleUpdate) Empty() bool {
	return u.MorningTime == nil && u.EveningTime == nil && u.Timezone == nil && u.IsEnabled == nil
}

// Validate checks the populated fields of a schedule update.
func (u ScheduleUpdate) Validate() error {
	if u.MorningTime != nil && !timeutil.ValidClock(*u.MorningTime) {
		return fmt.Errorf("%w: morning time %q is not HH:MM", ErrValidation, *u.MorningTime)
	}
	if u.EveningTime != nil && !timeutil.ValidClock(*u.EveningTime) {
		return fmt.Errorf("%w: evening time %q is not HH:MM", ErrValidation, *u.EveningTime)
	}
	if u.Timezone != nil && !timeutil.ValidZone(*u.Timezone) {
		return fmt.Errorf("%w: unknown timezone %q", ErrValidation, *u.Timezone)
	}
	return nil
}

// NextFire computes the next UTC instant at which the given slot fires: today
// at the configured wall-clock time in the user's timezone, or tomorrow if
// that moment has already passed.
func (s *FCMSchedule) NextFire(slot Slot, now time.Time) (time.Time, error) {
	hh, mm, err := timeutil.ParseClock(s.SlotTime(slot))
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
	if !at.After(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, hh, mm, 0, 0, loc)
	}
	return at.UTC(), nil
}
