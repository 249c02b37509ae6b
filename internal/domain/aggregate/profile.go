// internal/domain/aggregate/profile.go
package aggregate

import (
	"database/sql"
	"fmt"
	"time"

	"alarmkeeper/internal/domain/timeutil"
)

// DeviceSyncStatus records the sync state of one device registered against a
// profile. Stored as a JSON array on the profile row.
type DeviceSyncStatus struct {
	DeviceID string    `json:"device_id"`
	Status   string    `json:"status"`
	SyncedAt time.Time `json:"synced_at"`
}

// AlarmProfile is one configurable alarm configuration belonging to a user.
// Profile IDs are caller-supplied and unique per user. Across one user's
// profiles at most one may have IsActive set; that invariant is enforced at
// activation time, not at insertion time.
type AlarmProfile struct {
	UserID       string
	ProfileID    string
	ContentURL   string
	AlarmsPerDay int
	Weekdays     []int  // ISO weekday numbers, 1 (Monday) through 7 (Sunday)
	StartTime    string // "HH:MM"
	EndTime      string // "HH:MM"
	FixedTime    sql.NullString
	ExplicitDates []time.Time
	IsActive     bool

	// Sync tracking, mirrored from the most recent health report while this
	// profile is active.
	LastSyncedAt   sql.NullTime
	LastSyncSource sql.NullString
	LastSyncStatus sql.NullString
	HealthScore    sql.NullInt32
	NextCheckAt    sql.NullTime
	DeviceStatuses []DeviceSyncStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the caller-supplied fields of a profile. All failures wrap
// ErrValidation.
func (p *AlarmProfile) Validate() error {
	if p.ProfileID == "" {
		return fmt.Errorf("%w: profile id is required", ErrValidation)
	}
	if p.AlarmsPerDay < 1 || p.AlarmsPerDay > 24 {
		return fmt.Errorf("%w: alarms per day must be between 1 and 24, got %d", ErrValidation, p.AlarmsPerDay)
	}
	for _, d := range p.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: weekday must be between 1 and 7, got %d", ErrValidation, d)
		}
	}
	if p.StartTime != "" && !timeutil.ValidClock(p.StartTime) {
		return fmt.Errorf("%w: start time %q is not HH:MM", ErrValidation, p.StartTime)
	}
	if p.EndTime != "" && !timeutil.ValidClock(p.EndTime) {
		return fmt.Errorf("%w: end time %q is not HH:MM", ErrValidation, p.EndTime)
	}
	if p.FixedTime.Valid && !timeutil.ValidClock(p.FixedTime.String) {
		return fmt.Errorf("%w: fixed time %q is not HH:MM", ErrValidation, p.FixedTime.String)
	}
	return nil
}

// ProfileUpdate carries a partial update to an alarm profile. Nil pointers
// (and nil slices) mean "leave unchanged".
type ProfileUpdate struct {
	ContentURL    *string
	AlarmsPerDay  *int
	Weekdays      []int
	StartTime     *string
	EndTime       *string
	FixedTime     *string // empty string clears the fixed time
	ExplicitDates []time.Time
	IsActive      *bool
}

// Empty reports whether the update would change nothing.
func (u ProfileUpdate) Empty() bool {
	return u.ContentURL == nil && u.AlarmsPerDay == nil && u.Weekdays == nil &&
		u.StartTime == nil && u.EndTime == nil && u.FixedTime == nil &&
		u.ExplicitDates == nil && u.IsActive == nil
}

// Validate checks the populated fields of a partial update.
func (u ProfileUpdate) Validate() error {
	if u.AlarmsPerDay != nil && (*u.AlarmsPerDay < 1 || *u.AlarmsPerDay > 24) {
		return fmt.Errorf("%w: alarms per day must be between 1 and 24, got %d", ErrValidation, *u.AlarmsPerDay)
	}
	for _, d := range u.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: weekday must be between 1 and 7, got %d", ErrValidation, d)
		}
	}
	if u.StartTime != nil && *u.StartTime != "" && !timeutil.ValidClock(*u.StartTime) {
		return fmt.Errorf("%w: start time %q is not HH:MM", ErrValidation, *u.StartTime)
	}
	if u.EndTime != nil && *u.EndTime != "" && !timeutil.ValidClock(*u.EndTime) {
		return fmt.Errorf("%w: end time %q is not HH:MM", ErrValidation, *u.EndTime)
	}
	if u.FixedTime != nil && *u.FixedTime != "" && !timeutil.ValidClock(*u.FixedTime) {
		return fmt.Errorf("%w: fixed time %q is not HH:MM", ErrValidation, *u.FixedTime)
	}
	return nil
}
