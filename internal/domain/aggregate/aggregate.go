// internal/domain/aggregate/aggregate.go
package aggregate

import (
	"database/sql"
	"time"
)

// Metadata holds derived counters and timestamps for one aggregate. It is a
// projection recomputed on every mutating write, never independently
// authoritative, and no exported operation accepts external writes to it.
type Metadata struct {
	ProfileCount         int
	ActiveProfileCount   int
	NotificationLogCount int
	SyncHealthLogCount   int
	LastNotificationAt   sql.NullTime
	LastSyncReportAt     sql.NullTime
}

// UserAggregate is the consolidated per-user state record: alarm profiles,
// the push delivery schedule, the two rolling logs, and derived metadata.
// There is exactly one aggregate per user.
type UserAggregate struct {
	UserID           string
	Profiles         []*AlarmProfile
	Schedule         *FCMSchedule
	NotificationLogs []*NotificationLog // newest first
	SyncHealthLogs   []*SyncHealthLog   // newest first
	Metadata         Metadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Profile returns the profile with the given id, or nil.
func (a *UserAggregate) Profile(profileID string) *AlarmProfile {
	for _, p := range a.Profiles {
		if p.ProfileID == profileID {
			return p
		}
	}
	return nil
}

// ActiveProfile returns the currently active profile, or nil when none is
// active.
func (a *UserAggregate) ActiveProfile() *AlarmProfile {
	for _, p := range a.Profiles {
		if p.IsActive {
			return p
		}
	}
	return nil
}

// RecomputeMetadata rebuilds the derived counters from the aggregate's
// current contents. The persistent store performs the same projection inside
// each mutating transaction.
func (a *UserAggregate) RecomputeMetadata() {
	m := Metadata{
		ProfileCount:         len(a.Profiles),
		NotificationLogCount: len(a.NotificationLogs),
		SyncHealthLogCount:   len(a.SyncHealthLogs),
	}
	for _, p := range a.Profiles {
		if p.IsActive {
			m.ActiveProfileCount++
		}
	}
	for _, l := range a.NotificationLogs {
		if !m.LastNotificationAt.Valid || l.CreatedAt.After(m.LastNotificationAt.Time) {
			m.LastNotificationAt = sql.NullTime{Time: l.CreatedAt, Valid: true}
		}
	}
	for _, l := range a.SyncHealthLogs {
		if !m.LastSyncReportAt.Valid || l.ReportedAt.After(m.LastSyncReportAt.Time) {
			m.LastSyncReportAt = sql.NullTime{Time: l.ReportedAt, Valid: true}
		}
	}
	a.Metadata = m
}
