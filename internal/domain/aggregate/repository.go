// internal/domain/aggregate/repository.go
package aggregate

import (
	"context"
	"database/sql"
	"time"
)

// ResyncCandidate identifies an active profile whose device sync looks
// unhealthy or stale enough to warrant a forced resync.
type ResyncCandidate struct {
	UserID         string
	ProfileID      string
	HealthScore    sql.NullInt32
	LastSyncStatus sql.NullString
	NextCheckAt    sql.NullTime
}

// SyncMirror is the sync-tracking state mirrored onto the active profile
// after a health report is recorded.
type SyncMirror struct {
	Score       int
	Status      string // "success" or "failure"
	Source      string
	SyncedAt    time.Time
	NextCheckAt time.Time
}

// Repository defines persistence operations for user aggregates. Every
// mutating method recomputes the aggregate's derived metadata within the same
// transaction as the mutation; metadata is never separately writable.
type Repository interface {
	// CreateAggregate creates the aggregate (with an empty, disabled
	// schedule) if absent and returns it. Idempotent: an existing aggregate
	// is returned as-is rather than erroring.
	CreateAggregate(ctx context.Context, userID string) (*UserAggregate, error)
	// GetAggregate returns the full aggregate or ErrUserNotFound.
	GetAggregate(ctx context.Context, userID string) (*UserAggregate, error)

	// AddProfile inserts a new alarm profile. A duplicate profile id for the
	// same user yields ErrValidation.
	AddProfile(ctx context.Context, p *AlarmProfile) error
	// UpdateProfile applies a partial update to one profile. The IsActive
	// field of the update is ignored here; activation goes through
	// ActivateProfile.
	UpdateProfile(ctx context.Context, userID, profileID string, u ProfileUpdate) error
	// DeleteProfile removes a profile. If it was the active one the
	// schedule's active profile reference is cleared in the same transaction.
	DeleteProfile(ctx context.Context, userID, profileID string) error

	// ActivateProfile atomically deactivates every profile of the user,
	// activates the target, points the schedule at it and enables it. Runs
	// under serializable isolation; a lost race yields ErrConcurrency and no
	// partial state. A missing target yields ErrProfileNotFound.
	ActivateProfile(ctx context.Context, userID, profileID string) error

	// UpdateSchedule applies a partial schedule update together with the
	// recomputed next-fire timestamps.
	UpdateSchedule(ctx context.Context, userID string, u ScheduleUpdate, nextMorning, nextEvening sql.NullTime) error
	// MarkSlotSent stamps the combined and slot-specific last-sent
	// timestamps after a successful dispatch.
	MarkSlotSent(ctx context.Context, userID string, slot Slot, at time.Time) error

	// AppendNotificationLog appends an entry and evicts the oldest entries
	// beyond NotificationLogCap.
	AppendNotificationLog(ctx context.Context, l *NotificationLog) error
	// UpdateNotificationLogStatus transitions one entry's delivery status and
	// stamps the matching timestamp column.
	UpdateNotificationLogStatus(ctx context.Context, userID, notificationID string, status NotificationStatus, at time.Time) error
	// AppendSyncHealthLog appends a scored health report and evicts the
	// oldest entries beyond SyncHealthLogCap.
	AppendSyncHealthLog(ctx context.Context, l *SyncHealthLog) error
	// MirrorSyncOntoProfile writes the mirrored sync-tracking fields onto one
	// profile.
	MirrorSyncOntoProfile(ctx context.Context, userID, profileID string, m SyncMirror) error

	// ListScheduleCandidates returns the schedules of all users that are
	// enabled, have an active profile and a set active profile reference.
	ListScheduleCandidates(ctx context.Context) ([]*FCMSchedule, error)
	// ListResyncCandidates returns up to limit active profiles with a failed
	// last sync, a stale next-check time, or a low health score, oldest
	// next-check first.
	ListResyncCandidates(ctx context.Context, limit int, now time.Time) ([]*ResyncCandidate, error)
}
