package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"alarmkeeper/internal/domain/aggregate"
)

// memoryRepository is an in-memory aggregate.Repository with the same
// behavioral contract as the Postgres implementation: mutations are atomic
// under a single mutex, metadata is recomputed on every write, and reads
// return deep copies so callers never alias the stored state.
type memoryRepository struct {
	mu   sync.Mutex
	aggs map[string]*aggregate.UserAggregate
	seq  int64
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{aggs: make(map[string]*aggregate.UserAggregate)}
}

func copyProfile(p *aggregate.AlarmProfile) *aggregate.AlarmProfile {
	out := *p
	out.Weekdays = append([]int(nil), p.Weekdays...)
	out.ExplicitDates = append([]time.Time(nil), p.ExplicitDates...)
	out.DeviceStatuses = append([]aggregate.DeviceSyncStatus(nil), p.DeviceStatuses...)
	return &out
}

func copyAggregate(a *aggregate.UserAggregate) *aggregate.UserAggregate {
	out := *a
	out.Profiles = make([]*aggregate.AlarmProfile, 0, len(a.Profiles))
	for _, p := range a.Profiles {
		out.Profiles = append(out.Profiles, copyProfile(p))
	}
	sched := *a.Schedule
	out.Schedule = &sched
	out.NotificationLogs = make([]*aggregate.NotificationLog, 0, len(a.NotificationLogs))
	for _, l := range a.NotificationLogs {
		c := *l
		out.NotificationLogs = append(out.NotificationLogs, &c)
	}
	out.SyncHealthLogs = make([]*aggregate.SyncHealthLog, 0, len(a.SyncHealthLogs))
	for _, l := range a.SyncHealthLogs {
		c := *l
		out.SyncHealthLogs = append(out.SyncHealthLogs, &c)
	}
	return &out
}

func (r *memoryRepository) get(userID string) (*aggregate.UserAggregate, error) {
	a, ok := r.aggs[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", aggregate.ErrUserNotFound, userID)
	}
	return a, nil
}

func (r *memoryRepository) CreateAggregate(_ context.Context, userID string) (*aggregate.UserAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.aggs[userID]; ok {
		return copyAggregate(a), nil
	}
	now := time.Now()
	a := &aggregate.UserAggregate{
		UserID: userID,
		Schedule: &aggregate.FCMSchedule{
			UserID:      userID,
			MorningTime: "08:00",
			EveningTime: "20:00",
			Timezone:    "UTC",
			IsEnabled:   false,
			UpdatedAt:   now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.RecomputeMetadata()
	r.aggs[userID] = a
	return copyAggregate(a), nil
}

func (r *memoryRepository) GetAggregate(_ context.Context, userID string) (*aggregate.UserAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return nil, err
	}
	return copyAggregate(a), nil
}

func (r *memoryRepository) AddProfile(_ context.Context, p *aggregate.AlarmProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(p.UserID)
	if err != nil {
		return err
	}
	for _, existing := range a.Profiles {
		if existing.ProfileID == p.ProfileID {
			return fmt.Errorf("%w: profile %s already exists", aggregate.ErrValidation, p.ProfileID)
		}
	}
	a.Profiles = append(a.Profiles, copyProfile(p))
	a.RecomputeMetadata()
	return nil
}

func (r *memoryRepository) UpdateProfile(_ context.Context, userID, profileID string, u aggregate.ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	p := a.Profile(profileID)
	if p == nil {
		return fmt.Errorf("%w: %s", aggregate.ErrProfileNotFound, profileID)
	}
	if u.ContentURL != nil {
		p.ContentURL = *u.ContentURL
	}
	if u.AlarmsPerDay != nil {
		p.AlarmsPerDay = *u.AlarmsPerDay
	}
	if u.Weekdays != nil {
		p.Weekdays = append([]int(nil), u.Weekdays...)
	}
	if u.StartTime != nil {
		p.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		p.EndTime = *u.EndTime
	}
	if u.FixedTime != nil {
		if *u.FixedTime == "" {
			p.FixedTime = sql.NullString{}
		} else {
			p.FixedTime = sql.NullString{String: *u.FixedTime, Valid: true}
		}
	}
	if u.ExplicitDates != nil {
		p.ExplicitDates = append([]time.Time(nil), u.ExplicitDates...)
	}
	// IsActive is deliberately ignored; activation goes through
	// ActivateProfile only.
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepository) DeleteProfile(_ context.Context, userID, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	for i, p := range a.Profiles {
		if p.ProfileID != profileID {
			continue
		}
		if p.IsActive {
			a.Schedule.ActiveProfileID = sql.NullString{}
		}
		a.Profiles = append(a.Profiles[:i], a.Profiles[i+1:]...)
		a.RecomputeMetadata()
		return nil
	}
	return fmt.Errorf("%w: %s", aggregate.ErrProfileNotFound, profileID)
}

func (r *memoryRepository) ActivateProfile(_ context.Context, userID, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	target := a.Profile(profileID)
	if target == nil {
		return fmt.Errorf("%w: %s", aggregate.ErrProfileNotFound, profileID)
	}
	for _, p := range a.Profiles {
		p.IsActive = false
	}
	target.IsActive = true
	a.Schedule.ActiveProfileID = sql.NullString{String: profileID, Valid: true}
	a.Schedule.IsEnabled = true
	a.RecomputeMetadata()
	return nil
}

func (r *memoryRepository) UpdateSchedule(_ context.Context, userID string, u aggregate.ScheduleUpdate, nextMorning, nextEvening sql.NullTime) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	s := a.Schedule
	if u.MorningTime != nil {
		s.MorningTime = *u.MorningTime
	}
	if u.EveningTime != nil {
		s.EveningTime = *u.EveningTime
	}
	if u.Timezone != nil {
		s.Timezone = *u.Timezone
	}
	if u.IsEnabled != nil {
		s.IsEnabled = *u.IsEnabled
	}
	s.NextMorningAt = nextMorning
	s.NextEveningAt = nextEvening
	s.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepository) MarkSlotSent(_ context.Context, userID string, slot aggregate.Slot, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	a.Schedule.LastSentAt = sql.NullTime{Time: at, Valid: true}
	switch slot {
	case aggregate.SlotMorning:
		a.Schedule.LastMorningSentAt = sql.NullTime{Time: at, Valid: true}
	case aggregate.SlotEvening:
		a.Schedule.LastEveningSentAt = sql.NullTime{Time: at, Valid: true}
	}
	return nil
}

func (r *memoryRepository) AppendNotificationLog(_ context.Context, l *aggregate.NotificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(l.UserID)
	if err != nil {
		return err
	}
	for _, existing := range a.NotificationLogs {
		if existing.NotificationID == l.NotificationID {
			return fmt.Errorf("%w: notification %s already logged", aggregate.ErrValidation, l.NotificationID)
		}
	}
	c := *l
	a.NotificationLogs = aggregate.RotateNotificationLogs(append(a.NotificationLogs, &c))
	a.RecomputeMetadata()
	return nil
}

func (r *memoryRepository) UpdateNotificationLogStatus(_ context.Context, userID, notificationID string, status aggregate.NotificationStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	for _, l := range a.NotificationLogs {
		if l.NotificationID != notificationID {
			continue
		}
		l.Status = status
		stamp := sql.NullTime{Time: at, Valid: true}
		switch status {
		case aggregate.NotificationScheduled:
			l.ScheduledAt = stamp
		case aggregate.NotificationSent:
			l.SentAt = stamp
		case aggregate.NotificationDelivered:
			l.DeliveredAt = stamp
		case aggregate.NotificationOpened:
			l.OpenedAt = stamp
		case aggregate.NotificationFailed:
			l.FailedAt = stamp
			l.RetryCount++
		}
		return nil
	}
	return fmt.Errorf("%w: %s", aggregate.ErrNotificationLogNotFound, notificationID)
}

func (r *memoryRepository) AppendSyncHealthLog(_ context.Context, l *aggregate.SyncHealthLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(l.UserID)
	if err != nil {
		return err
	}
	r.seq++
	l.ID = r.seq
	c := *l
	a.SyncHealthLogs = aggregate.RotateSyncHealthLogs(append(a.SyncHealthLogs, &c))
	a.RecomputeMetadata()
	return nil
}

func (r *memoryRepository) MirrorSyncOntoProfile(_ context.Context, userID, profileID string, m aggregate.SyncMirror) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.get(userID)
	if err != nil {
		return err
	}
	p := a.Profile(profileID)
	if p == nil {
		return fmt.Errorf("%w: %s", aggregate.ErrProfileNotFound, profileID)
	}
	p.HealthScore = sql.NullInt32{Int32: int32(m.Score), Valid: true}
	p.LastSyncStatus = sql.NullString{String: m.Status, Valid: true}
	p.LastSyncSource = sql.NullString{String: m.Source, Valid: true}
	p.LastSyncedAt = sql.NullTime{Time: m.SyncedAt, Valid: true}
	p.NextCheckAt = sql.NullTime{Time: m.NextCheckAt, Valid: true}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepository) ListScheduleCandidates(_ context.Context) ([]*aggregate.FCMSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*aggregate.FCMSchedule, 0)
	for _, a := range r.aggs {
		if !a.Schedule.IsEnabled || !a.Schedule.ActiveProfileID.Valid {
			continue
		}
		active := a.ActiveProfile()
		if active == nil || active.ProfileID != a.Schedule.ActiveProfileID.String {
			continue
		}
		s := *a.Schedule
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memoryRepository) ListResyncCandidates(_ context.Context, limit int, now time.Time) ([]*aggregate.ResyncCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*aggregate.ResyncCandidate, 0)
	for _, a := range r.aggs {
		for _, p := range a.Profiles {
			if !p.IsActive {
				continue
			}
			failed := p.LastSyncStatus.Valid && p.LastSyncStatus.String == "failure"
			stale := p.NextCheckAt.Valid && !p.NextCheckAt.Time.After(now)
			unhealthy := p.HealthScore.Valid && p.HealthScore.Int32 < 50
			if !failed && !stale && !unhealthy {
				continue
			}
			out = append(out, &aggregate.ResyncCandidate{
				UserID:         p.UserID,
				ProfileID:      p.ProfileID,
				HealthScore:    p.HealthScore,
				LastSyncStatus: p.LastSyncStatus,
				NextCheckAt:    p.NextCheckAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextCheckAt, out[j].NextCheckAt
		if a.Valid != b.Valid {
			return !a.Valid // nulls first, matching the store's ordering
		}
		if a.Valid && !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
