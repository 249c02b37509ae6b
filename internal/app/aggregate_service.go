// internal/app/aggregate_service.go
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alarmkeeper/internal/domain/aggregate"
	"alarmkeeper/internal/domain/health"
	"alarmkeeper/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// resyncCheckInterval is how far ahead the next device check is scheduled
// after a health report is recorded.
const resyncCheckInterval = 24 * time.Hour

// HealthReport is the outcome of recording one sync-health report: the stored
// log entry plus the derived status and recommendations.
type HealthReport struct {
	Log             *aggregate.SyncHealthLog
	Score           int
	Status          string // fine-grained five-level label
	Recommendations []string
}

// AggregateService is the façade over the per-user aggregate: profile CRUD,
// activation, schedule updates and log appends. All invariants of the
// aggregate are enforced here or in the store it delegates to.
type AggregateService struct {
	repo        aggregate.Repository
	logger      *logrus.Entry
	metrics     metrics.Recorder
	maxProfiles int
	now         func() time.Time
}

func NewAggregateService(repo aggregate.Repository, logger *logrus.Entry, rec metrics.Recorder, maxProfiles int) *AggregateService {
	return &AggregateService{
		repo:        repo,
		logger:      logger,
		metrics:     rec,
		maxProfiles: maxProfiles,
		now:         time.Now,
	}
}

// observe records one operation's outcome and duration.
func (s *AggregateService) observe(operation string, start time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
	}
	s.metrics.RecordOperation(operation, outcome, time.Since(start))
}

// CreateAggregate creates the per-user aggregate if absent. Idempotent: an
// existing aggregate is returned unchanged.
func (s *AggregateService) CreateAggregate(ctx context.Context, userID string) (agg *aggregate.UserAggregate, err error) {
	defer s.observe("createAggregate", s.now(), &err)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", aggregate.ErrValidation)
	}
	agg, err = s.repo.CreateAggregate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate for user %s: %w", userID, err)
	}
	return agg, nil
}

// GetAggregate returns the full aggregate for one user.
func (s *AggregateService) GetAggregate(ctx context.Context, userID string) (agg *aggregate.UserAggregate, err error) {
	defer s.observe("getAggregate", s.now(), &err)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", aggregate.ErrValidation)
	}
	return s.repo.GetAggregate(ctx, userID)
}

// AddAlarmProfile inserts a new profile. The single-active invariant is not
// enforced at insertion time; callers typically activate right after adding.
func (s *AggregateService) AddAlarmProfile(ctx context.Context, userID string, p *aggregate.AlarmProfile) (out *aggregate.AlarmProfile, err error) {
	defer s.observe("addAlarmProfile", s.now(), &err)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", aggregate.ErrValidation)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	agg, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if agg.Metadata.ProfileCount >= s.maxProfiles {
		return nil, fmt.Errorf("%w: user already holds the maximum of %d profiles", aggregate.ErrValidation, s.maxProfiles)
	}

	p.UserID = userID
	if err := s.repo.AddProfile(ctx, p); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "profile_id": p.ProfileID}).Info("Alarm profile added")
	return p, nil
}

// ActivateProfile makes exactly one profile active and points the schedule at
// it, atomically. After commit the aggregate is re-read and the invariant
// verified; a violation is surfaced as ErrDatabase, never ignored.
func (s *AggregateService) ActivateProfile(ctx context.Context, userID, profileID string) (err error) {
	defer s.observe("activateProfile", s.now(), &err)
	if userID == "" || profileID == "" {
		return fmt.Errorf("%w: user id and profile id are required", aggregate.ErrValidation)
	}

	agg, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return err
	}
	if agg.Profile(profileID) == nil {
		return fmt.Errorf("%w: %s", aggregate.ErrProfileNotFound, profileID)
	}

	if err := s.repo.ActivateProfile(ctx, userID, profileID); err != nil {
		return err
	}

	// Post-commit verification of the single-active invariant.
	verify, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to re-read aggregate after activation: %w", err)
	}
	active := verify.ActiveProfile()
	if active == nil || active.ProfileID != profileID ||
		!verify.Schedule.ActiveProfileID.Valid || verify.Schedule.ActiveProfileID.String != profileID {
		s.logger.WithFields(logrus.Fields{
			"user_id":    userID,
			"profile_id": profileID,
		}).Error("Activation committed but the active-profile invariant does not hold")
		return fmt.Errorf("%w: activation of profile %s did not take effect", aggregate.ErrDatabase, profileID)
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "profile_id": profileID}).Info("Alarm profile activated")
	return nil
}

// UpdateAlarmProfile applies a partial update. An update carrying
// isActive=true delegates to ActivateProfile before the remaining fields are
// applied; isActive=false is rejected, since deactivation only happens as a
// side effect of activating a sibling or deleting the active profile.
func (s *AggregateService) UpdateAlarmProfile(ctx context.Context, userID, profileID string, u aggregate.ProfileUpdate) (out *aggregate.AlarmProfile, err error) {
	defer s.observe("updateAlarmProfile", s.now(), &err)
	if userID == "" || profileID == "" {
		return nil, fmt.Errorf("%w: user id and profile id are required", aggregate.ErrValidation)
	}
	if u.Empty() {
		return nil, fmt.Errorf("%w: update contains no fields", aggregate.ErrValidation)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	if u.IsActive != nil {
		if !*u.IsActive {
			return nil, fmt.Errorf("%w: profiles cannot be deactivated directly; activate another profile instead", aggregate.ErrValidation)
		}
		if err := s.ActivateProfile(ctx, userID, profileID); err != nil {
			return nil, err
		}
		u.IsActive = nil
	}

	if !u.Empty() {
		if err := s.repo.UpdateProfile(ctx, userID, profileID, u); err != nil {
			return nil, err
		}
	}

	agg, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := agg.Profile(profileID)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", aggregate.ErrProfileNotFound, profileID)
	}
	return p, nil
}

// DeleteAlarmProfile removes a profile. Deleting the active profile clears
// the schedule's active profile reference; no sibling is auto-activated.
func (s *AggregateService) DeleteAlarmProfile(ctx context.Context, userID, profileID string) (err error) {
	defer s.observe("deleteAlarmProfile", s.now(), &err)
	if userID == "" || profileID == "" {
		return fmt.Errorf("%w: user id and profile id are required", aggregate.ErrValidation)
	}
	if err := s.repo.DeleteProfile(ctx, userID, profileID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "profile_id": profileID}).Info("Alarm profile deleted")
	return nil
}

// UpdateSchedule applies a partial schedule update and recomputes the
// next-fire timestamps for both slots from the merged state.
func (s *AggregateService) UpdateSchedule(ctx context.Context, userID string, u aggregate.ScheduleUpdate) (out *aggregate.FCMSchedule, err error) {
	defer s.observe("updateSchedule", s.now(), &err)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", aggregate.ErrValidation)
	}
	if u.Empty() {
		return nil, fmt.Errorf("%w: update contains no fields", aggregate.ErrValidation)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	agg, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Merge the update into a copy to compute next-fire instants.
	merged := *agg.Schedule
	if u.MorningTime != nil {
		merged.MorningTime = *u.MorningTime
	}
	if u.EveningTime != nil {
		merged.EveningTime = *u.EveningTime
	}
	if u.Timezone != nil {
		merged.Timezone = *u.Timezone
	}
	if u.IsEnabled != nil {
		merged.IsEnabled = *u.IsEnabled
	}

	now := s.now()
	var nextMorning, nextEvening sql.NullTime
	if at, err := merged.NextFire(aggregate.SlotMorning, now); err == nil {
		nextMorning = sql.NullTime{Time: at, Valid: true}
	}
	if at, err := merged.NextFire(aggregate.SlotEvening, now); err == nil {
		nextEvening = sql.NullTime{Time: at, Valid: true}
	}

	if err := s.repo.UpdateSchedule(ctx, userID, u, nextMorning, nextEvening); err != nil {
		return nil, err
	}

	agg, err = s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return agg.Schedule, nil
}

// AppendNotificationLog appends one delivery log entry, filling in the id,
// status and creation time when absent. The store evicts the oldest entries
// past the cap.
func (s *AggregateService) AppendNotificationLog(ctx context.Context, userID string, l *aggregate.NotificationLog) (out *aggregate.NotificationLog, err error) {
	defer s.observe("appendNotificationLog", s.now(), &err)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", aggregate.ErrValidation)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetAggregate(ctx, userID); err != nil {
		return nil, err
	}

	l.UserID = userID
	if l.NotificationID == "" {
		l.NotificationID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = aggregate.NotificationScheduled
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	if err := s.repo.AppendNotificationLog(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateNotificationLogStatus transitions one log entry's delivery status,
// stamping the timestamp that matches the new status.
func (s *AggregateService) UpdateNotificationLogStatus(ctx context.Context, userID, notificationID string, status aggregate.NotificationStatus) (err error) {
	defer s.observe("updateNotificationLogStatus", s.now(), &err)
	if userID == "" || notificationID == "" {
		return fmt.Errorf("%w: user id and notification id are required", aggregate.ErrValidation)
	}
	if !aggregate.ValidNotificationStatus(status) {
		return fmt.Errorf("%w: unknown notification status %q", aggregate.ErrValidation, status)
	}
	return s.repo.UpdateNotificationLogStatus(ctx, userID, notificationID, status, s.now())
}

// AppendSyncHealthLog scores and records one device health report. When the
// user has an active profile, the score and a success/failure status are
// mirrored onto that profile's sync-tracking fields.
func (s *AggregateService) AppendSyncHealthLog(ctx context.Context, userID string, l *aggregate.SyncHealthLog) (report *HealthReport, err error) {
	defer s.observe("appendSyncHealthLog", s.now(), &err)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", aggregate.ErrValidation)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	agg, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}

	m := health.Metrics{
		WorkManagerStatus:   l.WorkManagerStatus,
		FCMStatus:           l.FCMStatus,
		MissedAlarmsCount:   l.MissedAlarmsCount,
		DozeMode:            l.DozeMode,
		NetworkConnectivity: l.NetworkConnectivity,
	}
	score := health.Score(m)

	l.UserID = userID
	l.HealthScore = score
	if l.ReportedAt.IsZero() {
		l.ReportedAt = s.now()
	}
	if err := s.repo.AppendSyncHealthLog(ctx, l); err != nil {
		return nil, err
	}

	if active := agg.ActiveProfile(); active != nil {
		status := "failure"
		if score >= health.SuccessThreshold {
			status = "success"
		}
		mirror := aggregate.SyncMirror{
			Score:       score,
			Status:      status,
			Source:      l.DeviceID,
			SyncedAt:    l.ReportedAt,
			NextCheckAt: l.ReportedAt.Add(resyncCheckInterval),
		}
		if err := s.repo.MirrorSyncOntoProfile(ctx, userID, active.ProfileID, mirror); err != nil {
			return nil, fmt.Errorf("failed to mirror sync state onto profile %s: %w", active.ProfileID, err)
		}
	}

	return &HealthReport{
		Log:             l,
		Score:           score,
		Status:          health.StatusLabel(score),
		Recommendations: health.Recommendations(m),
	}, nil
}

// OverallHealth returns the coarse health bucket for the aggregate view,
// computed from the most recent sync-health log only. Users with no reports
// yet are "unknown".
func (s *AggregateService) OverallHealth(ctx context.Context, userID string) (bucket string, err error) {
	defer s.observe("overallHealth", s.now(), &err)
	agg, err := s.repo.GetAggregate(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(agg.SyncHealthLogs) == 0 {
		return "unknown", nil
	}
	return health.OverallBucket(agg.SyncHealthLogs[0].HealthScore), nil
}
