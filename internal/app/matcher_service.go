// internal/app/matcher_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"alarmkeeper/internal/domain/aggregate"
	"alarmkeeper/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// MatcherService decides which users are due a push notification right now
// and which active profiles need a device resync. Slot matching is
// exact-minute: the configured wall-clock time must equal the current UTC
// minute after timezone conversion, so the matcher must run at least once per
// minute or users are skipped for the whole day. It is a stateless scan and
// may run concurrently with aggregate mutations; a user whose schedule
// changes mid-scan is simply picked up on this tick or the next.
type MatcherService struct {
	repo       aggregate.Repository
	dispatcher aggregate.Dispatcher
	logger     *logrus.Entry
	metrics    metrics.Recorder
}

func NewMatcherService(repo aggregate.Repository, d aggregate.Dispatcher, logger *logrus.Entry, rec metrics.Recorder) *MatcherService {
	return &MatcherService{
		repo:       repo,
		dispatcher: d,
		logger:     logger,
		metrics:    rec,
	}
}

// UsersDueForNotification returns the schedules of every user due the given
// slot at now: enabled schedule, an active profile, an exact wall-clock
// match in the user's timezone, and not already notified for this slot on
// the same local calendar day.
func (s *MatcherService) UsersDueForNotification(ctx context.Context, slot aggregate.Slot, now time.Time) ([]*aggregate.FCMSchedule, error) {
	if !aggregate.ValidSlot(slot) {
		return nil, fmt.Errorf("%w: unknown slot %q", aggregate.ErrValidation, slot)
	}

	candidates, err := s.repo.ListScheduleCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule candidates: %w", err)
	}

	due := make([]*aggregate.FCMSchedule, 0)
	for _, sched := range candidates {
		ok, err := aggregate.DueForSlot(sched, slot, now)
		if err != nil {
			// A schedule with a broken time or timezone must not sink the
			// whole scan; skip the user and keep going.
			s.logger.WithFields(logrus.Fields{
				"user_id": sched.UserID,
				"slot":    slot,
			}).Warnf("Skipping unevaluable schedule: %v", err)
			continue
		}
		if ok {
			s.metrics.RecordSlotMatch(string(slot))
			due = append(due, sched)
		} else {
			s.metrics.RecordSlotSkip(string(slot))
		}
	}
	return due, nil
}

// RunSlotPass evaluates one slot and hands every due user to the dispatcher.
// The slot is marked sent, and a delivery log entry appended, only after the
// dispatcher accepts the notification.
func (s *MatcherService) RunSlotPass(ctx context.Context, slot aggregate.Slot, now time.Time) error {
	due, err := s.UsersDueForNotification(ctx, slot, now)
	if err != nil {
		return err
	}
	for _, sched := range due {
		if err := s.dispatcher.Dispatch(ctx, sched.UserID, slot); err != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id": sched.UserID,
				"slot":    slot,
			}).Errorf("Dispatch failed: %v", err)
			continue
		}
		if err := s.MarkNotificationSent(ctx, sched.UserID, slot, now); err != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id": sched.UserID,
				"slot":    slot,
			}).Errorf("Failed to mark slot sent: %v", err)
		}
	}
	if len(due) > 0 {
		s.logger.WithFields(logrus.Fields{"slot": slot, "count": len(due)}).Info("Slot pass dispatched notifications")
	}
	return nil
}

// MarkNotificationSent records a successful dispatch: stamps the combined and
// slot-specific last-sent timestamps and appends a delivery log entry.
func (s *MatcherService) MarkNotificationSent(ctx context.Context, userID string, slot aggregate.Slot, at time.Time) error {
	if !aggregate.ValidSlot(slot) {
		return fmt.Errorf("%w: unknown slot %q", aggregate.ErrValidation, slot)
	}
	if err := s.repo.MarkSlotSent(ctx, userID, slot, at); err != nil {
		return err
	}
	l := &aggregate.NotificationLog{
		UserID:    userID,
		Type:      "fcm_" + string(slot),
		Status:    aggregate.NotificationSent,
		SentAt:    nullTime(at),
		CreatedAt: at,
	}
	l.NotificationID = newNotificationID()
	if err := s.repo.AppendNotificationLog(ctx, l); err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}

// UsersNeedingResync returns up to limit active profiles whose device sync
// looks unhealthy: a failed last sync, a stale next-check time, or a low
// health score.
func (s *MatcherService) UsersNeedingResync(ctx context.Context, limit int) ([]*aggregate.ResyncCandidate, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1", aggregate.ErrValidation)
	}
	candidates, err := s.repo.ListResyncCandidates(ctx, limit, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list resync candidates: %w", err)
	}
	s.metrics.RecordResyncCandidates(len(candidates))
	return candidates, nil
}
