package scheduler

import (
	"context"
	"time"

	"alarmkeeper/internal/app"
	"alarmkeeper/internal/domain/aggregate"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// NotificationScheduler drives the periodic work: the per-minute matcher tick
// for both slots and the resync sweep. Exact-minute matching means a missed
// tick skips users for the day, so the matcher spec must fire every minute.
type NotificationScheduler struct {
	cronEngine       *cron.Cron
	matcher          *app.MatcherService
	logger           *logrus.Entry
	matcherCronSpec  string
	resyncCronSpec   string
	resyncBatchLimit int
}

func NewNotificationScheduler(
	matcher *app.MatcherService,
	logger *logrus.Entry,
	matcherCronSpec string,
	resyncCronSpec string,
	resyncBatchLimit int,
) *NotificationScheduler {
	return &NotificationScheduler{
		// Slot times are converted per-user; the cron itself runs in UTC so
		// ticks line up with the UTC minute the matcher compares against.
		cronEngine:       cron.New(cron.WithLocation(time.UTC)),
		matcher:          matcher,
		logger:           logger,
		matcherCronSpec:  matcherCronSpec,
		resyncCronSpec:   resyncCronSpec,
		resyncBatchLimit: resyncBatchLimit,
	}
}

func (s *NotificationScheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.matcherCronSpec, func() {
		now := time.Now().UTC()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		for _, slot := range []aggregate.Slot{aggregate.SlotMorning, aggregate.SlotEvening} {
			if err := s.matcher.RunSlotPass(ctx, slot, now); err != nil {
				s.logger.WithField("slot", slot).Errorf("Slot pass failed: %v", err)
			}
		}
	})
	if err != nil {
		return err
	}

	_, err = s.cronEngine.AddFunc(s.resyncCronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		candidates, err := s.matcher.UsersNeedingResync(ctx, s.resyncBatchLimit)
		if err != nil {
			s.logger.Errorf("Resync sweep failed: %v", err)
			return
		}
		for _, c := range candidates {
			s.logger.WithFields(logrus.Fields{
				"user_id":    c.UserID,
				"profile_id": c.ProfileID,
			}).Info("Profile flagged for device resync")
		}
	})
	if err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.Info("Notification scheduler started")
	return nil
}

func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	ctx := s.cronEngine.Stop()
	<-ctx.Done() // wait for running jobs
	s.logger.Info("Notification scheduler stopped")
}
