// internal/app/dispatcher.go
package app

import (
	"context"
	"database/sql"
	"time"

	"alarmkeeper/internal/domain/aggregate"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogDispatcher is a delivery stand-in that only logs what would be sent.
// The real push transport lives outside this service and plugs in through
// the aggregate.Dispatcher interface.
type LogDispatcher struct {
	logger *logrus.Entry
}

func NewLogDispatcher(logger *logrus.Entry) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, userID string, slot aggregate.Slot) error {
	d.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"slot":    slot,
	}).Info("Would dispatch push notification")
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func newNotificationID() string {
	return uuid.NewString()
}
