// internal/domain/aggregate/logs.go
package aggregate

import (
	"database/sql"
	"fmt"
	"time"
)

// NotificationStatus is the delivery state of one push notification.
type NotificationStatus string

const (
	NotificationScheduled NotificationStatus = "SCHEDULED"
	NotificationSent      NotificationStatus = "SENT"
	NotificationDelivered NotificationStatus = "DELIVERED"
	NotificationOpened    NotificationStatus = "OPENED"
	NotificationFailed    NotificationStatus = "FAILED"
)

// ValidNotificationStatus reports whether s is a known delivery state.
func ValidNotificationStatus(s NotificationStatus) bool {
	switch s {
	case NotificationScheduled, NotificationSent, NotificationDelivered, NotificationOpened, NotificationFailed:
		return true
	}
	return false
}

// NotificationLog is one entry of the per-user push delivery log. The
// notification id is unique within the user. The log is append-only from the
// caller's perspective; the store evicts the oldest entries past the cap.
type NotificationLog struct {
	UserID         string
	NotificationID string
	Type           string
	ScheduledAt    sql.NullTime
	SentAt         sql.NullTime
	DeliveredAt    sql.NullTime
	OpenedAt       sql.NullTime
	FailedAt       sql.NullTime
	Status         NotificationStatus
	RetryCount     int
	Title          string
	Body           string
	DeviceToken    sql.NullString
	CreatedAt      time.Time
}

// Validate checks the caller-supplied fields of a log entry.
func (l *NotificationLog) Validate() error {
	if l.Type == "" {
		return fmt.Errorf("%w: notification type is required", ErrValidation)
	}
	if l.Status != "" && !ValidNotificationStatus(l.Status) {
		return fmt.Errorf("%w: unknown notification status %q", ErrValidation, l.Status)
	}
	return nil
}

// SyncHealthLog is one entry of the per-user device-sync-health log, reported
// by a client device and scored server-side.
type SyncHealthLog struct {
	ID                 int64
	UserID             string
	DeviceID           string
	ReportedAt         time.Time
	WorkManagerStatus  string
	FCMStatus          string
	MissedAlarmsCount  int
	MissedAlarmsReason sql.NullString
	DozeMode           bool
	BatteryLevel       sql.NullInt32
	NetworkConnectivity string
	HealthScore        int
	AppVersion         sql.NullString
	OSVersion          sql.NullString
	Notes              sql.NullString
}

// Validate checks the caller-supplied fields of a health report.
func (l *SyncHealthLog) Validate() error {
	if l.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if l.MissedAlarmsCount < 0 {
		return fmt.Errorf("%w: missed alarms count must not be negative", ErrValidation)
	}
	return nil
}
