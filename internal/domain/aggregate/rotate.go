// internal/domain/aggregate/rotate.go
package aggregate

import "sort"

// Capacity bounds for the two per-user rolling logs. Once a log exceeds its
// bound the oldest entries are evicted.
const (
	NotificationLogCap = 100
	SyncHealthLogCap   = 50
)

// RotateNotificationLogs returns the newest NotificationLogCap entries,
// ordered newest first by creation time. Rotation is a pure function of the
// list contents; it never consults the wall clock.
func RotateNotificationLogs(logs []*NotificationLog) []*NotificationLog {
	out := make([]*NotificationLog, len(logs))
	copy(out, logs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > NotificationLogCap {
		out = out[:NotificationLogCap]
	}
	return out
}

// RotateSyncHealthLogs returns the newest SyncHealthLogCap entries, ordered
// newest first by report time.
func RotateSyncHealthLogs(logs []*SyncHealthLog) []*SyncHealthLog {
	out := make([]*SyncHealthLog, len(logs))
	copy(out, logs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})
	if len(out) > SyncHealthLogCap {
		out = out[:SyncHealthLogCap]
	}
	return out
}
