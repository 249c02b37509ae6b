// internal/domain/health/score.go
package health

import "fmt"

// Metrics are the raw device/sync signals reported by a client device.
type Metrics struct {
	WorkManagerStatus   string // "ok", "failed", "timeout", "cancelled"
	FCMStatus           string // "received", "failed", "not_received", "pending"
	MissedAlarmsCount   int
	DozeMode            bool
	NetworkConnectivity string // "wifi", "cellular", "none"
}

// SuccessThreshold is the score at or above which a health report counts as a
// successful sync when mirrored onto the active profile.
const SuccessThreshold = 70

const missedAlarmsPenaltyCap = 30

// Score maps raw metrics to a bounded health score. It starts at 100 and
// applies fixed deductions per failing signal; the result is clamped to
// [0,100]. Identical input always yields identical output.
func Score(m Metrics) int {
	score := 100

	switch m.WorkManagerStatus {
	case "failed":
		score -= 15
	case "timeout":
		score -= 10
	case "cancelled":
		score -= 5
	}

	switch m.FCMStatus {
	case "failed":
		score -= 20
	case "not_received":
		score -= 15
	case "pending":
		score -= 5
	}

	if m.MissedAlarmsCount > 0 {
		penalty := m.MissedAlarmsCount * 10
		if penalty > missedAlarmsPenaltyCap {
			penalty = missedAlarmsPenaltyCap
		}
		score -= penalty
	}

	if m.DozeMode {
		score -= 5
	}

	switch m.NetworkConnectivity {
	case "none":
		score -= 5
	case "cellular":
		score -= 2
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// StatusLabel maps a score to the fine-grained five-level status shown on
// individual health reports.
func StatusLabel(score int) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 75:
		return "good"
	case score >= 60:
		return "fair"
	case score >= 40:
		return "poor"
	default:
		return "critical"
	}
}

// OverallBucket maps a score to the coarser scale used for the aggregate
// "overall health" view, which is computed from the most recent report only.
// The thresholds intentionally differ from StatusLabel; the two scales are
// surfaced independently and must not be unified.
func OverallBucket(score int) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	case score >= 20:
		return "poor"
	default:
		return "critical"
	}
}

// Recommendations returns human-readable follow-ups keyed off which
// deductions fired. Order is deterministic: scheduler issues first, then push
// issues, then missed alarms, then doze mode.
func Recommendations(m Metrics) []string {
	var recs []string

	switch m.WorkManagerStatus {
	case "failed":
		recs = append(recs, "Background scheduler is failing; ask the user to disable battery optimization for the app.")
	case "timeout":
		recs = append(recs, "Background scheduler jobs are timing out; check for long-running work on the device.")
	case "cancelled":
		recs = append(recs, "Background scheduler jobs are being cancelled; the OS may be restricting the app.")
	}

	switch m.FCMStatus {
	case "failed":
		recs = append(recs, "Push delivery is failing; verify the device token is still valid.")
	case "not_received":
		recs = append(recs, "Pushes are not reaching the device; check Play Services and network reachability.")
	case "pending":
		recs = append(recs, "Push receipt is still pending; a follow-up report should confirm delivery.")
	}

	if m.MissedAlarmsCount > 0 {
		recs = append(recs, fmt.Sprintf("%d alarm(s) were missed since the last report; consider a resync.", m.MissedAlarmsCount))
	}

	if m.DozeMode {
		recs = append(recs, "Device is in doze/low-power mode; alarms may be deferred by the OS.")
	}

	return recs
}
