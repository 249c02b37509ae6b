package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"alarmkeeper/internal/domain/aggregate"
	"alarmkeeper/internal/infra/metrics"
)

// recordingDispatcher captures dispatches and can be told to fail per user.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{fail: make(map[string]bool)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, userID string, slot aggregate.Slot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[userID] {
		return errors.New("push gateway unavailable")
	}
	d.calls = append(d.calls, fmt.Sprintf("%s/%s", userID, slot))
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func newMatcherFixture(t *testing.T) (*MatcherService, *AggregateService, *memoryRepository, *recordingDispatcher) {
	t.Helper()
	repo := newMemoryRepository()
	svc := NewAggregateService(repo, testLogger(), metrics.Nop{}, 10)
	d := newRecordingDispatcher()
	m := NewMatcherService(repo, d, testLogger(), metrics.Nop{})
	return m, svc, repo, d
}

// setupScheduledUser creates a user with an active profile and a New York
// schedule (morning 08:00, evening 20:00).
func setupScheduledUser(t *testing.T, svc *AggregateService, userID string) {
	t.Helper()
	ctx := context.Background()
	mustCreateUser(t, svc, userID)
	mustAddProfile(t, svc, userID, "p-1")
	if err := svc.ActivateProfile(ctx, userID, "p-1"); err != nil {
		t.Fatalf("ActivateProfile: %v", err)
	}
	tz := "America/New_York"
	if _, err := svc.UpdateSchedule(ctx, userID, aggregate.ScheduleUpdate{Timezone: &tz}); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
}

// 08:00 New York on Jan 15 2026 (EST) is 13:00 UTC.
var nyMorningTick = time.Date(2026, time.January, 15, 13, 0, 0, 0, time.UTC)

func TestUsersDueForNotification(t *testing.T) {
	m, svc, _, _ := newMatcherFixture(t)
	ctx := context.Background()
	setupScheduledUser(t, svc, "user-ny")

	// A Berlin user with the same wall-clock times is not due at this instant.
	setupScheduledUser(t, svc, "user-berlin")
	tz := "Europe/Berlin"
	if _, err := svc.UpdateSchedule(ctx, "user-berlin", aggregate.ScheduleUpdate{Timezone: &tz}); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	due, err := m.UsersDueForNotification(ctx, aggregate.SlotMorning, nyMorningTick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].UserID != "user-ny" {
		t.Fatalf("want only user-ny due, got %d: %+v", len(due), due)
	}

	if _, err := m.UsersDueForNotification(ctx, "midnight", nyMorningTick); !errors.Is(err, aggregate.ErrValidation) {
		t.Fatalf("unknown slot should be ErrValidation, got %v", err)
	}
}

func TestUsersDueForNotification_ExcludesDisabledAndInactive(t *testing.T) {
	m, svc, _, _ := newMatcherFixture(t)
	ctx := context.Background()

	// Enabled but the active profile was deleted: the reference is cleared.
	setupScheduledUser(t, svc, "user-deleted")
	if err := svc.DeleteAlarmProfile(ctx, "user-deleted", "p-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Explicitly disabled schedule.
	setupScheduledUser(t, svc, "user-off")
	off := false
	if _, err := svc.UpdateSchedule(ctx, "user-off", aggregate.ScheduleUpdate{IsEnabled: &off}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, err := m.UsersDueForNotification(ctx, aggregate.SlotMorning, nyMorningTick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("nobody should be due, got %+v", due)
	}
}

func TestUsersDueForNotification_SkipsUnevaluableSchedules(t *testing.T) {
	m, svc, repo, _ := newMatcherFixture(t)
	ctx := context.Background()
	setupScheduledUser(t, svc, "user-ok")
	setupScheduledUser(t, svc, "user-broken")

	// Corrupt the stored timezone behind the service's validation.
	bad := "Atlantis/Central"
	if err := repo.UpdateSchedule(ctx, "user-broken", aggregate.ScheduleUpdate{Timezone: &bad}, nullTime(nyMorningTick), nullTime(nyMorningTick)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, err := m.UsersDueForNotification(ctx, aggregate.SlotMorning, nyMorningTick)
	if err != nil {
		t.Fatalf("a broken schedule must not sink the scan: %v", err)
	}
	if len(due) != 1 || due[0].UserID != "user-ok" {
		t.Fatalf("want only user-ok due, got %+v", due)
	}
}

func TestRunSlotPass_DispatchesAndDeduplicates(t *testing.T) {
	m, svc, _, d := newMatcherFixture(t)
	ctx := context.Background()
	setupScheduledUser(t, svc, "user-ny")

	if err := m.RunSlotPass(ctx, aggregate.SlotMorning, nyMorningTick); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := d.dispatched(); len(calls) != 1 || calls[0] != "user-ny/morning" {
		t.Fatalf("want one morning dispatch, got %v", calls)
	}

	agg, err := svc.GetAggregate(ctx, "user-ny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !agg.Schedule.LastMorningSentAt.Valid || !agg.Schedule.LastSentAt.Valid {
		t.Fatal("last-sent timestamps should be stamped after a dispatch")
	}
	if len(agg.NotificationLogs) != 1 {
		t.Fatalf("want one delivery log entry, got %d", len(agg.NotificationLogs))
	}
	l := agg.NotificationLogs[0]
	if l.Type != "fcm_morning" || l.Status != aggregate.NotificationSent || !l.SentAt.Valid {
		t.Fatalf("delivery log entry wrong: %+v", l)
	}

	// A second pass in the same minute must not dispatch again.
	if err := m.RunSlotPass(ctx, aggregate.SlotMorning, nyMorningTick.Add(30*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := d.dispatched(); len(calls) != 1 {
		t.Fatalf("same-day duplicate dispatch: %v", calls)
	}

	// The next day's matching minute fires again.
	if err := m.RunSlotPass(ctx, aggregate.SlotMorning, nyMorningTick.Add(24*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := d.dispatched(); len(calls) != 2 {
		t.Fatalf("want a second dispatch the next day, got %v", calls)
	}
}

func TestRunSlotPass_DispatchFailureLeavesSlotUnsent(t *testing.T) {
	m, svc, _, d := newMatcherFixture(t)
	ctx := context.Background()
	setupScheduledUser(t, svc, "user-ny")
	d.fail["user-ny"] = true

	if err := m.RunSlotPass(ctx, aggregate.SlotMorning, nyMorningTick); err != nil {
		t.Fatalf("a failed dispatch must not fail the pass: %v", err)
	}
	agg, _ := svc.GetAggregate(ctx, "user-ny")
	if agg.Schedule.LastMorningSentAt.Valid {
		t.Fatal("failed dispatch must not mark the slot sent")
	}
	if len(agg.NotificationLogs) != 0 {
		t.Fatal("failed dispatch must not append a delivery log entry")
	}

	// The user stays due, so the next pass retries.
	d.fail["user-ny"] = false
	if err := m.RunSlotPass(ctx, aggregate.SlotMorning, nyMorningTick.Add(20*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := d.dispatched(); len(calls) != 1 {
		t.Fatalf("want a retry dispatch, got %v", calls)
	}
}

func TestMarkNotificationSent_Validation(t *testing.T) {
	m, svc, _, _ := newMatcherFixture(t)
	ctx := context.Background()
	setupScheduledUser(t, svc, "user-ny")

	if err := m.MarkNotificationSent(ctx, "user-ny", "noon", time.Now()); !errors.Is(err, aggregate.ErrValidation) {
		t.Fatalf("unknown slot should be ErrValidation, got %v", err)
	}
	if err := m.MarkNotificationSent(ctx, "ghost", aggregate.SlotMorning, time.Now()); !errors.Is(err, aggregate.ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
}

func TestUsersNeedingResync(t *testing.T) {
	m, svc, _, _ := newMatcherFixture(t)
	ctx := context.Background()

	// Unhealthy report: score 50 mirrors a failure status.
	setupScheduledUser(t, svc, "user-sick")
	if _, err := svc.AppendSyncHealthLog(ctx, "user-sick", &aggregate.SyncHealthLog{
		DeviceID:            "device-1",
		ReportedAt:          time.Now(),
		WorkManagerStatus:   "failed",
		FCMStatus:           "not_received",
		MissedAlarmsCount:   1,
		DozeMode:            true,
		NetworkConnectivity: "none",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Healthy report with a next check a day out: not a candidate.
	setupScheduledUser(t, svc, "user-fine")
	if _, err := svc.AppendSyncHealthLog(ctx, "user-fine", &aggregate.SyncHealthLog{
		DeviceID:            "device-2",
		ReportedAt:          time.Now(),
		WorkManagerStatus:   "ok",
		FCMStatus:           "received",
		NetworkConnectivity: "wifi",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	candidates, err := m.UsersNeedingResync(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].UserID != "user-sick" {
		t.Fatalf("want only user-sick flagged, got %+v", candidates)
	}
	if candidates[0].ProfileID != "p-1" {
		t.Fatalf("candidate should name the active profile, got %s", candidates[0].ProfileID)
	}

	if _, err := m.UsersNeedingResync(ctx, 0); !errors.Is(err, aggregate.ErrValidation) {
		t.Fatalf("limit below 1 should be ErrValidation, got %v", err)
	}
}
