// internal/infra/database/postgres_aggregate_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alarmkeeper/internal/domain/aggregate"

	"github.com/lib/pq" // For pq.Array, error codes and driver registration
)

// Postgres error codes this repository cares about.
const (
	pqSerializationFailure = "40001"
	pqUniqueViolation      = "23505"
)

// PostgresAggregateRepository implements aggregate.Repository on top of the
// relational schema in migrations/. Every mutating method refreshes the
// aggregate's derived metadata inside the same transaction as the mutation.
type PostgresAggregateRepository struct {
	db *sql.DB
}

func NewPostgresAggregateRepository(db *sql.DB) *PostgresAggregateRepository {
	return &PostgresAggregateRepository{db: db}
}

// refreshMetadata recomputes the derived counters of one aggregate from the
// child tables. Must run inside the same transaction as the mutation it
// follows, so metadata can never drift from the authoritative rows.
const refreshMetadataQuery = `
	UPDATE user_aggregates ua SET
		profile_count          = (SELECT COUNT(*) FROM alarm_profiles p WHERE p.user_id = ua.user_id),
		active_profile_count   = (SELECT COUNT(*) FROM alarm_profiles p WHERE p.user_id = ua.user_id AND p.is_active),
		notification_log_count = (SELECT COUNT(*) FROM notification_logs n WHERE n.user_id = ua.user_id),
		sync_health_log_count  = (SELECT COUNT(*) FROM sync_health_logs s WHERE s.user_id = ua.user_id),
		last_notification_at   = (SELECT MAX(n.created_at) FROM notification_logs n WHERE n.user_id = ua.user_id),
		last_sync_report_at    = (SELECT MAX(s.reported_at) FROM sync_health_logs s WHERE s.user_id = ua.user_id),
		updated_at             = NOW()
	WHERE ua.user_id = $1`

func refreshMetadata(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx, refreshMetadataQuery, userID); err != nil {
		return fmt.Errorf("error refreshing aggregate metadata: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *PostgresAggregateRepository) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

// mapTxError translates serialization failures into the retryable
// concurrency error.
func mapTxError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqSerializationFailure {
		return fmt.Errorf("%w: %v", aggregate.ErrConcurrency, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// --- Aggregate root ---

func (r *PostgresAggregateRepository) CreateAggregate(ctx context.Context, userID string) (*aggregate.UserAggregate, error) {
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_aggregates (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("error creating user aggregate: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fcm_schedules (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("error creating fcm schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetAggregate(ctx, userID)
}

func (r *PostgresAggregateRepository) GetAggregate(ctx context.Context, userID string) (*aggregate.UserAggregate, error) {
	agg := &aggregate.UserAggregate{UserID: userID}

	query := `SELECT profile_count, active_profile_count, notification_log_count, sync_health_log_count,
                     last_notification_at, last_sync_report_at, created_at, updated_at
              FROM user_aggregates WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&agg.Metadata.ProfileCount, &agg.Metadata.ActiveProfileCount,
		&agg.Metadata.NotificationLogCount, &agg.Metadata.SyncHealthLogCount,
		&agg.Metadata.LastNotificationAt, &agg.Metadata.LastSyncReportAt,
		&agg.CreatedAt, &agg.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, aggregate.ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user aggregate: %w", err)
	}

	if agg.Profiles, err = r.listProfiles(ctx, userID); err != nil {
		return nil, err
	}
	if agg.Schedule, err = r.getSchedule(ctx, userID); err != nil {
		return nil, err
	}
	if agg.NotificationLogs, err = r.listNotificationLogs(ctx, userID); err != nil {
		return nil, err
	}
	if agg.SyncHealthLogs, err = r.listSyncHealthLogs(ctx, userID); err != nil {
		return nil, err
	}
	return agg, nil
}

// --- Alarm profiles ---

const profileColumns = `user_id, profile_id, content_url, alarms_per_day, weekdays, start_time, end_time,
	fixed_time, explicit_dates, is_active, last_synced_at, last_sync_source, last_sync_status,
	health_score, next_check_at, device_statuses, created_at, updated_at`

// explicitDateLayout is the wire form of explicit alarm dates in the
// explicit_dates column.
const explicitDateLayout = "2006-01-02"

func encodeExplicitDates(dates []time.Time) pq.StringArray {
	out := make(pq.StringArray, len(dates))
	for i, d := range dates {
		out[i] = d.UTC().Format(explicitDateLayout)
	}
	return out
}

func decodeExplicitDates(raw pq.StringArray) ([]time.Time, error) {
	out := make([]time.Time, len(raw))
	for i, s := range raw {
		d, err := time.Parse(explicitDateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("error parsing explicit date %q: %w", s, err)
		}
		out[i] = d
	}
	return out, nil
}

func scanProfile(row interface{ Scan(...any) error }) (*aggregate.AlarmProfile, error) {
	p := &aggregate.AlarmProfile{}
	var weekdays pq.Int64Array
	var dates pq.StringArray
	var deviceStatuses []byte
	err := row.Scan(
		&p.UserID, &p.ProfileID, &p.ContentURL, &p.AlarmsPerDay, &weekdays, &p.StartTime, &p.EndTime,
		&p.FixedTime, &dates, &p.IsActive, &p.LastSyncedAt, &p.LastSyncSource, &p.LastSyncStatus,
		&p.HealthScore, &p.NextCheckAt, &deviceStatuses, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Weekdays = make([]int, len(weekdays))
	for i, d := range weekdays {
		p.Weekdays[i] = int(d)
	}
	if p.ExplicitDates, err = decodeExplicitDates(dates); err != nil {
		return nil, err
	}
	if len(deviceStatuses) > 0 {
		if err := json.Unmarshal(deviceStatuses, &p.DeviceStatuses); err != nil {
			return nil, fmt.Errorf("error decoding device statuses: %w", err)
		}
	}
	return p, nil
}

func (r *PostgresAggregateRepository) listProfiles(ctx context.Context, userID string) ([]*aggregate.AlarmProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM alarm_profiles WHERE user_id = $1 ORDER BY created_at, profile_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing alarm profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*aggregate.AlarmProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alarm profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alarm profile rows: %w", err)
	}
	return profiles, nil
}

func (r *PostgresAggregateRepository) AddProfile(ctx context.Context, p *aggregate.AlarmProfile) error {
	weekdays := make(pq.Int64Array, len(p.Weekdays))
	for i, d := range p.Weekdays {
		weekdays[i] = int64(d)
	}
	deviceStatuses, err := json.Marshal(p.DeviceStatuses)
	if err != nil {
		return fmt.Errorf("error encoding device statuses: %w", err)
	}
	if p.DeviceStatuses == nil {
		deviceStatuses = []byte("[]")
	}

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		query := `INSERT INTO alarm_profiles
                    (user_id, profile_id, content_url, alarms_per_day, weekdays, start_time, end_time,
                     fixed_time, explicit_dates, is_active, device_statuses)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
                  RETURNING created_at, updated_at`
		err := tx.QueryRowContext(ctx, query,
			p.UserID, p.ProfileID, p.ContentURL, p.AlarmsPerDay, weekdays, p.StartTime, p.EndTime,
			p.FixedTime, encodeExplicitDates(p.ExplicitDates), p.IsActive, deviceStatuses,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: profile %q already exists", aggregate.ErrValidation, p.ProfileID)
			}
			return fmt.Errorf("error creating alarm profile: %w", err)
		}
		return refreshMetadata(ctx, tx, p.UserID)
	})
}

func (r *PostgresAggregateRepository) UpdateProfile(ctx context.Context, userID, profileID string, u aggregate.ProfileUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{userID, profileID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if u.ContentURL != nil {
		sets = append(sets, "content_url = "+arg(*u.ContentURL))
	}
	if u.AlarmsPerDay != nil {
		sets = append(sets, "alarms_per_day = "+arg(*u.AlarmsPerDay))
	}
	if u.Weekdays != nil {
		weekdays := make(pq.Int64Array, len(u.Weekdays))
		for i, d := range u.Weekdays {
			weekdays[i] = int64(d)
		}
		sets = append(sets, "weekdays = "+arg(weekdays))
	}
	if u.StartTime != nil {
		sets = append(sets, "start_time = "+arg(*u.StartTime))
	}
	if u.EndTime != nil {
		sets = append(sets, "end_time = "+arg(*u.EndTime))
	}
	if u.FixedTime != nil {
		if *u.FixedTime == "" {
			sets = append(sets, "fixed_time = NULL")
		} else {
			sets = append(sets, "fixed_time = "+arg(*u.FixedTime))
		}
	}
	if u.ExplicitDates != nil {
		sets = append(sets, "explicit_dates = "+arg(encodeExplicitDates(u.ExplicitDates)))
	}
	// IsActive is deliberately not handled here; activation state changes go
	// through ActivateProfile.

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		query := `UPDATE alarm_profiles SET ` + strings.Join(sets, ", ") +
			` WHERE user_id = $1 AND profile_id = $2`
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error updating alarm profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading update result: %w", err)
		}
		if n == 0 {
			return aggregate.ErrProfileNotFound
		}
		return refreshMetadata(ctx, tx, userID)
	})
}

func (r *PostgresAggregateRepository) DeleteProfile(ctx context.Context, userID, profileID string) error {
	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		// Clear the schedule reference first so the FK does not block the
		// delete. No sibling is auto-activated.
		if _, err := tx.ExecContext(ctx,
			`UPDATE fcm_schedules SET active_profile_id = NULL, updated_at = NOW()
             WHERE user_id = $1 AND active_profile_id = $2`, userID, profileID); err != nil {
			return fmt.Errorf("error clearing schedule active profile: %w", err)
		}

		var wasActive bool
		err := tx.QueryRowContext(ctx,
			`DELETE FROM alarm_profiles WHERE user_id = $1 AND profile_id = $2 RETURNING is_active`,
			userID, profileID).Scan(&wasActive)
		if err != nil {
			if err == sql.ErrNoRows {
				return aggregate.ErrProfileNotFound
			}
			return fmt.Errorf("error deleting alarm profile: %w", err)
		}
		return refreshMetadata(ctx, tx, userID)
	})
}

func (r *PostgresAggregateRepository) ActivateProfile(ctx context.Context, userID, profileID string) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	err := r.withTx(ctx, opts, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT TRUE FROM alarm_profiles WHERE user_id = $1 AND profile_id = $2 FOR UPDATE`,
			userID, profileID).Scan(&exists)
		if err != nil {
			if err == sql.ErrNoRows {
				return aggregate.ErrProfileNotFound
			}
			return fmt.Errorf("error locking target profile: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE alarm_profiles SET is_active = FALSE, updated_at = NOW()
             WHERE user_id = $1 AND is_active`, userID); err != nil {
			return fmt.Errorf("error deactivating profiles: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE alarm_profiles SET is_active = TRUE, updated_at = NOW()
             WHERE user_id = $1 AND profile_id = $2`, userID, profileID); err != nil {
			return fmt.Errorf("error activating target profile: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE fcm_schedules SET active_profile_id = $2, is_enabled = TRUE, updated_at = NOW()
             WHERE user_id = $1`, userID, profileID)
		if err != nil {
			return fmt.Errorf("error pointing schedule at profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading schedule update result: %w", err)
		}
		if n == 0 {
			return aggregate.ErrUserNotFound
		}
		return refreshMetadata(ctx, tx, userID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			// The one-active partial index fired: a concurrent activation won.
			return fmt.Errorf("%w: %v", aggregate.ErrConcurrency, err)
		}
		return mapTxError(err)
	}
	return nil
}

// --- Schedule ---

const scheduleColumns = `user_id, active_profile_id, morning_time, evening_time, timezone, is_enabled,
	last_sent_at, last_morning_sent_at, last_evening_sent_at, next_morning_at, next_evening_at,
	retry_count, failure_reason, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (*aggregate.FCMSchedule, error) {
	s := &aggregate.FCMSchedule{}
	err := row.Scan(
		&s.UserID, &s.ActiveProfileID, &s.MorningTime, &s.EveningTime, &s.Timezone, &s.IsEnabled,
		&s.LastSentAt, &s.LastMorningSentAt, &s.LastEveningSentAt, &s.NextMorningAt, &s.NextEveningAt,
		&s.RetryCount, &s.FailureReason, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresAggregateRepository) getSchedule(ctx context.Context, userID string) (*aggregate.FCMSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM fcm_schedules WHERE user_id = $1`
	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, aggregate.ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting fcm schedule: %w", err)
	}
	return s, nil
}

func (r *PostgresAggregateRepository) UpdateSchedule(ctx context.Context, userID string, u aggregate.ScheduleUpdate, nextMorning, nextEvening sql.NullTime) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{userID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if u.MorningTime != nil {
		sets = append(sets, "morning_time = "+arg(*u.MorningTime))
	}
	if u.EveningTime != nil {
		sets = append(sets, "evening_time = "+arg(*u.EveningTime))
	}
	if u.Timezone != nil {
		sets = append(sets, "timezone = "+arg(*u.Timezone))
	}
	if u.IsEnabled != nil {
		sets = append(sets, "is_enabled = "+arg(*u.IsEnabled))
	}
	sets = append(sets, "next_morning_at = "+arg(nextMorning))
	sets = append(sets, "next_evening_at = "+arg(nextEvening))

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		query := `UPDATE fcm_schedules SET ` + strings.Join(sets, ", ") + ` WHERE user_id = $1`
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error updating fcm schedule: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading schedule update result: %w", err)
		}
		if n == 0 {
			return aggregate.ErrUserNotFound
		}
		return refreshMetadata(ctx, tx, userID)
	})
}

func (r *PostgresAggregateRepository) MarkSlotSent(ctx context.Context, userID string, slot aggregate.Slot, at time.Time) error {
	column := "last_morning_sent_at"
	if slot == aggregate.SlotEvening {
		column = "last_evening_sent_at"
	}
	query := `UPDATE fcm_schedules SET last_sent_at = $2, ` + column + ` = $2, updated_at = NOW() WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("error marking slot sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading mark result: %w", err)
	}
	if n == 0 {
		return aggregate.ErrUserNotFound
	}
	return nil
}

// --- Notification logs ---

const notificationLogColumns = `user_id, notification_id, type, scheduled_at, sent_at, delivered_at,
	opened_at, failed_at, status, retry_count, title, body, device_token, created_at`

func scanNotificationLog(row interface{ Scan(...any) error }) (*aggregate.NotificationLog, error) {
	l := &aggregate.NotificationLog{}
	err := row.Scan(
		&l.UserID, &l.NotificationID, &l.Type, &l.ScheduledAt, &l.SentAt, &l.DeliveredAt,
		&l.OpenedAt, &l.FailedAt, &l.Status, &l.RetryCount, &l.Title, &l.Body, &l.DeviceToken, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *PostgresAggregateRepository) listNotificationLogs(ctx context.Context, userID string) ([]*aggregate.NotificationLog, error) {
	query := `SELECT ` + notificationLogColumns + ` FROM notification_logs
              WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing notification logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*aggregate.NotificationLog, 0)
	for rows.Next() {
		l, err := scanNotificationLog(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification log row: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification log rows: %w", err)
	}
	return logs, nil
}

func (r *PostgresAggregateRepository) AppendNotificationLog(ctx context.Context, l *aggregate.NotificationLog) error {
	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		query := `INSERT INTO notification_logs
                    (user_id, notification_id, type, scheduled_at, sent_at, delivered_at, opened_at,
                     failed_at, status, retry_count, title, body, device_token, created_at)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		_, err := tx.ExecContext(ctx, query,
			l.UserID, l.NotificationID, l.Type, l.ScheduledAt, l.SentAt, l.DeliveredAt, l.OpenedAt,
			l.FailedAt, l.Status, l.RetryCount, l.Title, l.Body, l.DeviceToken, l.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: notification %q already logged", aggregate.ErrValidation, l.NotificationID)
			}
			return fmt.Errorf("error appending notification log: %w", err)
		}

		// Rotation: keep only the newest entries by creation time.
		rotate := `DELETE FROM notification_logs
                   WHERE user_id = $1 AND notification_id NOT IN (
                       SELECT notification_id FROM notification_logs
                       WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2)`
		if _, err := tx.ExecContext(ctx, rotate, l.UserID, aggregate.NotificationLogCap); err != nil {
			return fmt.Errorf("error rotating notification logs: %w", err)
		}
		return refreshMetadata(ctx, tx, l.UserID)
	})
}

func (r *PostgresAggregateRepository) UpdateNotificationLogStatus(ctx context.Context, userID, notificationID string, status aggregate.NotificationStatus, at time.Time) error {
	var stamp string
	switch status {
	case aggregate.NotificationSent:
		stamp = "sent_at = $4"
	case aggregate.NotificationDelivered:
		stamp = "delivered_at = $4"
	case aggregate.NotificationOpened:
		stamp = "opened_at = $4"
	case aggregate.NotificationFailed:
		stamp = "failed_at = $4, retry_count = retry_count + 1"
	default:
		stamp = "scheduled_at = $4"
	}

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		query := `UPDATE notification_logs SET status = $3, ` + stamp +
			` WHERE user_id = $1 AND notification_id = $2`
		res, err := tx.ExecContext(ctx, query, userID, notificationID, status, at)
		if err != nil {
			return fmt.Errorf("error updating notification log status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading status update result: %w", err)
		}
		if n == 0 {
			return aggregate.ErrNotificationLogNotFound
		}
		return refreshMetadata(ctx, tx, userID)
	})
}

// --- Sync health logs ---

const syncHealthLogColumns = `id, user_id, device_id, reported_at, work_manager_status, fcm_status,
	missed_alarms_count, missed_alarms_reason, doze_mode, battery_level, network_connectivity,
	health_score, app_version, os_version, notes`

func scanSyncHealthLog(row interface{ Scan(...any) error }) (*aggregate.SyncHealthLog, error) {
	l := &aggregate.SyncHealthLog{}
	err := row.Scan(
		&l.ID, &l.UserID, &l.DeviceID, &l.ReportedAt, &l.WorkManagerStatus, &l.FCMStatus,
		&l.MissedAlarmsCount, &l.MissedAlarmsReason, &l.DozeMode, &l.BatteryLevel, &l.NetworkConnectivity,
		&l.HealthScore, &l.AppVersion, &l.OSVersion, &l.Notes,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *PostgresAggregateRepository) listSyncHealthLogs(ctx context.Context, userID string) ([]*aggregate.SyncHealthLog, error) {
	query := `SELECT ` + syncHealthLogColumns + ` FROM sync_health_logs
              WHERE user_id = $1 ORDER BY reported_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing sync health logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*aggregate.SyncHealthLog, 0)
	for rows.Next() {
		l, err := scanSyncHealthLog(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning sync health log row: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync health log rows: %w", err)
	}
	return logs, nil
}

func (r *PostgresAggregateRepository) AppendSyncHealthLog(ctx context.Context, l *aggregate.SyncHealthLog) error {
	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		query := `INSERT INTO sync_health_logs
                    (user_id, device_id, reported_at, work_manager_status, fcm_status, missed_alarms_count,
                     missed_alarms_reason, doze_mode, battery_level, network_connectivity, health_score,
                     app_version, os_version, notes)
                  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
                  RETURNING id`
		err := tx.QueryRowContext(ctx, query,
			l.UserID, l.DeviceID, l.ReportedAt, l.WorkManagerStatus, l.FCMStatus, l.MissedAlarmsCount,
			l.MissedAlarmsReason, l.DozeMode, l.BatteryLevel, l.NetworkConnectivity, l.HealthScore,
			l.AppVersion, l.OSVersion, l.Notes).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("error appending sync health log: %w", err)
		}

		rotate := `DELETE FROM sync_health_logs
                   WHERE user_id = $1 AND id NOT IN (
                       SELECT id FROM sync_health_logs
                       WHERE user_id = $1 ORDER BY reported_at DESC, id DESC LIMIT $2)`
		if _, err := tx.ExecContext(ctx, rotate, l.UserID, aggregate.SyncHealthLogCap); err != nil {
			return fmt.Errorf("error rotating sync health logs: %w", err)
		}
		return refreshMetadata(ctx, tx, l.UserID)
	})
}

func (r *PostgresAggregateRepository) MirrorSyncOntoProfile(ctx context.Context, userID, profileID string, m aggregate.SyncMirror) error {
	query := `UPDATE alarm_profiles
              SET last_synced_at = $3, last_sync_source = $4, last_sync_status = $5,
                  health_score = $6, next_check_at = $7, updated_at = NOW()
              WHERE user_id = $1 AND profile_id = $2`
	res, err := r.db.ExecContext(ctx, query, userID, profileID, m.SyncedAt, m.Source, m.Status, m.Score, m.NextCheckAt)
	if err != nil {
		return fmt.Errorf("error mirroring sync state onto profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading mirror result: %w", err)
	}
	if n == 0 {
		return aggregate.ErrProfileNotFound
	}
	return nil
}

// --- Batch scans ---

func (r *PostgresAggregateRepository) ListScheduleCandidates(ctx context.Context) ([]*aggregate.FCMSchedule, error) {
	query := `SELECT ` + prefixColumns("s", scheduleColumns) + `
              FROM fcm_schedules s
              JOIN alarm_profiles p ON p.user_id = s.user_id AND p.is_active
              WHERE s.is_enabled AND s.active_profile_id IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing schedule candidates: %w", err)
	}
	defer rows.Close()

	schedules := make([]*aggregate.FCMSchedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning schedule candidate row: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule candidate rows: %w", err)
	}
	return schedules, nil
}

func (r *PostgresAggregateRepository) ListResyncCandidates(ctx context.Context, limit int, now time.Time) ([]*aggregate.ResyncCandidate, error) {
	query := `SELECT user_id, profile_id, health_score, last_sync_status, next_check_at
              FROM alarm_profiles
              WHERE is_active
                AND (last_sync_status = 'failure' OR next_check_at <= $1 OR health_score < 50)
              ORDER BY next_check_at ASC NULLS FIRST
              LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing resync candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]*aggregate.ResyncCandidate, 0)
	for rows.Next() {
		c := &aggregate.ResyncCandidate{}
		if err := rows.Scan(&c.UserID, &c.ProfileID, &c.HealthScore, &c.LastSyncStatus, &c.NextCheckAt); err != nil {
			return nil, fmt.Errorf("error scanning resync candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resync candidate rows: %w", err)
	}
	return candidates, nil
}

// prefixColumns qualifies every column in a comma-separated list with a table
// alias, for use in joins.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
