package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlScheduleColumns = `schedule_id, device_id, schedule_type, time_of_day,
		enabled, sync_deletions, conflict_policy, last_run_at, next_run_at,
		created_at, updated_at`

	sqlGetSchedule = `SELECT ` + sqlScheduleColumns + ` FROM schedules WHERE schedule_id = ?`

	sqlInsertSchedule = `INSERT INTO schedules (` + sqlScheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListSchedulesByDevice = `SELECT ` + sqlScheduleColumns +
		` FROM schedules WHERE device_id = ? ORDER BY created_at`

	// Oldest overdue first, to bound staleness under load.
	sqlListDueSchedules = `SELECT ` + sqlScheduleColumns +
		` FROM schedules WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`

	sqlSetScheduleEnabled = `UPDATE schedules
		SET enabled = ?, next_run_at = ?, updated_at = ? WHERE schedule_id = ?`

	sqlAdvanceSchedule = `UPDATE schedules
		SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE schedule_id = ?`
)

var validPolicies = map[ConflictPolicy]bool{
	PolicyKeepNewest: true, PolicyKeepBoth: true, PolicyManual: true,
}

var validScheduleTypes = map[ScheduleType]bool{
	ScheduleDaily: true, ScheduleWeekly: true, ScheduleMonthly: true,
}

// CreateSchedule creates a recurring sync schedule for a device, computing
// the first next_run_at from the cadence and time-of-day relative to now.
func (s *Store) CreateSchedule(ctx context.Context, deviceID string, cfg ScheduleConfig, now time.Time) (*Schedule, error) {
	if !validScheduleTypes[cfg.Type] {
		return nil, fmt.Errorf("%w: schedule_type %q", ErrInvalidArgument, cfg.Type)
	}

	if !validPolicies[cfg.Policy] {
		return nil, fmt.Errorf("%w: conflict_policy %q", ErrInvalidArgument, cfg.Policy)
	}

	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	next, err := FirstRun(cfg.Type, cfg.TimeOfDay, now)
	if err != nil {
		return nil, err
	}

	sched := &Schedule{
		ID:            uuid.New().String(),
		DeviceID:      deviceID,
		Type:          cfg.Type,
		TimeOfDay:     cfg.TimeOfDay,
		Enabled:       true,
		SyncDeletions: cfg.SyncDeletions,
		Policy:        cfg.Policy,
		NextRunAt:     &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.ExecContext(ctx, sqlInsertSchedule,
		sched.ID, sched.DeviceID, string(sched.Type), sched.TimeOfDay,
		sched.Enabled, sched.SyncDeletions, string(sched.Policy),
		nil, next.UnixNano(), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("engine: inserting schedule: %w", err)
	}

	s.logger.Info("schedule created",
		"schedule_id", sched.ID, "device_id", deviceID,
		"type", string(cfg.Type), "next_run_at", next)

	return sched, nil
}

// GetSchedule returns the schedule with the given ID, or ErrNotFound.
func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, sqlGetSchedule, scheduleID)

	sched, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, scheduleID)
	}

	if err != nil {
		return nil, fmt.Errorf("engine: reading schedule %s: %w", scheduleID, err)
	}

	return sched, nil
}

// ListSchedules returns all schedules owned by a device.
func (s *Store) ListSchedules(ctx context.Context, deviceID string) ([]Schedule, error) {
	return s.querySchedules(ctx, sqlListSchedulesByDevice, deviceID)
}

// ListDueSchedules returns all enabled schedules with next_run_at <= asOf,
// oldest overdue first.
func (s *Store) ListDueSchedules(ctx context.Context, asOf time.Time) ([]Schedule, error) {
	return s.querySchedules(ctx, sqlListDueSchedules, asOf.UnixNano())
}

// DisableSchedule sets enabled = false. An in-flight run already dispatched
// for the schedule completes normally; disable only affects future polls.
func (s *Store) DisableSchedule(ctx context.Context, scheduleID string, now time.Time) error {
	if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlSetScheduleEnabled, false, nil, now.UnixNano(), scheduleID); err != nil {
		return fmt.Errorf("engine: disabling schedule %s: %w", scheduleID, err)
	}

	s.logger.Info("schedule disabled", "schedule_id", scheduleID)

	return nil
}

// EnableSchedule re-enables a disabled schedule, recomputing next_run_at
// from the cadence relative to now.
func (s *Store) EnableSchedule(ctx context.Context, scheduleID string, now time.Time) (*Schedule, error) {
	sched, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	next, err := FirstRun(sched.Type, sched.TimeOfDay, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, sqlSetScheduleEnabled, true, next.UnixNano(), now.UnixNano(), scheduleID); err != nil {
		return nil, fmt.Errorf("engine: enabling schedule %s: %w", scheduleID, err)
	}

	sched.Enabled = true
	sched.NextRunAt = &next
	sched.UpdatedAt = now

	s.logger.Info("schedule enabled", "schedule_id", scheduleID, "next_run_at", next)

	return sched, nil
}

// querySchedules runs a schedule query and scans all rows.
func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("engine: querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule

	for rows.Next() {
		sched, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("engine: scanning schedule row: %w", err)
		}

		schedules = append(schedules, *sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating schedule rows: %w", err)
	}

	return schedules, nil
}

// scanSchedule scans one schedule row via the given Scan function.
func scanSchedule(scan func(...any) error) (*Schedule, error) {
	var (
		sched                Schedule
		typ, policy          string
		lastRun, nextRun     sql.NullInt64
		createdAt, updatedAt int64
	)

	err := scan(&sched.ID, &sched.DeviceID, &typ, &sched.TimeOfDay,
		&sched.Enabled, &sched.SyncDeletions, &policy,
		&lastRun, &nextRun, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sched.Type = ScheduleType(typ)
	sched.Policy = ConflictPolicy(policy)
	sched.CreatedAt = time.Unix(0, createdAt)
	sched.UpdatedAt = time.Unix(0, updatedAt)

	if lastRun.Valid {
		t := time.Unix(0, lastRun.Int64)
		sched.LastRunAt = &t
	}

	if nextRun.Valid {
		t := time.Unix(0, nextRun.Int64)
		sched.NextRunAt = &t
	}

	return &sched, nil
}
