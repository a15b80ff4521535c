package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/filedrift/filedrift/internal/audit"
)

// scheduleSource lists due schedules. Satisfied by *Store; narrowed so
// scheduler tests can drive the loop without a database.
type scheduleSource interface {
	ListDueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
}

// runExecutor executes one sync run. Satisfied by *Runner.
type runExecutor interface {
	Run(ctx context.Context, sched *Schedule, now time.Time) error
}

// Scheduler polls for due schedules and dispatches runs on a bounded
// worker group. Dispatch is non-blocking on both axes: a device with a
// run already active is skipped (the schedule stays due), and when all
// workers are busy the remaining due schedules simply wait for the next
// poll.
type Scheduler struct {
	source   scheduleSource
	runner   runExecutor
	locks    *deviceLocks
	clock    clockwork.Clock
	interval time.Duration
	group    *errgroup.Group
	auditor  audit.Recorder
	logger   *slog.Logger
	stop     chan struct{}
}

// NewScheduler wires a scheduler polling at interval with at most
// concurrency simultaneous runs.
func NewScheduler(
	source scheduleSource,
	runner runExecutor,
	clock clockwork.Clock,
	interval time.Duration,
	concurrency int,
	auditor audit.Recorder,
	logger *slog.Logger,
) *Scheduler {
	group := &errgroup.Group{}
	group.SetLimit(concurrency)

	return &Scheduler{
		source:   source,
		runner:   runner,
		locks:    newDeviceLocks(),
		clock:    clock,
		interval: interval,
		group:    group,
		auditor:  auditor,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start blocks, polling until Stop is called or ctx is canceled. An
// initial tick fires immediately so overdue schedules do not wait a
// full interval after startup.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "poll_interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ticker.Chan():
			s.tick(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts polling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	_ = s.group.Wait() // run errors are audited per run, never returned
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()

	due, err := s.source.ListDueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("listing due schedules", "error", err)
		return
	}

	for i := range due {
		sched := due[i]

		if !s.locks.TryAcquire(sched.DeviceID) {
			s.auditor.Record(audit.Event{
				Time:       now,
				Type:       audit.TypeRunSkipped,
				DeviceID:   sched.DeviceID,
				ScheduleID: sched.ID,
				Error:      ErrLocked.Error(),
			})

			continue
		}

		started := s.group.TryGo(func() error {
			defer s.locks.Release(sched.DeviceID)
			s.runOne(ctx, &sched)

			return nil
		})

		// Worker pool full: release and leave the schedule due.
		if !started {
			s.locks.Release(sched.DeviceID)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, sched *Schedule) {
	now := s.clock.Now()

	if err := s.runner.Run(ctx, sched, now); err != nil {
		s.logger.Error("sync run failed",
			"schedule_id", sched.ID, "device_id", sched.DeviceID, "error", err)
		s.auditor.Record(audit.Event{
			Time:       now,
			Type:       audit.TypeRunFailed,
			DeviceID:   sched.DeviceID,
			ScheduleID: sched.ID,
			Error:      err.Error(),
		})
	}
}
