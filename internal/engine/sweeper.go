package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/blob"
)

// Sweeper periodically deletes incomplete upload sessions older than
// the retention window, along with their staged chunks. Completed
// uploads are never swept.
type Sweeper struct {
	store     *Store
	staging   *blob.Staging
	clock     clockwork.Clock
	interval  time.Duration
	retention time.Duration
	auditor   audit.Recorder
	logger    *slog.Logger
	stop      chan struct{}
}

// NewSweeper wires a sweeper running every interval and expiring
// incomplete uploads older than retention.
func NewSweeper(
	store *Store,
	staging *blob.Staging,
	clock clockwork.Clock,
	interval, retention time.Duration,
	auditor audit.Recorder,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		store:     store,
		staging:   staging,
		clock:     clock,
		interval:  interval,
		retention: retention,
		auditor:   auditor,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start blocks, sweeping until Stop is called or ctx is canceled. The
// first sweep runs immediately so a restart does not extend retention.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("upload sweeper started",
		"sweep_interval", s.interval, "retention", s.retention)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.Chan():
			s.Sweep(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stop)
	s.logger.Info("upload sweeper stopped")
}

// Sweep expires one batch of stale incomplete uploads. Staged chunks
// are removed before the session row so a failure between the two
// leaves a sweepable row, never an orphaned directory.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()
	cutoff := now.Add(-s.retention)

	expired, err := s.store.ListExpiredUploads(ctx, cutoff)
	if err != nil {
		s.logger.Error("listing expired uploads", "error", err)
		return
	}

	for _, u := range expired {
		if err := s.staging.Remove(u.ID); err != nil {
			s.logger.Error("removing staged chunks", "upload_id", u.ID, "error", err)
			continue
		}

		if err := s.store.DeleteIncompleteUpload(ctx, u.ID); err != nil {
			s.logger.Error("deleting expired upload", "upload_id", u.ID, "error", err)
			continue
		}

		s.logger.Info("upload expired",
			"upload_id", u.ID, "owner_id", u.OwnerID,
			"path", u.TargetPath, "created_at", u.CreatedAt)
		s.auditor.Record(audit.Event{
			Time:     now,
			Type:     audit.TypeUploadExpired,
			OwnerID:  u.OwnerID,
			DeviceID: u.DeviceID,
			UploadID: u.ID,
			Path:     u.TargetPath,
		})
	}
}
