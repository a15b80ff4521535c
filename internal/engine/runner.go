package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/blob"
)

// Runner executes one sync run for a due schedule: load the device's
// report and baseline, detect changes, resolve conflicts, move payloads
// in the blob store, and commit the outcome atomically. A failed run
// commits nothing and leaves the schedule due, so the next poll retries.
type Runner struct {
	store   *Store
	blobs   *blob.Store
	auditor audit.Recorder
	logger  *slog.Logger
}

// NewRunner wires a runner.
func NewRunner(store *Store, blobs *blob.Store, auditor audit.Recorder, logger *slog.Logger) *Runner {
	return &Runner{store: store, blobs: blobs, auditor: auditor, logger: logger}
}

// Run executes the schedule's sync run at the given time.
func (r *Runner) Run(ctx context.Context, sched *Schedule, now time.Time) error {
	if sched.NextRunAt == nil {
		return fmt.Errorf("%w: schedule %s has no next run", ErrInvalidArgument, sched.ID)
	}

	device, err := r.store.GetDevice(ctx, sched.DeviceID)
	if err != nil {
		return err
	}

	report, reportedAt, err := r.store.LoadReport(ctx, device.ID)
	if err != nil {
		return err
	}

	cs := &ChangeSet{}

	// Without a report there is nothing to compare; the run is a no-op
	// but the schedule still advances, otherwise it would respin every
	// poll until the device checks in.
	if !reportedAt.IsZero() {
		baseline, err := r.store.LoadManifest(ctx, device.ID)
		if err != nil {
			return err
		}

		serverFiles, err := r.store.LoadServerFiles(ctx, device.OwnerID)
		if err != nil {
			return err
		}

		cs = DetectChanges(baseline, report, serverFiles, sched.SyncDeletions)

		if err := r.verifyPayloads(device, cs, serverFiles); err != nil {
			return err
		}
	}

	res := Resolve(cs, sched.Policy, device.ID, now)

	if err := r.stagePayloads(device, cs, res); err != nil {
		return err
	}

	apply := make([]ReportEntry, 0, len(cs.Added)+len(cs.Modified)+len(res.DeviceWins))
	apply = append(apply, cs.Added...)
	apply = append(apply, cs.Modified...)
	apply = append(apply, res.DeviceWins...)

	commit := &RunCommit{
		Schedule:   sched,
		Device:     device,
		Now:        now,
		NextRunAt:  nextAfter(sched.Type, *sched.NextRunAt, now),
		Apply:      apply,
		Renamed:    res.Renamed,
		ServerWins: res.ServerWins,
		Deleted:    cs.Deleted,
		Unresolved: res.Unresolved,
	}

	if err := r.store.CommitRun(ctx, commit); err != nil {
		return err
	}

	// Blob removals happen only after the commit is durable; a leftover
	// payload is recoverable, a premature deletion is not.
	r.cleanupPayloads(device, cs, res)

	r.logger.Info("sync run committed",
		"schedule_id", sched.ID, "device_id", device.ID,
		"added", len(cs.Added), "modified", len(cs.Modified),
		"deleted", len(cs.Deleted), "conflicted", len(cs.Conflicted),
		"unresolved", len(res.Unresolved),
		"next_run_at", commit.NextRunAt)
	r.auditor.Record(audit.Event{
		Time:       now,
		Type:       audit.TypeRunCompleted,
		OwnerID:    device.OwnerID,
		DeviceID:   device.ID,
		ScheduleID: sched.ID,
		Detail: fmt.Sprintf("added=%d modified=%d deleted=%d conflicted=%d",
			len(cs.Added), len(cs.Modified), len(cs.Deleted), len(cs.Conflicted)),
	})

	return nil
}

// verifyPayloads checks that every device-side change the run would
// commit has its payload uploaded: either the server already stores the
// reported content, or a pending blob of the right size is waiting. A
// missing payload aborts the run as transient so the next poll retries
// after the device finishes uploading.
func (r *Runner) verifyPayloads(device *Device, cs *ChangeSet, serverFiles map[string]ServerFile) error {
	check := func(e ReportEntry) error {
		if sf, ok := serverFiles[e.Path]; ok && sf.Hash == e.Hash {
			return nil
		}

		info, err := r.blobs.Stat(device.OwnerID, pendingPath(device.ID, e.Path))
		if err != nil {
			return fmt.Errorf("%w: payload for %s not uploaded", ErrTransient, e.Path)
		}

		if info.Size() != e.Size {
			return fmt.Errorf("%w: payload for %s is %d bytes, reported %d",
				ErrTransient, e.Path, info.Size(), e.Size)
		}

		return nil
	}

	for _, e := range cs.Added {
		if err := check(e); err != nil {
			return err
		}
	}

	for _, e := range cs.Modified {
		if err := check(e); err != nil {
			return err
		}
	}

	for _, c := range cs.Conflicted {
		if err := check(c.Device); err != nil {
			return err
		}
	}

	return nil
}

// stagePayloads promotes pending device payloads to their canonical
// paths for everything the commit will apply. Promotions are additive;
// if the commit later fails the next run re-detects and re-promotes.
func (r *Runner) stagePayloads(device *Device, cs *ChangeSet, res *Resolution) error {
	promote := func(from, to string) error {
		pending := pendingPath(device.ID, from)
		if !r.blobs.Exists(device.OwnerID, pending) {
			// Content already canonical via a direct upload.
			return nil
		}

		return r.blobs.Promote(device.OwnerID, pending, to)
	}

	for _, e := range cs.Added {
		if err := promote(e.Path, e.Path); err != nil {
			return err
		}
	}

	for _, e := range cs.Modified {
		if err := promote(e.Path, e.Path); err != nil {
			return err
		}
	}

	for _, e := range res.DeviceWins {
		if err := promote(e.Path, e.Path); err != nil {
			return err
		}
	}

	for _, ren := range res.Renamed {
		if err := promote(ren.OriginalPath, ren.NewPath); err != nil {
			return err
		}
	}

	return nil
}

// cleanupPayloads removes blobs made obsolete by a committed run:
// canonical payloads of deleted paths and pending payloads of entries
// where the server won. Unresolved conflicts keep their pending blob
// for the eventual user decision. Failures only log; orphaned blobs
// are harmless.
func (r *Runner) cleanupPayloads(device *Device, cs *ChangeSet, res *Resolution) {
	for _, p := range cs.Deleted {
		if err := r.blobs.Remove(device.OwnerID, p); err != nil {
			r.logger.Warn("removing deleted payload", "path", p, "error", err)
		}
	}

	for _, c := range res.ServerWins {
		if err := r.blobs.Remove(device.OwnerID, pendingPath(device.ID, c.Path)); err != nil {
			r.logger.Warn("removing pending payload", "path", c.Path, "error", err)
		}
	}
}

// ResolveConflict applies a user's decision to an unresolved conflict.
// keep_device promotes the device's pending payload to the canonical
// path and re-points both the server record and the device baseline at
// it; keep_server discards the pending payload and re-points the
// baseline at the current server copy.
func (r *Runner) ResolveConflict(ctx context.Context, conflictID, resolution string, now time.Time) error {
	if resolution != ConflictKeepDevice && resolution != ConflictKeepServer {
		return fmt.Errorf("%w: resolution %q", ErrInvalidArgument, resolution)
	}

	rec, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}

	if rec.Resolution != ConflictUnresolved {
		return fmt.Errorf("%w: unresolved conflict %s", ErrNotFound, conflictID)
	}

	device, err := r.store.GetDevice(ctx, rec.DeviceID)
	if err != nil {
		return err
	}

	pending := pendingPath(device.ID, rec.Path)

	if resolution == ConflictKeepDevice {
		if !r.blobs.Exists(device.OwnerID, pending) {
			return fmt.Errorf("%w: payload for %s no longer staged", ErrTransient, rec.Path)
		}

		if err := r.blobs.Promote(device.OwnerID, pending, rec.Path); err != nil {
			return err
		}
	}

	serverFiles, err := r.store.LoadServerFiles(ctx, device.OwnerID)
	if err != nil {
		return err
	}

	var serverFile *ServerFile
	if sf, ok := serverFiles[rec.Path]; ok {
		serverFile = &sf
	}

	if err := r.store.DecideConflict(ctx, rec, resolution, serverFile, device.OwnerID, now); err != nil {
		return err
	}

	if resolution == ConflictKeepServer {
		if err := r.blobs.Remove(device.OwnerID, pending); err != nil {
			r.logger.Warn("removing pending payload", "path", rec.Path, "error", err)
		}
	}

	r.logger.Info("conflict resolved",
		"conflict_id", conflictID, "device_id", device.ID,
		"path", rec.Path, "resolution", resolution)

	return nil
}

// nextAfter advances the schedule's next run past now, preserving the
// configured time of day even when runs were missed.
func nextAfter(typ ScheduleType, from, now time.Time) time.Time {
	next := NextRun(typ, from)
	for !next.After(now) {
		next = NextRun(typ, next)
	}

	return next
}
