package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	sqlLoadManifest = `SELECT path, hash, size, mtime, server_mtime, last_synced_at, deleted
		FROM manifest_entries WHERE device_id = ?`

	sqlUpsertManifestEntry = `INSERT INTO manifest_entries
		(device_id, path, hash, size, mtime, server_mtime, last_synced_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, path) DO UPDATE SET
			hash           = excluded.hash,
			size           = excluded.size,
			mtime          = excluded.mtime,
			server_mtime   = excluded.server_mtime,
			last_synced_at = excluded.last_synced_at,
			deleted        = excluded.deleted`

	sqlClearReport = `DELETE FROM report_entries WHERE device_id = ?`

	sqlInsertReportEntry = `INSERT INTO report_entries
		(device_id, path, hash, size, mtime, deleted, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlLoadReport = `SELECT path, hash, size, mtime, deleted, reported_at
		FROM report_entries WHERE device_id = ?`

	sqlLoadServerFiles = `SELECT owner_id, path, hash, size, mtime
		FROM server_files WHERE owner_id = ?`

	sqlUpsertServerFile = `INSERT INTO server_files (owner_id, path, hash, size, mtime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, path) DO UPDATE SET
			hash  = excluded.hash,
			size  = excluded.size,
			mtime = excluded.mtime`

	sqlDeleteServerFile = `DELETE FROM server_files WHERE owner_id = ? AND path = ?`
)

// LoadManifest returns the device's baseline manifest keyed by path,
// including tombstoned entries.
func (s *Store) LoadManifest(ctx context.Context, deviceID string) (map[string]ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadManifest, deviceID)
	if err != nil {
		return nil, fmt.Errorf("engine: loading manifest for %s: %w", deviceID, err)
	}
	defer rows.Close()

	manifest := make(map[string]ManifestEntry)

	for rows.Next() {
		var e ManifestEntry

		err := rows.Scan(&e.Path, &e.Hash, &e.Size, &e.Mtime,
			&e.ServerMtime, &e.LastSyncedAt, &e.Deleted)
		if err != nil {
			return nil, fmt.Errorf("engine: scanning manifest row: %w", err)
		}

		manifest[e.Path] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating manifest rows: %w", err)
	}

	return manifest, nil
}

// SubmitReport replaces the device's pending manifest report wholesale.
// Paths are normalized before storage; an unsafe path rejects the whole
// report so a partial report can never masquerade as a full one.
func (s *Store) SubmitReport(ctx context.Context, deviceID string, entries []ReportEntry, now time.Time) error {
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return err
	}

	normalized := make([]ReportEntry, 0, len(entries))

	for _, e := range entries {
		p, err := NormalizePath(e.Path)
		if err != nil {
			return err
		}

		e.Path = p
		normalized = append(normalized, e)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlClearReport, deviceID); err != nil {
			return fmt.Errorf("engine: clearing report for %s: %w", deviceID, err)
		}

		for _, e := range normalized {
			_, err := tx.ExecContext(ctx, sqlInsertReportEntry,
				deviceID, e.Path, e.Hash, e.Size, e.Mtime, e.Deleted, now.UnixNano())
			if err != nil {
				return fmt.Errorf("engine: inserting report entry %s: %w", e.Path, err)
			}
		}

		return nil
	})
}

// LoadReport returns the device's latest submitted report and its
// submission time. A zero time means no report has been submitted.
func (s *Store) LoadReport(ctx context.Context, deviceID string) ([]ReportEntry, time.Time, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadReport, deviceID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("engine: loading report for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var (
		entries    []ReportEntry
		reportedAt int64
	)

	for rows.Next() {
		var (
			e  ReportEntry
			at int64
		)

		if err := rows.Scan(&e.Path, &e.Hash, &e.Size, &e.Mtime, &e.Deleted, &at); err != nil {
			return nil, time.Time{}, fmt.Errorf("engine: scanning report row: %w", err)
		}

		if at > reportedAt {
			reportedAt = at
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("engine: iterating report rows: %w", err)
	}

	if reportedAt == 0 {
		return entries, time.Time{}, nil
	}

	return entries, time.Unix(0, reportedAt), nil
}

// LoadServerFiles returns the owner's authoritative server-side file state
// keyed by path.
func (s *Store) LoadServerFiles(ctx context.Context, ownerID string) (map[string]ServerFile, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadServerFiles, ownerID)
	if err != nil {
		return nil, fmt.Errorf("engine: loading server files for %s: %w", ownerID, err)
	}
	defer rows.Close()

	files := make(map[string]ServerFile)

	for rows.Next() {
		var f ServerFile

		if err := rows.Scan(&f.OwnerID, &f.Path, &f.Hash, &f.Size, &f.Mtime); err != nil {
			return nil, fmt.Errorf("engine: scanning server file row: %w", err)
		}

		files[f.Path] = f
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating server file rows: %w", err)
	}

	return files, nil
}

// UpsertServerFile records the authoritative server-side state for a path.
// Called by upload finalization and by run commits.
func (s *Store) UpsertServerFile(ctx context.Context, f ServerFile) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertServerFile, f.OwnerID, f.Path, f.Hash, f.Size, f.Mtime)
	if err != nil {
		return fmt.Errorf("engine: upserting server file %s: %w", f.Path, err)
	}

	return nil
}

// RunCommit is the all-or-nothing result of a sync run: the manifest swap,
// server-file updates, schedule advance, and device touch, applied in a
// single transaction. Either every non-conflicted change commits and
// next_run_at advances, or none do.
type RunCommit struct {
	Schedule   *Schedule
	Device     *Device
	Now        time.Time
	NextRunAt  time.Time
	Apply      []ReportEntry // added + modified + device-won conflicts
	Renamed    []RenamedCopy // keep_both copies under disambiguated paths
	ServerWins []Conflict    // baseline re-pointed at the server state
	Deleted    []string
	Unresolved []Conflict // recorded for explicit user decision
}

// CommitRun atomically applies a completed sync run.
func (s *Store) CommitRun(ctx context.Context, rc *RunCommit) error {
	nowNS := rc.Now.UnixNano()
	owner := rc.Device.OwnerID

	return s.inTx(ctx, func(tx *sql.Tx) error {
		upsertEntry := func(path, hash string, size, mtime, serverMtime int64, deleted bool) error {
			_, err := tx.ExecContext(ctx, sqlUpsertManifestEntry,
				rc.Device.ID, path, hash, size, mtime, serverMtime, nowNS, deleted)
			if err != nil {
				return fmt.Errorf("engine: committing manifest entry %s: %w", path, err)
			}

			return nil
		}

		upsertServer := func(path, hash string, size, mtime int64) error {
			_, err := tx.ExecContext(ctx, sqlUpsertServerFile, owner, path, hash, size, mtime)
			if err != nil {
				return fmt.Errorf("engine: committing server file %s: %w", path, err)
			}

			return nil
		}

		for _, e := range rc.Apply {
			if err := upsertEntry(e.Path, e.Hash, e.Size, e.Mtime, nowNS, false); err != nil {
				return err
			}

			if err := upsertServer(e.Path, e.Hash, e.Size, nowNS); err != nil {
				return err
			}
		}

		for _, r := range rc.Renamed {
			if err := upsertEntry(r.NewPath, r.Entry.Hash, r.Entry.Size, r.Entry.Mtime, nowNS, false); err != nil {
				return err
			}

			if err := upsertServer(r.NewPath, r.Entry.Hash, r.Entry.Size, nowNS); err != nil {
				return err
			}
		}

		for _, c := range rc.ServerWins {
			err := upsertEntry(c.Path, c.Server.Hash, c.Server.Size, c.Server.Mtime, c.Server.Mtime, false)
			if err != nil {
				return err
			}
		}

		for _, p := range rc.Deleted {
			if err := upsertEntry(p, "", 0, 0, nowNS, true); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, sqlDeleteServerFile, owner, p); err != nil {
				return fmt.Errorf("engine: deleting server file %s: %w", p, err)
			}
		}

		for _, c := range rc.Unresolved {
			if err := recordConflictTx(ctx, tx, rc.Device.ID, c, nowNS); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, sqlAdvanceSchedule,
			nowNS, rc.NextRunAt.UnixNano(), nowNS, rc.Schedule.ID)
		if err != nil {
			return fmt.Errorf("engine: advancing schedule %s: %w", rc.Schedule.ID, err)
		}

		_, err = tx.ExecContext(ctx, sqlTouchDevice, rc.Device.Name, nowNS, rc.Device.ID)
		if err != nil {
			return fmt.Errorf("engine: touching device %s: %w", rc.Device.ID, err)
		}

		return nil
	})
}
