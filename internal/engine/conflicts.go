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
	sqlCountOpenConflict = `SELECT COUNT(*) FROM conflicts
		WHERE device_id = ? AND path = ? AND resolution = 'unresolved'`

	sqlInsertConflict = `INSERT INTO conflicts
		(conflict_id, device_id, path, device_hash, device_size, device_mtime,
		 server_mtime, detected_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'unresolved')`

	sqlListConflicts = `SELECT conflict_id, device_id, path, device_hash, device_size,
		device_mtime, server_mtime, detected_at, resolution, resolved_at
		FROM conflicts WHERE device_id = ? ORDER BY detected_at DESC`

	sqlGetConflict = `SELECT conflict_id, device_id, path, device_hash, device_size,
		device_mtime, server_mtime, detected_at, resolution, resolved_at
		FROM conflicts WHERE conflict_id = ?`

	sqlResolveConflict = `UPDATE conflicts SET resolution = ?, resolved_at = ?
		WHERE conflict_id = ? AND resolution = 'unresolved'`
)

// recordConflictTx inserts an unresolved conflict row unless one is already
// open for the same device and path; manual conflicts are re-evaluated on
// every run and must not pile up duplicates.
func recordConflictTx(ctx context.Context, tx *sql.Tx, deviceID string, c Conflict, nowNS int64) error {
	var open int
	if err := tx.QueryRowContext(ctx, sqlCountOpenConflict, deviceID, c.Path).Scan(&open); err != nil {
		return fmt.Errorf("engine: checking open conflict for %s: %w", c.Path, err)
	}

	if open > 0 {
		return nil
	}

	_, err := tx.ExecContext(ctx, sqlInsertConflict,
		uuid.New().String(), deviceID, c.Path,
		c.Device.Hash, c.Device.Size, c.Device.Mtime,
		c.Server.Mtime, nowNS)
	if err != nil {
		return fmt.Errorf("engine: recording conflict for %s: %w", c.Path, err)
	}

	return nil
}

// ListConflicts returns a device's conflict records, newest first.
func (s *Store) ListConflicts(ctx context.Context, deviceID string) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListConflicts, deviceID)
	if err != nil {
		return nil, fmt.Errorf("engine: listing conflicts for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var records []ConflictRecord

	for rows.Next() {
		rec, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("engine: scanning conflict row: %w", err)
		}

		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating conflict rows: %w", err)
	}

	return records, nil
}

// GetConflict returns one conflict record, or ErrNotFound.
func (s *Store) GetConflict(ctx context.Context, conflictID string) (*ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, sqlGetConflict, conflictID)

	rec, err := scanConflict(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict %s", ErrNotFound, conflictID)
	}

	if err != nil {
		return nil, fmt.Errorf("engine: reading conflict %s: %w", conflictID, err)
	}

	return rec, nil
}

// DecideConflict atomically applies a user's conflict decision: the
// device baseline and the server file record are re-pointed at the
// chosen version and the conflict row is marked resolved, all in one
// transaction. serverFile is the current server copy, nil if the path
// no longer exists server-side.
func (s *Store) DecideConflict(ctx context.Context, rec *ConflictRecord, resolution string, serverFile *ServerFile, ownerID string, now time.Time) error {
	nowNS := now.UnixNano()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		switch {
		case resolution == ConflictKeepDevice:
			_, err := tx.ExecContext(ctx, sqlUpsertManifestEntry,
				rec.DeviceID, rec.Path, rec.DeviceHash, rec.DeviceSize,
				rec.DeviceMtime, nowNS, nowNS, false)
			if err != nil {
				return fmt.Errorf("engine: re-pointing manifest at device version: %w", err)
			}

			_, err = tx.ExecContext(ctx, sqlUpsertServerFile,
				ownerID, rec.Path, rec.DeviceHash, rec.DeviceSize, nowNS)
			if err != nil {
				return fmt.Errorf("engine: adopting device version of %s: %w", rec.Path, err)
			}

		case serverFile != nil: // keep_server, path still present
			_, err := tx.ExecContext(ctx, sqlUpsertManifestEntry,
				rec.DeviceID, rec.Path, serverFile.Hash, serverFile.Size,
				serverFile.Mtime, serverFile.Mtime, nowNS, false)
			if err != nil {
				return fmt.Errorf("engine: re-pointing manifest at server version: %w", err)
			}

		default: // keep_server, but the server copy was deleted meanwhile
			_, err := tx.ExecContext(ctx, sqlUpsertManifestEntry,
				rec.DeviceID, rec.Path, "", 0, 0, nowNS, nowNS, true)
			if err != nil {
				return fmt.Errorf("engine: tombstoning %s: %w", rec.Path, err)
			}
		}

		res, err := tx.ExecContext(ctx, sqlResolveConflict, resolution, nowNS, rec.ID)
		if err != nil {
			return fmt.Errorf("engine: resolving conflict %s: %w", rec.ID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("engine: resolving conflict %s: %w", rec.ID, err)
		}

		if n == 0 {
			return fmt.Errorf("%w: unresolved conflict %s", ErrNotFound, rec.ID)
		}

		return nil
	})
}

func scanConflict(scan func(...any) error) (*ConflictRecord, error) {
	var (
		rec        ConflictRecord
		resolvedAt sql.NullInt64
	)

	err := scan(&rec.ID, &rec.DeviceID, &rec.Path, &rec.DeviceHash, &rec.DeviceSize,
		&rec.DeviceMtime, &rec.ServerMtime, &rec.DetectedAt, &rec.Resolution, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		rec.ResolvedAt = &resolvedAt.Int64
	}

	return &rec, nil
}
