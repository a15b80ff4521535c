package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlInsertUpload = `INSERT INTO uploads
		(upload_id, owner_id, device_id, target_path, total_size, chunk_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlGetUpload = `SELECT upload_id, owner_id, device_id, target_path,
		total_size, chunk_size, created_at, completed_at
		FROM uploads WHERE upload_id = ?`

	sqlMarkChunk = `INSERT INTO upload_chunks (upload_id, chunk_index, received_at)
		VALUES (?, ?, ?)
		ON CONFLICT(upload_id, chunk_index) DO UPDATE SET received_at = excluded.received_at`

	sqlReceivedChunks = `SELECT chunk_index FROM upload_chunks
		WHERE upload_id = ? ORDER BY chunk_index`

	sqlCompleteUpload = `UPDATE uploads SET completed_at = ?
		WHERE upload_id = ? AND completed_at IS NULL`

	sqlListExpiredUploads = `SELECT upload_id, owner_id, device_id, target_path,
		total_size, chunk_size, created_at, completed_at
		FROM uploads WHERE completed_at IS NULL AND created_at < ?`

	sqlDeleteIncompleteUpload = `DELETE FROM uploads
		WHERE upload_id = ? AND completed_at IS NULL`
)

// InsertUpload persists a new upload session record.
func (s *Store) InsertUpload(ctx context.Context, u *Upload) error {
	var device any
	if u.DeviceID != "" {
		device = u.DeviceID
	}

	_, err := s.db.ExecContext(ctx, sqlInsertUpload,
		u.ID, u.OwnerID, device, u.TargetPath, u.TotalSize, u.ChunkSize, u.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("engine: inserting upload %s: %w", u.ID, err)
	}

	return nil
}

// GetUpload returns one upload session, or ErrNotFound.
func (s *Store) GetUpload(ctx context.Context, uploadID string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx, sqlGetUpload, uploadID)

	u, err := scanUpload(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
	}

	if err != nil {
		return nil, fmt.Errorf("engine: reading upload %s: %w", uploadID, err)
	}

	return u, nil
}

// MarkChunkReceived records one received chunk. Re-receiving an index
// refreshes its timestamp, keeping retries idempotent.
func (s *Store) MarkChunkReceived(ctx context.Context, uploadID string, index int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, sqlMarkChunk, uploadID, index, now.UnixNano())
	if err != nil {
		return fmt.Errorf("engine: marking chunk %d of %s: %w", index, uploadID, err)
	}

	return nil
}

// ReceivedChunks returns the recorded chunk indices of an upload,
// ascending.
func (s *Store) ReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, sqlReceivedChunks, uploadID)
	if err != nil {
		return nil, fmt.Errorf("engine: listing chunks of %s: %w", uploadID, err)
	}
	defer rows.Close()

	var indices []int

	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("engine: scanning chunk row: %w", err)
		}

		indices = append(indices, idx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating chunk rows: %w", err)
	}

	return indices, nil
}

// CompleteUpload marks the session finalized. Completing an already
// completed session affects no rows, which callers treat as idempotent
// success.
func (s *Store) CompleteUpload(ctx context.Context, uploadID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, sqlCompleteUpload, now.UnixNano(), uploadID)
	if err != nil {
		return fmt.Errorf("engine: completing upload %s: %w", uploadID, err)
	}

	return nil
}

// ListExpiredUploads returns incomplete sessions created before cutoff.
func (s *Store) ListExpiredUploads(ctx context.Context, cutoff time.Time) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, sqlListExpiredUploads, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("engine: listing expired uploads: %w", err)
	}
	defer rows.Close()

	var uploads []Upload

	for rows.Next() {
		u, err := scanUpload(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("engine: scanning upload row: %w", err)
		}

		uploads = append(uploads, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating upload rows: %w", err)
	}

	return uploads, nil
}

// DeleteIncompleteUpload removes an incomplete session and its chunk
// records. Completed sessions are never deleted here; their row is the
// durable record of the finalized file.
func (s *Store) DeleteIncompleteUpload(ctx context.Context, uploadID string) error {
	_, err := s.db.ExecContext(ctx, sqlDeleteIncompleteUpload, uploadID)
	if err != nil {
		return fmt.Errorf("engine: deleting upload %s: %w", uploadID, err)
	}

	return nil
}

func scanUpload(scan func(...any) error) (*Upload, error) {
	var (
		u           Upload
		device      sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)

	err := scan(&u.ID, &u.OwnerID, &device, &u.TargetPath,
		&u.TotalSize, &u.ChunkSize, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	u.DeviceID = device.String
	u.CreatedAt = time.Unix(0, createdAt)

	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64)
		u.CompletedAt = &t
	}

	return &u, nil
}
