package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/rate"
)

// pendingRoot is the blob namespace where device sync payloads wait
// between upload finalization and run commit.
const pendingRoot = ".sync"

// pendingPath maps a device's target path into its pending namespace.
func pendingPath(deviceID, p string) string {
	return path.Join(pendingRoot, deviceID, p)
}

// UploadManager runs chunked upload sessions: open, receive chunks,
// finalize into the blob store. Device-bound uploads land in the
// pending namespace and become authoritative at run commit; uploads
// without a device install directly at their canonical path.
type UploadManager struct {
	store        *Store
	staging      *blob.Staging
	blobs        *blob.Store
	limiter      *rate.Limiter
	auditor      audit.Recorder
	clock        clockwork.Clock
	maxChunkSize int64
	logger       *slog.Logger
}

// NewUploadManager wires an upload manager.
func NewUploadManager(
	store *Store,
	staging *blob.Staging,
	blobs *blob.Store,
	limiter *rate.Limiter,
	auditor audit.Recorder,
	clock clockwork.Clock,
	maxChunkSize int64,
	logger *slog.Logger,
) *UploadManager {
	return &UploadManager{
		store:        store,
		staging:      staging,
		blobs:        blobs,
		limiter:      limiter,
		auditor:      auditor,
		clock:        clock,
		maxChunkSize: maxChunkSize,
		logger:       logger,
	}
}

// Open creates an upload session. A non-empty deviceID binds the upload
// to that device's sync flow and requires the device to exist.
func (m *UploadManager) Open(ctx context.Context, ownerID, deviceID, targetPath string, totalSize, chunkSize int64) (*Upload, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: empty owner id", ErrInvalidArgument)
	}

	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size %d", ErrInvalidArgument, totalSize)
	}

	if chunkSize <= 0 || chunkSize > m.maxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d (max %d)", ErrInvalidArgument, chunkSize, m.maxChunkSize)
	}

	normalized, err := NormalizePath(targetPath)
	if err != nil {
		return nil, err
	}

	if deviceID != "" {
		device, err := m.store.GetDevice(ctx, deviceID)
		if err != nil {
			return nil, err
		}

		if device.OwnerID != ownerID {
			return nil, fmt.Errorf("%w: device %s belongs to another owner", ErrInvalidArgument, deviceID)
		}
	}

	u := &Upload{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		DeviceID:   deviceID,
		TargetPath: normalized,
		TotalSize:  totalSize,
		ChunkSize:  chunkSize,
		CreatedAt:  m.clock.Now(),
	}

	if err := m.store.InsertUpload(ctx, u); err != nil {
		return nil, err
	}

	m.logger.Info("upload opened",
		"upload_id", u.ID, "owner_id", ownerID, "path", normalized,
		"total_size", totalSize, "chunks", u.ChunkCount())
	m.auditor.Record(audit.Event{
		Time:     u.CreatedAt,
		Type:     audit.TypeUploadOpened,
		OwnerID:  ownerID,
		DeviceID: deviceID,
		UploadID: u.ID,
		Path:     normalized,
	})

	return u, nil
}

// PutChunk stores one chunk of an open session. Chunks may arrive in
// any order and may be retried; every chunk except the last must be
// exactly chunk_size bytes, the last exactly the remainder. The owner's
// upload limit is charged before the chunk is staged.
func (m *UploadManager) PutChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	u, err := m.store.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}

	// A finalized session has released its chunks; it no longer accepts any.
	if u.CompletedAt != nil {
		return fmt.Errorf("%w: upload %s already finalized", ErrNotFound, uploadID)
	}

	count := u.ChunkCount()
	if index < 0 || index >= count {
		return fmt.Errorf("%w: chunk index %d of %d", ErrOutOfRange, index, count)
	}

	expected := u.ChunkSize
	if index == count-1 {
		expected = u.TotalSize - int64(count-1)*u.ChunkSize
	}

	if int64(len(data)) != expected {
		return fmt.Errorf("%w: chunk %d is %d bytes, want %d",
			ErrSizeMismatch, index, len(data), expected)
	}

	if err := m.limiter.Wait(ctx, u.OwnerID, rate.Upload, int64(len(data))); err != nil {
		return err
	}

	if err := m.staging.WriteChunk(uploadID, index, data); err != nil {
		return err
	}

	return m.store.MarkChunkReceived(ctx, uploadID, index, m.clock.Now())
}

// Finalize assembles a complete session into the blob store and marks
// it done. Finalizing an already finalized session returns the session
// unchanged. Missing chunks fail with ErrIncomplete; an assembled size
// that disagrees with the declared total fails with ErrSizeMismatch and
// leaves the session open.
func (m *UploadManager) Finalize(ctx context.Context, uploadID string) (*Upload, error) {
	u, err := m.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if u.CompletedAt != nil {
		return u, nil
	}

	received, err := m.store.ReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	count := u.ChunkCount()
	if len(received) != count {
		return nil, fmt.Errorf("%w: upload %s has %d of %d chunks",
			ErrIncomplete, uploadID, len(received), count)
	}

	hash, size, tmpName, err := m.assemble(ctx, u, count)
	if err != nil {
		return nil, err
	}

	if size != u.TotalSize {
		os.Remove(tmpName)

		return nil, fmt.Errorf("%w: assembled %d bytes, declared %d",
			ErrSizeMismatch, size, u.TotalSize)
	}

	installPath := u.TargetPath
	if u.DeviceID != "" {
		installPath = pendingPath(u.DeviceID, u.TargetPath)
	}

	if err := m.blobs.Install(tmpName, u.OwnerID, installPath); err != nil {
		os.Remove(tmpName)

		return nil, err
	}

	now := m.clock.Now()

	// Direct uploads become authoritative immediately. Device-bound
	// payloads stay pending until the device's next run commit.
	if u.DeviceID == "" {
		err := m.store.UpsertServerFile(ctx, ServerFile{
			OwnerID: u.OwnerID,
			Path:    u.TargetPath,
			Hash:    hash,
			Size:    size,
			Mtime:   now.UnixNano(),
		})
		if err != nil {
			return nil, err
		}
	}

	if err := m.store.CompleteUpload(ctx, uploadID, now); err != nil {
		return nil, err
	}

	if err := m.staging.Remove(uploadID); err != nil {
		m.logger.Warn("leaving stale staging dir", "upload_id", uploadID, "error", err)
	}

	u.CompletedAt = &now

	m.logger.Info("upload finalized",
		"upload_id", uploadID, "owner_id", u.OwnerID, "path", u.TargetPath,
		"size", size, "hash", hash)
	m.auditor.Record(audit.Event{
		Time:     now,
		Type:     audit.TypeUploadDone,
		OwnerID:  u.OwnerID,
		DeviceID: u.DeviceID,
		UploadID: uploadID,
		Path:     u.TargetPath,
	})

	return u, nil
}

// assemble concatenates staged chunks into a blob temp file, hashing as
// it goes, and returns the hex digest, byte count, and temp path.
func (m *UploadManager) assemble(ctx context.Context, u *Upload, count int) (string, int64, string, error) {
	tmp, err := m.blobs.CreateTemp()
	if err != nil {
		return "", 0, "", err
	}

	hasher := sha256.New()
	out := io.MultiWriter(tmp, hasher)

	var total int64

	for i := 0; i < count; i++ {
		n, err := m.copyChunk(ctx, u, i, out)
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())

			return "", 0, "", err
		}

		total += n
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", 0, "", fmt.Errorf("engine: closing assembly for %s: %w", u.ID, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), total, tmp.Name(), nil
}

func (m *UploadManager) copyChunk(ctx context.Context, u *Upload, index int, out io.Writer) (int64, error) {
	f, err := m.staging.OpenChunk(u.ID, index)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: chunk %d of %s missing from staging", ErrIncomplete, index, u.ID)
	}

	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(out, f)
	if err != nil {
		return 0, fmt.Errorf("engine: assembling chunk %d of %s: %w", index, u.ID, err)
	}

	return n, nil
}

// Progress returns the session and the chunk indices received so far.
func (m *UploadManager) Progress(ctx context.Context, uploadID string) (*Upload, []int, error) {
	u, err := m.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}

	received, err := m.store.ReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}

	return u, received, nil
}
