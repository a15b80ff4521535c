package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/rate"
)

const testMaxChunkSize = 1 << 20

type uploadFixture struct {
	store   *Store
	blobs   *blob.Store
	staging *blob.Staging
	manager *UploadManager
	clock   *clockwork.FakeClock
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()

	dir := t.TempDir()

	blobs, err := blob.NewStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	staging, err := blob.NewStaging(filepath.Join(dir, "staging"))
	require.NoError(t, err)

	store := newTestStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	limiter := rate.NewLimiter(clock)

	manager := NewUploadManager(store, staging, blobs, limiter, audit.Discard{},
		clock, testMaxChunkSize, testLogger())

	return &uploadFixture{
		store: store, blobs: blobs, staging: staging, manager: manager, clock: clock,
	}
}

func TestUploadRoundTrip(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("filedrift"), 100) // 900 bytes

	u, err := f.manager.Open(ctx, "alice", "", "docs/big.bin", int64(len(payload)), 400)
	require.NoError(t, err)
	require.Equal(t, 3, u.ChunkCount())

	// Chunks arrive out of order.
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 2, payload[800:]))
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, payload[:400]))
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 1, payload[400:800]))

	done, err := f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	r, err := f.blobs.Open("alice", "docs/big.bin")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// A device-less upload is authoritative immediately.
	serverFiles, err := f.store.LoadServerFiles(ctx, "alice")
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	sf := serverFiles["docs/big.bin"]
	assert.Equal(t, hex.EncodeToString(sum[:]), sf.Hash)
	assert.Equal(t, int64(len(payload)), sf.Size)
}

func TestUploadChunkRetryIsIdempotent(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	payload := []byte("0123456789")

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 10, 5)
	require.NoError(t, err)

	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, payload[:5]))
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, payload[:5])) // retry
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 1, payload[5:]))

	_, err = f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)

	r, err := f.blobs.Open("alice", "a.bin")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUploadShortFinalChunk(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	// 7 bytes at chunk size 5: final chunk must be exactly 2 bytes.
	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 7, 5)
	require.NoError(t, err)
	require.Equal(t, 2, u.ChunkCount())

	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, []byte("01234")))
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 1, []byte("56")))

	_, err = f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)
}

func TestUploadChunkSizeMismatch(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 10, 5)
	require.NoError(t, err)

	err = f.manager.PutChunk(ctx, u.ID, 0, []byte("0123"))
	assert.ErrorIs(t, err, ErrSizeMismatch)

	err = f.manager.PutChunk(ctx, u.ID, 1, []byte("01234"))
	assert.ErrorIs(t, err, ErrSizeMismatch) // final chunk must be the remainder
}

func TestUploadChunkIndexOutOfRange(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 10, 5)
	require.NoError(t, err)

	err = f.manager.PutChunk(ctx, u.ID, 2, []byte("01234"))
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = f.manager.PutChunk(ctx, u.ID, -1, []byte("01234"))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestUploadFinalizeIncomplete(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 10, 5)
	require.NoError(t, err)

	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, []byte("01234")))

	_, err = f.manager.Finalize(ctx, u.ID)
	assert.ErrorIs(t, err, ErrIncomplete)

	// The session stays open; completing it still works.
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 1, []byte("56789")))

	_, err = f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)
}

func TestUploadFinalizeIdempotent(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 5, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, []byte("01234")))

	first, err := f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)

	second, err := f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt.UnixNano(), second.CompletedAt.UnixNano())
}

func TestUploadRejectsChunksAfterFinalize(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 5, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, []byte("01234")))

	_, err = f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)

	err = f.manager.PutChunk(ctx, u.ID, 0, []byte("01234"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadOpenValidation(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "alice", "", "a.bin", 0, 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.manager.Open(ctx, "alice", "", "a.bin", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.manager.Open(ctx, "alice", "", "a.bin", 10, testMaxChunkSize+1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.manager.Open(ctx, "alice", "", "../escape.bin", 10, 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.manager.Open(ctx, "", "", "a.bin", 10, 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.manager.Open(ctx, "alice", "ghost", "a.bin", 10, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadDeviceBoundLandsInPendingNamespace(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	registerTestDevice(t, f.store, "alice", "dev1")

	u, err := f.manager.Open(ctx, "alice", "dev1", "docs/a.txt", 5, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, []byte("hello")))

	_, err = f.manager.Finalize(ctx, u.ID)
	require.NoError(t, err)

	assert.True(t, f.blobs.Exists("alice", ".sync/dev1/docs/a.txt"))
	assert.False(t, f.blobs.Exists("alice", "docs/a.txt"))

	// Pending payloads are not authoritative until a run commits them.
	serverFiles, err := f.store.LoadServerFiles(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, serverFiles)
}

func TestUploadDeviceOwnershipChecked(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	registerTestDevice(t, f.store, "bob", "dev-bob")

	_, err := f.manager.Open(ctx, "alice", "dev-bob", "a.txt", 5, 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUploadProgress(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	u, err := f.manager.Open(ctx, "alice", "", "a.bin", 15, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 2, []byte("abcde")))
	require.NoError(t, f.manager.PutChunk(ctx, u.ID, 0, []byte("01234")))

	got, received, err := f.manager.Progress(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []int{0, 2}, received)
}

func TestSweeperExpiresStaleIncompleteUploads(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	stale, err := f.manager.Open(ctx, "alice", "", "stale.bin", 10, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.PutChunk(ctx, stale.ID, 0, []byte("01234")))

	done, err := f.manager.Open(ctx, "alice", "", "done.bin", 5, 5)
	require.NoError(t, err)
	require.NoError(t, f.manager.PutChunk(ctx, done.ID, 0, []byte("01234")))
	_, err = f.manager.Finalize(ctx, done.ID)
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)

	fresh, err := f.manager.Open(ctx, "alice", "", "fresh.bin", 10, 5)
	require.NoError(t, err)

	sweeper := NewSweeper(f.store, f.staging, f.clock, 24*time.Hour, 7*24*time.Hour,
		audit.Discard{}, testLogger())
	sweeper.Sweep(ctx)

	// The stale incomplete session is gone, chunks included.
	_, err = f.store.GetUpload(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	indices, err := f.staging.ChunkIndices(stale.ID)
	require.NoError(t, err)
	assert.Empty(t, indices)

	// Completed and fresh sessions survive.
	_, err = f.store.GetUpload(ctx, done.ID)
	assert.NoError(t, err)
	_, err = f.store.GetUpload(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestUploadLimiterPacesChunks(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	limiter := rate.NewLimiter(f.clock)
	limiter.SetLimit("alice", rate.Upload, 100) // 100 B/s

	manager := NewUploadManager(f.store, f.staging, f.blobs, limiter, audit.Discard{},
		f.clock, testMaxChunkSize, testLogger())

	u, err := manager.Open(ctx, "alice", "", "a.bin", 200, 100)
	require.NoError(t, err)

	// First chunk drains the initial burst and is admitted immediately.
	require.NoError(t, manager.PutChunk(ctx, u.ID, 0, bytes.Repeat([]byte("x"), 100)))

	// Second chunk owes a full second of refill.
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- manager.PutChunk(ctx, u.ID, 1, bytes.Repeat([]byte("y"), 100))
	}()

	f.clock.BlockUntilContext(ctx, 1)
	f.clock.Advance(time.Second)
	require.NoError(t, <-doneCh)
}
