package blob

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	return s
}

func install(t *testing.T, s *Store, owner, rel string, data []byte) {
	t.Helper()

	tmp, err := s.CreateTemp()
	require.NoError(t, err)

	_, err = tmp.Write(data)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	require.NoError(t, s.Install(tmp.Name(), owner, rel))
}

func TestStoreInstallAndOpen(t *testing.T) {
	s := newTestStore(t)

	install(t, s, "alice", "docs/nested/a.txt", []byte("payload"))

	f, err := s.Open("alice", "docs/nested/a.txt")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	info, err := s.Stat("alice", "docs/nested/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size())
}

func TestStoreOwnersIsolated(t *testing.T) {
	s := newTestStore(t)

	install(t, s, "alice", "a.txt", []byte("alice data"))

	assert.False(t, s.Exists("bob", "a.txt"))
	_, err := s.Open("bob", "a.txt")
	assert.Error(t, err)
}

func TestStoreRejectsUnsafePaths(t *testing.T) {
	s := newTestStore(t)

	for _, bad := range []string{"../escape", "/abs", "..", ""} {
		_, err := s.Open("alice", bad)
		assert.ErrorIs(t, err, ErrUnsafePath, "path %q", bad)
	}

	for _, badOwner := range []string{"", "a/b", `a\b`} {
		_, err := s.Open(badOwner, "a.txt")
		assert.ErrorIs(t, err, ErrUnsafePath, "owner %q", badOwner)
	}
}

func TestStorePromote(t *testing.T) {
	s := newTestStore(t)

	install(t, s, "alice", ".sync/dev1/a.txt", []byte("pending"))
	require.NoError(t, s.Promote("alice", ".sync/dev1/a.txt", "a.txt"))

	assert.True(t, s.Exists("alice", "a.txt"))
	assert.False(t, s.Exists("alice", ".sync/dev1/a.txt"))
}

func TestStoreCopy(t *testing.T) {
	s := newTestStore(t)

	install(t, s, "alice", "a.txt", []byte("original"))
	require.NoError(t, s.Copy("alice", "a.txt", "b.txt"))

	f, err := s.Open("alice", "b.txt")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
	assert.True(t, s.Exists("alice", "a.txt"))
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := newTestStore(t)

	install(t, s, "alice", "a.txt", []byte("x"))
	require.NoError(t, s.Remove("alice", "a.txt"))
	require.NoError(t, s.Remove("alice", "a.txt"))
	assert.False(t, s.Exists("alice", "a.txt"))
}

func TestStagingRoundTrip(t *testing.T) {
	st, err := NewStaging(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	require.NoError(t, st.WriteChunk("up1", 1, []byte("bbb")))
	require.NoError(t, st.WriteChunk("up1", 0, []byte("aaa")))
	require.NoError(t, st.WriteChunk("up1", 0, []byte("AAA"))) // overwrite

	indices, err := st.ChunkIndices("up1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indices)

	f, err := st.OpenChunk("up1", 0)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAA"), data)
}

func TestStagingRemove(t *testing.T) {
	st, err := NewStaging(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	require.NoError(t, st.WriteChunk("up1", 0, []byte("aaa")))
	require.NoError(t, st.Remove("up1"))
	require.NoError(t, st.Remove("up1")) // idempotent

	indices, err := st.ChunkIndices("up1")
	require.NoError(t, err)
	assert.Empty(t, indices)

	_, err = st.OpenChunk("up1", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStagingUnknownUploadHasNoChunks(t *testing.T) {
	st, err := NewStaging(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	indices, err := st.ChunkIndices("ghost")
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestStagingRejectsUnsafeUploadIDs(t *testing.T) {
	st, err := NewStaging(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	for _, bad := range []string{"", "../up", "a/b", "..", "a.b"} {
		err := st.WriteChunk(bad, 0, []byte("x"))
		assert.ErrorIs(t, err, ErrUnsafePath, "upload id %q", bad)
	}
}
