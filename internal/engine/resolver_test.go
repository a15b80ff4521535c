package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictAt(path string, deviceMtime, serverMtime int64) Conflict {
	return Conflict{
		Path:   path,
		Device: ReportEntry{Path: path, Hash: "h-device", Size: 20, Mtime: deviceMtime},
		Server: ServerFile{Path: path, Hash: "h-server", Size: 22, Mtime: serverMtime},
	}
}

func TestResolveKeepNewestDeviceWins(t *testing.T) {
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("notes.txt", tsBase+20, tsBase+10)}}

	res := Resolve(cs, PolicyKeepNewest, "dev1", time.Now())

	require.Len(t, res.DeviceWins, 1)
	assert.Equal(t, "notes.txt", res.DeviceWins[0].Path)
	assert.Empty(t, res.ServerWins)
	assert.Empty(t, res.Unresolved)
}

func TestResolveKeepNewestServerWins(t *testing.T) {
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("notes.txt", tsBase+10, tsBase+20)}}

	res := Resolve(cs, PolicyKeepNewest, "dev1", time.Now())

	assert.Empty(t, res.DeviceWins)
	require.Len(t, res.ServerWins, 1)
	assert.Equal(t, "notes.txt", res.ServerWins[0].Path)
}

func TestResolveKeepNewestTieGoesToServer(t *testing.T) {
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("notes.txt", tsBase, tsBase)}}

	res := Resolve(cs, PolicyKeepNewest, "dev1", time.Now())

	assert.Empty(t, res.DeviceWins)
	require.Len(t, res.ServerWins, 1)
}

func TestResolveKeepBoth(t *testing.T) {
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("docs/notes.txt", tsBase+10, tsBase+20)}}

	res := Resolve(cs, PolicyKeepBoth, "dev1", now)

	require.Len(t, res.Renamed, 1)
	ren := res.Renamed[0]
	assert.Equal(t, "docs/notes.txt", ren.OriginalPath)
	assert.Equal(t, "docs/notes.conflict-dev1-20260831T020000.txt", ren.NewPath)
	assert.Equal(t, "h-device", ren.Entry.Hash)

	// The original path keeps the server version.
	require.Len(t, res.ServerWins, 1)
	assert.Equal(t, "docs/notes.txt", res.ServerWins[0].Path)
	assert.Empty(t, res.Unresolved)
}

func TestResolveKeepBothNoExtension(t *testing.T) {
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("Makefile", tsBase+10, tsBase+20)}}

	res := Resolve(cs, PolicyKeepBoth, "dev1", now)

	require.Len(t, res.Renamed, 1)
	assert.Equal(t, "Makefile.conflict-dev1-20260831T020000", res.Renamed[0].NewPath)
}

func TestResolveManualLeavesUnresolved(t *testing.T) {
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("notes.txt", tsBase+10, tsBase+20)}}

	res := Resolve(cs, PolicyManual, "dev1", time.Now())

	assert.Empty(t, res.DeviceWins)
	assert.Empty(t, res.ServerWins)
	assert.Empty(t, res.Renamed)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "notes.txt", res.Unresolved[0].Path)
}

func TestResolveUnknownPolicyNeverDiscardsData(t *testing.T) {
	cs := &ChangeSet{Conflicted: []Conflict{conflictAt("notes.txt", tsBase+10, tsBase+20)}}

	res := Resolve(cs, ConflictPolicy("bogus"), "dev1", time.Now())

	require.Len(t, res.Unresolved, 1)
}
