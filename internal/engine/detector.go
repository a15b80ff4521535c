package engine

import "sort"

// DetectChanges compares a device's baseline manifest against its newly
// submitted report and partitions the differences into added, modified,
// deleted, and conflicted sets. Pure: no I/O, deterministic output order.
//
// A path is conflicted when the device changed it AND the server's own copy
// was modified after the device's last successful sync (serverFiles carries
// the server's independent last-modified record). Paths missing from the
// report, or explicitly reported deleted, honor syncDeletions; a device
// deletion never removes a server copy that changed since the last sync.
func DetectChanges(
	baseline map[string]ManifestEntry,
	report []ReportEntry,
	serverFiles map[string]ServerFile,
	syncDeletions bool,
) *ChangeSet {
	cs := &ChangeSet{}
	seen := make(map[string]bool, len(report))

	for _, e := range report {
		seen[e.Path] = true

		base, hasBase := baseline[e.Path]
		if base.Deleted {
			hasBase = false
		}

		switch {
		case e.Deleted:
			if hasBase && syncDeletions && !serverModifiedSince(serverFiles, e.Path, base.LastSyncedAt) {
				cs.Deleted = append(cs.Deleted, e.Path)
			}

		case !hasBase:
			cs.Added = append(cs.Added, e)

		case e.Hash == base.Hash:
			// Unchanged.

		case e.Hash == serverFiles[e.Path].Hash:
			// Convergent edit: both sides changed to identical content.
			// Commit as a plain modification so the baseline catches up.
			cs.Modified = append(cs.Modified, e)

		case serverModifiedSince(serverFiles, e.Path, base.LastSyncedAt):
			cs.Conflicted = append(cs.Conflicted, Conflict{
				Path:   e.Path,
				Device: e,
				Server: serverFiles[e.Path],
			})

		default:
			cs.Modified = append(cs.Modified, e)
		}
	}

	// Baseline paths absent from the report count as device-side deletions.
	for p, base := range baseline {
		if seen[p] || base.Deleted {
			continue
		}

		if syncDeletions && !serverModifiedSince(serverFiles, p, base.LastSyncedAt) {
			cs.Deleted = append(cs.Deleted, p)
		}
	}

	sortChangeSet(cs)

	return cs
}

// serverModifiedSince reports whether the server copy of path changed after
// the given sync timestamp.
func serverModifiedSince(serverFiles map[string]ServerFile, path string, lastSyncedAt int64) bool {
	sf, ok := serverFiles[path]
	return ok && sf.Mtime > lastSyncedAt
}

// sortChangeSet orders every partition by path so change sets are
// deterministic regardless of map iteration order.
func sortChangeSet(cs *ChangeSet) {
	sort.Slice(cs.Added, func(i, j int) bool { return cs.Added[i].Path < cs.Added[j].Path })
	sort.Slice(cs.Modified, func(i, j int) bool { return cs.Modified[i].Path < cs.Modified[j].Path })
	sort.Strings(cs.Deleted)
	sort.Slice(cs.Conflicted, func(i, j int) bool { return cs.Conflicted[i].Path < cs.Conflicted[j].Path })
}
