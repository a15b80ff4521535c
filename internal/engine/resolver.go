package engine

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// conflictStampFormat timestamps keep_both copies. Second precision is
// enough: a device cannot produce two conflicting versions of the same
// path within one run.
const conflictStampFormat = "20060102T150405"

// Resolve applies a conflict policy to the conflicted entries of a change
// set. Pure: the caller commits the outcome.
//
//   - keep_newest: the later mtime wins; on an exact tie the server copy
//     wins, so device-side data is never silently preferred.
//   - keep_both: the device version is stored under a disambiguated path
//     and the original path keeps the server version.
//   - manual: entries stay unresolved, are excluded from the manifest swap,
//     and are re-evaluated on the next run.
func Resolve(cs *ChangeSet, policy ConflictPolicy, deviceID string, now time.Time) *Resolution {
	res := &Resolution{}

	for _, c := range cs.Conflicted {
		switch policy {
		case PolicyKeepNewest:
			if c.Device.Mtime > c.Server.Mtime {
				res.DeviceWins = append(res.DeviceWins, c.Device)
			} else {
				res.ServerWins = append(res.ServerWins, c)
			}

		case PolicyKeepBoth:
			copyEntry := c.Device
			copyEntry.Path = conflictCopyPath(c.Path, deviceID, now)

			res.Renamed = append(res.Renamed, RenamedCopy{
				OriginalPath: c.Path,
				NewPath:      copyEntry.Path,
				Entry:        copyEntry,
			})
			res.ServerWins = append(res.ServerWins, c)

		default: // PolicyManual and anything unrecognized: never discard data.
			res.Unresolved = append(res.Unresolved, c)
		}
	}

	return res
}

// conflictCopyPath builds the disambiguated path for a keep_both copy:
// "notes.txt" -> "notes.conflict-dev1-20260831T020000.txt".
func conflictCopyPath(p, deviceID string, now time.Time) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)

	return fmt.Sprintf("%s.conflict-%s-%s%s", base, deviceID, now.UTC().Format(conflictStampFormat), ext)
}
