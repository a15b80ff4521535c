// Package engine implements the multi-device file synchronization engine:
// device and schedule registry, change detection, conflict resolution, the
// scheduler poll loop, chunked uploads, and the upload expiry sweeper. All
// engine state is persisted in an embedded SQLite database; file payloads
// live in a blob store managed by internal/blob.
package engine

import "time"

// ScheduleType is the recurrence cadence of a sync schedule.
type ScheduleType string

// Schedule cadences as stored in the schedule_type column.
const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// ConflictPolicy selects how both-sides-modified entries are resolved.
type ConflictPolicy string

// Conflict policies as stored in the conflict_policy column.
const (
	PolicyKeepNewest ConflictPolicy = "keep_newest"
	PolicyKeepBoth   ConflictPolicy = "keep_both"
	PolicyManual     ConflictPolicy = "manual"
)

// Device is a registered sync endpoint. Device IDs are stable external
// identifiers, unique per owning user. Devices are never implicitly
// deleted; explicit removal cascades schedules and uploads.
type Device struct {
	ID         string
	OwnerID    string
	Name       string
	LastSeenAt time.Time
	CreatedAt  time.Time
}

// Schedule is a recurring sync schedule owned by a device. NextRunAt is
// always present while the schedule is enabled.
type Schedule struct {
	ID            string
	DeviceID      string
	Type          ScheduleType
	TimeOfDay     string // "HH:MM", server-local time
	Enabled       bool
	SyncDeletions bool
	Policy        ConflictPolicy
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScheduleConfig is the caller-supplied portion of a schedule.
type ScheduleConfig struct {
	Type          ScheduleType
	TimeOfDay     string
	SyncDeletions bool
	Policy        ConflictPolicy
}

// ManifestEntry is one path in a device's baseline manifest: the
// last-synchronized state used for change detection. ServerMtime is the
// server copy's own last-modified record at commit time; LastSyncedAt is
// the commit timestamp. Both are Unix nanoseconds, matching the storage
// columns.
type ManifestEntry struct {
	Path         string
	Hash         string
	Size         int64
	Mtime        int64
	ServerMtime  int64
	LastSyncedAt int64
	Deleted      bool
}

// ReportEntry is one path in a device-submitted manifest report.
type ReportEntry struct {
	Path    string
	Hash    string
	Size    int64
	Mtime   int64 // Unix nanoseconds
	Deleted bool
}

// ServerFile is the authoritative server-side state of one stored path.
type ServerFile struct {
	OwnerID string
	Path    string
	Hash    string
	Size    int64
	Mtime   int64 // Unix nanoseconds
}

// Conflict is a path modified independently on both device and server
// since the device's last successful sync.
type Conflict struct {
	Path   string
	Device ReportEntry // the incoming device version
	Server ServerFile  // the current server version
}

// ChangeSet partitions a manifest comparison into the four outcome classes.
type ChangeSet struct {
	Added      []ReportEntry
	Modified   []ReportEntry
	Deleted    []string
	Conflicted []Conflict
}

// Empty reports whether the change set contains no work.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 &&
		len(cs.Deleted) == 0 && len(cs.Conflicted) == 0
}

// RenamedCopy records a keep_both outcome: the device version is stored
// under a disambiguated path so neither version is discarded.
type RenamedCopy struct {
	OriginalPath string
	NewPath      string
	Entry        ReportEntry
}

// Resolution is the output of applying a conflict policy to a change set's
// conflicted entries.
type Resolution struct {
	// DeviceWins entries are committed as if they were plain modifications.
	DeviceWins []ReportEntry
	// ServerWins paths keep the server copy; the baseline is re-pointed at
	// the server state so the next run does not re-conflict.
	ServerWins []Conflict
	// Renamed holds keep_both outcomes.
	Renamed []RenamedCopy
	// Unresolved conflicts are excluded from the manifest swap and
	// surfaced for explicit user decision.
	Unresolved []Conflict
}

// Upload is a chunked upload session record.
type Upload struct {
	ID          string
	OwnerID     string
	DeviceID    string // optional; empty for direct uploads
	TargetPath  string
	TotalSize   int64
	ChunkSize   int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ChunkCount returns the number of chunks implied by the upload's sizes.
func (u *Upload) ChunkCount() int {
	return int((u.TotalSize + u.ChunkSize - 1) / u.ChunkSize)
}

// BandwidthProfile holds per-owner byte-rate caps. A nil limit means
// unlimited in that direction.
type BandwidthProfile struct {
	OwnerID     string
	UploadBPS   *int64
	DownloadBPS *int64
}

// ConflictRecord is a persisted unresolved (or resolved) conflict surfaced
// to the owner under the manual policy.
type ConflictRecord struct {
	ID          string
	DeviceID    string
	Path        string
	DeviceHash  string
	DeviceSize  int64
	DeviceMtime int64
	ServerMtime int64
	DetectedAt  int64
	Resolution  string // unresolved, keep_device, keep_server
	ResolvedAt  *int64
}

// Conflict record resolution values.
const (
	ConflictUnresolved = "unresolved"
	ConflictKeepDevice = "keep_device"
	ConflictKeepServer = "keep_server"
)
