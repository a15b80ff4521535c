package engine

import "errors"

// Error taxonomy for the sync engine. Callers classify failures with
// errors.Is; the API layer maps each kind to an HTTP status. ErrTransient is
// the only kind the scheduler recovers from locally; everything else
// indicates a caller mistake or a terminal state and is surfaced directly.
var (
	// ErrConflict is returned when a device ID is already registered to a
	// different owner.
	ErrConflict = errors.New("engine: already registered to a different owner")

	// ErrNotFound is returned for unknown devices, schedules, and uploads.
	ErrNotFound = errors.New("engine: not found")

	// ErrInvalidArgument is returned for malformed parameters, such as a
	// non-positive upload size or an unsafe manifest path.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	// ErrSizeMismatch is returned when a chunk's byte length is wrong for
	// its position, or the assembled upload does not match total_size.
	ErrSizeMismatch = errors.New("engine: size mismatch")

	// ErrOutOfRange is returned when a chunk index exceeds the computed
	// chunk count.
	ErrOutOfRange = errors.New("engine: chunk index out of range")

	// ErrIncomplete is returned by Finalize while chunk indices are missing.
	ErrIncomplete = errors.New("engine: upload incomplete")

	// ErrLocked is returned when a sync run is already active for a device.
	ErrLocked = errors.New("engine: sync run already active for device")

	// ErrTransient marks recoverable I/O and transfer failures during a
	// run. The scheduler leaves the schedule due and retries next tick.
	ErrTransient = errors.New("engine: transient failure")
)
