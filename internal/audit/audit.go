// Package audit records the engine's notable actions: sync run
// outcomes, device removals, upload finalizations, expiry sweeps.
// Recorders are fire-and-forget; the engine never blocks on or fails
// because of an audit sink.
package audit

import (
	"log/slog"
	"time"
)

// Event types recorded by the engine.
const (
	TypeRunCompleted  = "run_completed"
	TypeRunFailed     = "run_failed"
	TypeRunSkipped    = "run_skipped"
	TypeDeviceRemoved = "device_removed"
	TypeUploadOpened  = "upload_opened"
	TypeUploadDone    = "upload_finalized"
	TypeUploadExpired = "upload_expired"
)

// Event is one auditable engine action.
type Event struct {
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	OwnerID    string    `json:"owner_id,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	UploadID   string    `json:"upload_id,omitempty"`
	Path       string    `json:"path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Recorder consumes audit events.
type Recorder interface {
	Record(Event)
}

// LogRecorder writes events to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a Recorder backed by logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record logs the event with one attribute per populated field.
func (r *LogRecorder) Record(e Event) {
	attrs := []any{"type", e.Type}

	if e.OwnerID != "" {
		attrs = append(attrs, "owner_id", e.OwnerID)
	}

	if e.DeviceID != "" {
		attrs = append(attrs, "device_id", e.DeviceID)
	}

	if e.ScheduleID != "" {
		attrs = append(attrs, "schedule_id", e.ScheduleID)
	}

	if e.UploadID != "" {
		attrs = append(attrs, "upload_id", e.UploadID)
	}

	if e.Path != "" {
		attrs = append(attrs, "path", e.Path)
	}

	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}

	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
		r.logger.Warn("audit", attrs...)

		return
	}

	r.logger.Info("audit", attrs...)
}

// Fanout delivers each event to every recorder in order.
type Fanout []Recorder

// Record implements Recorder.
func (f Fanout) Record(e Event) {
	for _, r := range f {
		r.Record(e)
	}
}

// Discard drops all events. Useful default when no sink is configured.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(Event) {}
