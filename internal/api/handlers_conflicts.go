package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/engine"
)

type conflictResponse struct {
	ConflictID  string     `json:"conflict_id"`
	DeviceID    string     `json:"device_id"`
	Path        string     `json:"path"`
	DeviceHash  string     `json:"device_hash"`
	DeviceSize  int64      `json:"device_size"`
	DeviceMtime int64      `json:"device_mtime"`
	ServerMtime int64      `json:"server_mtime"`
	DetectedAt  time.Time  `json:"detected_at"`
	Resolution  string     `json:"resolution"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func toConflictResponse(rec *engine.ConflictRecord) conflictResponse {
	out := conflictResponse{
		ConflictID:  rec.ID,
		DeviceID:    rec.DeviceID,
		Path:        rec.Path,
		DeviceHash:  rec.DeviceHash,
		DeviceSize:  rec.DeviceSize,
		DeviceMtime: rec.DeviceMtime,
		ServerMtime: rec.ServerMtime,
		DetectedAt:  time.Unix(0, rec.DetectedAt),
		Resolution:  rec.Resolution,
	}

	if rec.ResolvedAt != nil {
		t := time.Unix(0, *rec.ResolvedAt)
		out.ResolvedAt = &t
	}

	return out
}

func (s *Server) listConflicts(c *fiber.Ctx) error {
	device := c.Query("device")
	if device == "" {
		return s.badRequest(c, "device query parameter is required")
	}

	records, err := s.deps.Store.ListConflicts(c.Context(), device)
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]conflictResponse, 0, len(records))
	for i := range records {
		out = append(out, toConflictResponse(&records[i]))
	}

	return c.JSON(out)
}

func (s *Server) resolveConflict(c *fiber.Ctx) error {
	var req struct {
		Resolution string `json:"resolution"`
	}

	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "malformed request body")
	}

	err := s.deps.Runner.ResolveConflict(c.Context(), c.Params("id"), req.Resolution, s.deps.Clock.Now())
	if err != nil {
		return s.fail(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
