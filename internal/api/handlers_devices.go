package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/engine"
)

type deviceResponse struct {
	DeviceID   string    `json:"device_id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func toDeviceResponse(d *engine.Device) deviceResponse {
	return deviceResponse{
		DeviceID:   d.ID,
		OwnerID:    d.OwnerID,
		Name:       d.Name,
		LastSeenAt: d.LastSeenAt,
		CreatedAt:  d.CreatedAt,
	}
}

func (s *Server) registerDevice(c *fiber.Ctx) error {
	var req struct {
		OwnerID  string `json:"owner_id"`
		DeviceID string `json:"device_id"`
		Name     string `json:"name"`
	}

	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "malformed request body")
	}

	device, err := s.deps.Store.RegisterDevice(c.Context(), req.OwnerID, req.DeviceID, req.Name, s.deps.Clock.Now())
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toDeviceResponse(device))
}

func (s *Server) listDevices(c *fiber.Ctx) error {
	owner := c.Query("owner")
	if owner == "" {
		return s.badRequest(c, "owner query parameter is required")
	}

	devices, err := s.deps.Store.ListDevices(c.Context(), owner)
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		out = append(out, toDeviceResponse(&devices[i]))
	}

	return c.JSON(out)
}

func (s *Server) getDevice(c *fiber.Ctx) error {
	device, err := s.deps.Store.GetDevice(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(toDeviceResponse(device))
}

func (s *Server) removeDevice(c *fiber.Ctx) error {
	deviceID := c.Params("id")

	device, err := s.deps.Store.GetDevice(c.Context(), deviceID)
	if err != nil {
		return s.fail(c, err)
	}

	uploadIDs, err := s.deps.Store.RemoveDevice(c.Context(), deviceID)
	if err != nil {
		return s.fail(c, err)
	}

	// Cascaded uploads leave staged chunks behind; release them now
	// instead of waiting for the sweeper.
	for _, id := range uploadIDs {
		if err := s.deps.Staging.Remove(id); err != nil {
			s.deps.Logger.Warn("releasing staged chunks", "upload_id", id, "error", err)
		}
	}

	s.deps.Auditor.Record(audit.Event{
		Time:     s.deps.Clock.Now(),
		Type:     audit.TypeDeviceRemoved,
		OwnerID:  device.OwnerID,
		DeviceID: deviceID,
	})

	return c.SendStatus(fiber.StatusNoContent)
}
