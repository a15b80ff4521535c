package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/engine"
)

type scheduleResponse struct {
	ScheduleID    string     `json:"schedule_id"`
	DeviceID      string     `json:"device_id"`
	Type          string     `json:"type"`
	TimeOfDay     string     `json:"time_of_day"`
	Enabled       bool       `json:"enabled"`
	SyncDeletions bool       `json:"sync_deletions"`
	Policy        string     `json:"conflict_policy"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toScheduleResponse(sched *engine.Schedule) scheduleResponse {
	return scheduleResponse{
		ScheduleID:    sched.ID,
		DeviceID:      sched.DeviceID,
		Type:          string(sched.Type),
		TimeOfDay:     sched.TimeOfDay,
		Enabled:       sched.Enabled,
		SyncDeletions: sched.SyncDeletions,
		Policy:        string(sched.Policy),
		LastRunAt:     sched.LastRunAt,
		NextRunAt:     sched.NextRunAt,
		CreatedAt:     sched.CreatedAt,
		UpdatedAt:     sched.UpdatedAt,
	}
}

func (s *Server) createSchedule(c *fiber.Ctx) error {
	var req struct {
		DeviceID      string `json:"device_id"`
		Type          string `json:"type"`
		TimeOfDay     string `json:"time_of_day"`
		SyncDeletions bool   `json:"sync_deletions"`
		Policy        string `json:"conflict_policy"`
	}

	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "malformed request body")
	}

	sched, err := s.deps.Store.CreateSchedule(c.Context(), req.DeviceID, engine.ScheduleConfig{
		Type:          engine.ScheduleType(req.Type),
		TimeOfDay:     req.TimeOfDay,
		SyncDeletions: req.SyncDeletions,
		Policy:        engine.ConflictPolicy(req.Policy),
	}, s.deps.Clock.Now())
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toScheduleResponse(sched))
}

func (s *Server) listSchedules(c *fiber.Ctx) error {
	device := c.Query("device")
	if device == "" {
		return s.badRequest(c, "device query parameter is required")
	}

	schedules, err := s.deps.Store.ListSchedules(c.Context(), device)
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]scheduleResponse, 0, len(schedules))
	for i := range schedules {
		out = append(out, toScheduleResponse(&schedules[i]))
	}

	return c.JSON(out)
}

func (s *Server) getSchedule(c *fiber.Ctx) error {
	sched, err := s.deps.Store.GetSchedule(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(toScheduleResponse(sched))
}

func (s *Server) disableSchedule(c *fiber.Ctx) error {
	if err := s.deps.Store.DisableSchedule(c.Context(), c.Params("id"), s.deps.Clock.Now()); err != nil {
		return s.fail(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) enableSchedule(c *fiber.Ctx) error {
	sched, err := s.deps.Store.EnableSchedule(c.Context(), c.Params("id"), s.deps.Clock.Now())
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(toScheduleResponse(sched))
}
