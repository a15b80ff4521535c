package api

import (
	"errors"
	"io/fs"

	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/engine"
)

// httpStatus maps engine errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fiber.StatusNotFound
	case errors.Is(err, engine.ErrConflict), errors.Is(err, engine.ErrIncomplete):
		return fiber.StatusConflict
	case errors.Is(err, engine.ErrInvalidArgument),
		errors.Is(err, engine.ErrSizeMismatch),
		errors.Is(err, engine.ErrOutOfRange),
		errors.Is(err, blob.ErrUnsafePath):
		return fiber.StatusBadRequest
	case errors.Is(err, engine.ErrLocked):
		return fiber.StatusLocked
	case errors.Is(err, engine.ErrTransient):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// fail renders an error response, logging only unexpected failures.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := httpStatus(err)
	if status == fiber.StatusInternalServerError {
		s.deps.Logger.Error("request failed",
			"method", c.Method(), "path", c.Path(), "error", err)
	}

	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// badRequest renders a 400 with a plain message.
func (s *Server) badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
