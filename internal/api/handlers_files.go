package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/engine"
	"github.com/filedrift/filedrift/internal/rate"
)

// downloadFile streams a stored payload, paced by the owner's download
// limit.
func (s *Server) downloadFile(c *fiber.Ctx) error {
	owner := c.Query("owner")
	if owner == "" {
		return s.badRequest(c, "owner query parameter is required")
	}

	rel, err := engine.NormalizePath(c.Params("*"))
	if err != nil {
		return s.fail(c, err)
	}

	info, err := s.deps.Blobs.Stat(owner, rel)
	if err != nil {
		return s.fail(c, err)
	}

	f, err := s.deps.Blobs.Open(owner, rel)
	if err != nil {
		return s.fail(c, err)
	}

	// fiber closes the stream when the response has been sent.
	reader := s.deps.Limiter.LimitedReader(c.Context(), owner, rate.Download, f)

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)

	return c.SendStream(reader, int(info.Size()))
}
