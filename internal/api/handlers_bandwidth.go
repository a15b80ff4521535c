package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/engine"
	"github.com/filedrift/filedrift/internal/rate"
)

type bandwidthPayload struct {
	UploadBPS   *int64 `json:"upload_bps"`
	DownloadBPS *int64 `json:"download_bps"`
}

// setBandwidth stores an owner's rate caps and applies them to the live
// limiter in the same request. Null or absent fields mean unlimited.
func (s *Server) setBandwidth(c *fiber.Ctx) error {
	var req bandwidthPayload
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "malformed request body")
	}

	owner := c.Params("owner")

	err := s.deps.Store.SetBandwidthProfile(c.Context(), engine.BandwidthProfile{
		OwnerID:     owner,
		UploadBPS:   req.UploadBPS,
		DownloadBPS: req.DownloadBPS,
	}, s.deps.Clock.Now())
	if err != nil {
		return s.fail(c, err)
	}

	s.deps.Limiter.SetLimit(owner, rate.Upload, derefRate(req.UploadBPS))
	s.deps.Limiter.SetLimit(owner, rate.Download, derefRate(req.DownloadBPS))

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getBandwidth(c *fiber.Ctx) error {
	p, err := s.deps.Store.GetBandwidthProfile(c.Context(), c.Params("owner"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"owner_id":     p.OwnerID,
		"upload_bps":   p.UploadBPS,
		"download_bps": p.DownloadBPS,
	})
}

func derefRate(v *int64) int64 {
	if v == nil {
		return 0
	}

	return *v
}
