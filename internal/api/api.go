// Package api exposes the engine over REST: device and schedule
// management, manifest reports, chunked uploads, rate-limited file
// downloads, bandwidth profiles, conflict resolution, and a websocket
// feed of audit events.
package api

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/engine"
	"github.com/filedrift/filedrift/internal/rate"
)

// Deps carries everything the handlers touch.
type Deps struct {
	Store        *engine.Store
	Uploads      *engine.UploadManager
	Runner       *engine.Runner
	Blobs        *blob.Store
	Staging      *blob.Staging
	Limiter      *rate.Limiter
	Hub          *EventHub
	Auditor      audit.Recorder
	Clock        clockwork.Clock
	MaxChunkSize int64
	Logger       *slog.Logger
}

// Server is the REST surface over the sync engine.
type Server struct {
	app  *fiber.App
	deps Deps
}

// New builds the fiber app and registers all routes.
func New(deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "filedrift",
		DisableStartupMessage: true,
		// Chunk uploads arrive as raw request bodies.
		BodyLimit: int(deps.MaxChunkSize) + 64*1024,
	})

	s := &Server{app: app, deps: deps}

	v1 := app.Group("/api/v1")

	v1.Post("/devices", s.registerDevice)
	v1.Get("/devices", s.listDevices)
	v1.Get("/devices/:id", s.getDevice)
	v1.Delete("/devices/:id", s.removeDevice)

	v1.Post("/schedules", s.createSchedule)
	v1.Get("/schedules", s.listSchedules)
	v1.Get("/schedules/:id", s.getSchedule)
	v1.Post("/schedules/:id/disable", s.disableSchedule)
	v1.Post("/schedules/:id/enable", s.enableSchedule)

	v1.Put("/devices/:id/manifest", s.submitManifest)
	v1.Get("/devices/:id/changes", s.previewChanges)

	v1.Post("/uploads", s.openUpload)
	v1.Put("/uploads/:id/chunks/:index", s.putChunk)
	v1.Post("/uploads/:id/finalize", s.finalizeUpload)
	v1.Get("/uploads/:id", s.uploadProgress)

	v1.Get("/files/*", s.downloadFile)

	v1.Put("/bandwidth/:owner", s.setBandwidth)
	v1.Get("/bandwidth/:owner", s.getBandwidth)

	v1.Get("/conflicts", s.listConflicts)
	v1.Post("/conflicts/:id/resolve", s.resolveConflict)

	if deps.Hub != nil {
		v1.Use("/events", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}

			return fiber.ErrUpgradeRequired
		})
		v1.Get("/events", deps.Hub.Handler())
	}

	return s
}

// App returns the underlying fiber app, used by tests via app.Test().
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	s.deps.Logger.Info("api listening", "addr", addr)

	if err := s.app.Listen(addr); err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	if err := s.app.Shutdown(); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}

	return nil
}
