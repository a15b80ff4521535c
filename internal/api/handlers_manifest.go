package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/engine"
)

type reportEntryPayload struct {
	Path    string `json:"path"`
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
	Mtime   int64  `json:"mtime"`
	Deleted bool   `json:"deleted"`
}

func (s *Server) submitManifest(c *fiber.Ctx) error {
	var req struct {
		Entries []reportEntryPayload `json:"entries"`
	}

	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "malformed request body")
	}

	entries := make([]engine.ReportEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, engine.ReportEntry{
			Path: e.Path, Hash: e.Hash, Size: e.Size, Mtime: e.Mtime, Deleted: e.Deleted,
		})
	}

	err := s.deps.Store.SubmitReport(c.Context(), c.Params("id"), entries, s.deps.Clock.Now())
	if err != nil {
		return s.fail(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// previewChanges runs change detection against the device's latest
// report without committing anything.
func (s *Server) previewChanges(c *fiber.Ctx) error {
	ctx := c.Context()
	deviceID := c.Params("id")
	syncDeletions := c.QueryBool("sync_deletions", true)

	device, err := s.deps.Store.GetDevice(ctx, deviceID)
	if err != nil {
		return s.fail(c, err)
	}

	report, reportedAt, err := s.deps.Store.LoadReport(ctx, deviceID)
	if err != nil {
		return s.fail(c, err)
	}

	cs := &engine.ChangeSet{}

	if !reportedAt.IsZero() {
		baseline, err := s.deps.Store.LoadManifest(ctx, deviceID)
		if err != nil {
			return s.fail(c, err)
		}

		serverFiles, err := s.deps.Store.LoadServerFiles(ctx, device.OwnerID)
		if err != nil {
			return s.fail(c, err)
		}

		cs = engine.DetectChanges(baseline, report, serverFiles, syncDeletions)
	}

	conflicted := make([]string, 0, len(cs.Conflicted))
	for _, conflict := range cs.Conflicted {
		conflicted = append(conflicted, conflict.Path)
	}

	return c.JSON(fiber.Map{
		"added":      changePaths(cs.Added),
		"modified":   changePaths(cs.Modified),
		"deleted":    append([]string{}, cs.Deleted...),
		"conflicted": conflicted,
		"empty":      cs.Empty(),
	})
}

func changePaths(entries []engine.ReportEntry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}

	return paths
}
