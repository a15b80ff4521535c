package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/filedrift/filedrift/internal/engine"
)

type uploadResponse struct {
	UploadID    string     `json:"upload_id"`
	OwnerID     string     `json:"owner_id"`
	DeviceID    string     `json:"device_id,omitempty"`
	TargetPath  string     `json:"target_path"`
	TotalSize   int64      `json:"total_size"`
	ChunkSize   int64      `json:"chunk_size"`
	ChunkCount  int        `json:"chunk_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toUploadResponse(u *engine.Upload) uploadResponse {
	return uploadResponse{
		UploadID:    u.ID,
		OwnerID:     u.OwnerID,
		DeviceID:    u.DeviceID,
		TargetPath:  u.TargetPath,
		TotalSize:   u.TotalSize,
		ChunkSize:   u.ChunkSize,
		ChunkCount:  u.ChunkCount(),
		CreatedAt:   u.CreatedAt,
		CompletedAt: u.CompletedAt,
	}
}

func (s *Server) openUpload(c *fiber.Ctx) error {
	var req struct {
		OwnerID    string `json:"owner_id"`
		DeviceID   string `json:"device_id"`
		TargetPath string `json:"target_path"`
		TotalSize  int64  `json:"total_size"`
		ChunkSize  int64  `json:"chunk_size"`
	}

	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "malformed request body")
	}

	u, err := s.deps.Uploads.Open(c.Context(), req.OwnerID, req.DeviceID,
		req.TargetPath, req.TotalSize, req.ChunkSize)
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toUploadResponse(u))
}

func (s *Server) putChunk(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return s.badRequest(c, "chunk index must be an integer")
	}

	err = s.deps.Uploads.PutChunk(c.Context(), c.Params("id"), index, c.Body())
	if err != nil {
		return s.fail(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) finalizeUpload(c *fiber.Ctx) error {
	u, err := s.deps.Uploads.Finalize(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(toUploadResponse(u))
}

func (s *Server) uploadProgress(c *fiber.Ctx) error {
	u, received, err := s.deps.Uploads.Progress(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	if received == nil {
		received = []int{}
	}

	resp := struct {
		uploadResponse
		ReceivedChunks []int `json:"received_chunks"`
		Complete       bool  `json:"complete"`
	}{
		uploadResponse: toUploadResponse(u),
		ReceivedChunks: received,
		Complete:       u.CompletedAt != nil,
	}

	return c.JSON(resp)
}
