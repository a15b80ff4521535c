package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Staging holds the chunks of in-progress uploads, one directory per
// upload, one file per chunk index. Chunks are written whole via temp
// file + rename so a torn write never counts as received.
type Staging struct {
	root string
}

// NewStaging creates the staging root if needed.
func NewStaging(root string) (*Staging, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("blob: creating staging root: %w", err)
	}

	return &Staging{root: root}, nil
}

func (st *Staging) uploadDir(uploadID string) (string, error) {
	if uploadID == "" || strings.ContainsAny(uploadID, "/\\.") {
		return "", fmt.Errorf("%w: upload id %q", ErrUnsafePath, uploadID)
	}

	return filepath.Join(st.root, uploadID), nil
}

func (st *Staging) chunkPath(uploadID string, index int) (string, error) {
	dir, err := st.uploadDir(uploadID)
	if err != nil {
		return "", err
	}

	if index < 0 {
		return "", fmt.Errorf("%w: chunk index %d", ErrUnsafePath, index)
	}

	return filepath.Join(dir, strconv.Itoa(index)), nil
}

// WriteChunk stores one chunk. Rewriting an index overwrites the
// previous content, which makes chunk retries idempotent.
func (st *Staging) WriteChunk(uploadID string, index int, data []byte) error {
	dir, err := st.uploadDir(uploadID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("blob: creating staging dir for %s: %w", uploadID, err)
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return fmt.Errorf("blob: creating chunk temp for %s: %w", uploadID, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("blob: writing chunk %d of %s: %w", index, uploadID, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("blob: closing chunk %d of %s: %w", index, uploadID, err)
	}

	dst, err := st.chunkPath(uploadID, index)
	if err != nil {
		os.Remove(tmp.Name())

		return err
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("blob: placing chunk %d of %s: %w", index, uploadID, err)
	}

	return nil
}

// OpenChunk opens one staged chunk for reading.
func (st *Staging) OpenChunk(uploadID string, index int) (*os.File, error) {
	p, err := st.chunkPath(uploadID, index)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("blob: opening chunk %d of %s: %w", index, uploadID, err)
	}

	return f, nil
}

// ChunkIndices lists the staged chunk indices for an upload, ascending.
// A missing staging directory means no chunks.
func (st *Staging) ChunkIndices(uploadID string) ([]int, error) {
	dir, err := st.uploadDir(uploadID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("blob: listing chunks of %s: %w", uploadID, err)
	}

	var indices []int

	for _, e := range entries {
		idx, err := strconv.Atoi(e.Name())
		if err != nil {
			continue // temp files and strays
		}

		indices = append(indices, idx)
	}

	sort.Ints(indices)

	return indices, nil
}

// Remove deletes all staged chunks for an upload. Idempotent.
func (st *Staging) Remove(uploadID string) error {
	dir, err := st.uploadDir(uploadID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("blob: removing staging for %s: %w", uploadID, err)
	}

	return nil
}
