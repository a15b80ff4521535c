// Package blob manages file payloads on local disk: the per-owner blob
// store holding finalized file content, and the staging area for
// in-progress chunked uploads. All writes into the store go through a
// temp-file-plus-rename sequence so a half-written payload is never
// visible at its final path.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for relative paths that would escape the
// store root.
var ErrUnsafePath = errors.New("blob: unsafe path")

// dirPerm is the permission for created directories (owner-only).
const dirPerm = 0o700

// Store is a per-owner file payload store rooted at a single directory.
// Layout: <root>/<owner_id>/<relative path>. Temp files for atomic
// installs live under <root>/.tmp.
type Store struct {
	root string
}

// NewStore creates the root and temp directories if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, ".tmp"), dirPerm); err != nil {
		return nil, fmt.Errorf("blob: creating store root: %w", err)
	}

	return &Store{root: root}, nil
}

// resolve maps (owner, rel) to an absolute path, rejecting anything that
// would escape the store root.
func (s *Store) resolve(owner, rel string) (string, error) {
	if owner == "" || strings.ContainsAny(owner, "/\\") {
		return "", fmt.Errorf("%w: owner %q", ErrUnsafePath, owner)
	}

	cleaned := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}

	return filepath.Join(s.root, owner, filepath.FromSlash(cleaned)), nil
}

// CreateTemp returns a temp file inside the store for staged assembly.
// The caller either Installs it or removes it.
func (s *Store) CreateTemp() (*os.File, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, ".tmp"), "assemble-*")
	if err != nil {
		return nil, fmt.Errorf("blob: creating temp file: %w", err)
	}

	return f, nil
}

// Install atomically moves a temp file into place at (owner, rel),
// creating parent directories as needed.
func (s *Store) Install(tempPath, owner, rel string) error {
	dst, err := s.resolve(owner, rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("blob: creating parent dir for %s: %w", rel, err)
	}

	if err := os.Rename(tempPath, dst); err != nil {
		return fmt.Errorf("blob: installing %s: %w", rel, err)
	}

	return nil
}

// Open opens a stored payload for reading.
func (s *Store) Open(owner, rel string) (*os.File, error) {
	p, err := s.resolve(owner, rel)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("blob: opening %s: %w", rel, err)
	}

	return f, nil
}

// Stat returns file info for a stored payload, or os.ErrNotExist.
func (s *Store) Stat(owner, rel string) (os.FileInfo, error) {
	p, err := s.resolve(owner, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("blob: stat %s: %w", rel, err)
	}

	return info, nil
}

// Exists reports whether a payload is present.
func (s *Store) Exists(owner, rel string) bool {
	p, err := s.resolve(owner, rel)
	if err != nil {
		return false
	}

	_, err = os.Stat(p)

	return err == nil
}

// Promote atomically renames a payload within an owner's tree. Used to
// move device-uploaded pending content into its canonical path at run
// commit time.
func (s *Store) Promote(owner, fromRel, toRel string) error {
	src, err := s.resolve(owner, fromRel)
	if err != nil {
		return err
	}

	dst, err := s.resolve(owner, toRel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("blob: creating parent dir for %s: %w", toRel, err)
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("blob: promoting %s to %s: %w", fromRel, toRel, err)
	}

	return nil
}

// Copy duplicates a payload within an owner's tree via temp file + rename.
func (s *Store) Copy(owner, fromRel, toRel string) error {
	src, err := s.Open(owner, fromRel)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := s.CreateTemp()
	if err != nil {
		return err
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("blob: copying %s: %w", fromRel, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("blob: closing temp for %s: %w", toRel, err)
	}

	return s.Install(tmp.Name(), owner, toRel)
}

// Remove deletes a stored payload. Removing a missing payload is not an
// error, so deletion is idempotent.
func (s *Store) Remove(owner, rel string) error {
	p, err := s.resolve(owner, rel)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: removing %s: %w", rel, err)
	}

	return nil
}
