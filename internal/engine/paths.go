package engine

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePath canonicalizes a device-reported relative path: NFC
// normalization (macOS devices report NFD names), forward slashes, and a
// cleaned form. Absolute paths and anything escaping the sync root are
// rejected; manifest paths become filesystem paths in the blob store, so
// traversal must be stopped at the boundary.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}

	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))

	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidArgument, p)
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path %q escapes sync root", ErrInvalidArgument, p)
	}

	return cleaned, nil
}
