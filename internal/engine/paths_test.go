package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePathForwardSlashes(t *testing.T) {
	p, err := NormalizePath(`docs\reports\q3.txt`)
	require.NoError(t, err)
	assert.Equal(t, "docs/reports/q3.txt", p)
}

func TestNormalizePathUnicodeNFC(t *testing.T) {
	// "é" as base letter plus combining accent normalizes to the
	// precomposed form, so both spellings address the same entry.
	decomposed := "caf" + string(rune(0x0065)) + string(rune(0x0301)) + ".txt"
	precomposed := "café.txt"

	p1, err := NormalizePath(decomposed)
	require.NoError(t, err)

	p2, err := NormalizePath(precomposed)
	require.NoError(t, err)

	assert.Equal(t, p2, p1)
}

func TestNormalizePathRejectsTraversal(t *testing.T) {
	for _, bad := range []string{
		"",
		"/etc/passwd",
		"../secrets.txt",
		"docs/../../escape.txt",
		"..",
		".",
	} {
		_, err := NormalizePath(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, "path %q", bad)
	}
}

func TestNormalizePathCollapsesDotSegments(t *testing.T) {
	p, err := NormalizePath("docs/./sub//file.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/sub/file.txt", p)
}
