package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		path := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
}

func TestDiscoverFiles_EmptyArgs(t *testing.T) {
	files, err := discoverFiles(nil, false, DefaultIncludePatterns(), nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscoverFiles_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.png", "B.JPG", "notes.txt", "scan.pdf", "nested/c.png")

	files, err := discoverFiles([]string{dir}, false, DefaultIncludePatterns(), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "B.JPG"),
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "scan.pdf"),
	}, files)
}

func TestDiscoverFiles_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.png", "nested/c.png", "nested/deeper/d.webp")

	files, err := discoverFiles([]string{dir}, true, DefaultIncludePatterns(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestDiscoverFiles_ExcludeWins(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "keep.png", "skip_me.png")

	files, err := discoverFiles([]string{dir}, false, []string{"*.png"}, []string{"skip_*"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "keep.png")}, files)
}

func TestDiscoverFiles_ExplicitFileFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "notes.txt", "r.png")

	files, err := discoverFiles([]string{filepath.Join(dir, "notes.txt"), filepath.Join(dir, "r.png")},
		false, DefaultIncludePatterns(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "r.png")}, files)
}

func TestDiscoverFiles_MissingPath(t *testing.T) {
	_, err := discoverFiles([]string{"/does/not/exist.png"}, false, nil, nil)
	assert.Error(t, err)
}

func TestShouldIncludeFile_NoIncludeMeansAll(t *testing.T) {
	assert.True(t, shouldIncludeFile("x.anything", nil, nil))
	assert.False(t, shouldIncludeFile("x.anything", nil, []string{"*.anything"}))
}
