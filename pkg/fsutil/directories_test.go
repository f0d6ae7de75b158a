package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "creates new directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "newdir")
			},
		},
		{
			name: "creates nested directories",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "parent", "child", "nested")
			},
		},
		{
			name: "succeeds when directory already exists",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			path := testCase.setup(t)
			require.NoError(t, EnsureDir(path))
			assert.DirExists(t, path)
		})
	}
}

func TestRemoveEmptyDirs(t *testing.T) {
	root := t.TempDir()

	// A chain of empty directories, one directory with a file, and an empty
	// sibling next to it.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b", "c"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keep", "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep", "data.txt"), []byte("x"), 0o644))

	require.NoError(t, RemoveEmptyDirs(root))

	assert.NoDirExists(t, filepath.Join(root, "a"))
	assert.NoDirExists(t, filepath.Join(root, "keep", "empty"))
	assert.DirExists(t, filepath.Join(root, "keep"))
	assert.FileExists(t, filepath.Join(root, "keep", "data.txt"))
	assert.DirExists(t, root)
}

func TestMoveReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "incoming.tmp")
	dst := filepath.Join(dir, "maps", "EDTF.geojson")

	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("old content"), 0o644))
	require.NoError(t, os.WriteFile(src, []byte("new content"), 0o644))

	require.NoError(t, Move(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))
	assert.NoFileExists(t, src)
}

func TestMoveCreatesDestinationDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload")
	dst := filepath.Join(dir, "nested", "deeper", "payload")

	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	require.NoError(t, Move(src, dst))
	assert.FileExists(t, dst)
}

func TestMoveRejectsEmptyPaths(t *testing.T) {
	assert.Error(t, Move("", "/tmp/x"))
	assert.Error(t, Move("/tmp/x", ""))
}
