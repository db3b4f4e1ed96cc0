package artifact_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fallout-harness/fallout/internal/artifact"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "latency0.values", "100\n200\n")
	writeFile(t, dir, "sub/report.json", `{"ok":true}`)

	root, err := artifact.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	var paths []string
	for entry, err := range root.Files(t.Context()) {
		require.NoError(t, err)
		paths = append(paths, entry.Path)

		data, err := entry.ReadAll()
		require.NoError(t, err)
		require.NotEmpty(t, data)
	}
	require.ElementsMatch(t, []string{"latency0.values", "sub/report.json"}, paths)
}

func TestGlob(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.values", "1\n")
	writeFile(t, dir, "b.values", "2\n")
	writeFile(t, dir, "c.json", "{}")

	root, err := artifact.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	var paths []string
	for entry, err := range root.Glob(t.Context(), "*.values") {
		require.NoError(t, err)
		paths = append(paths, entry.Path)
	}
	require.ElementsMatch(t, []string{"a.values", "b.values"}, paths)
}

func TestOpenMissingDir(t *testing.T) {
	t.Parallel()

	_, err := artifact.Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
