package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingReturnsDefault(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileParsesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\nproject:\n  name: demo\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "demo", cfg.Project.Name)
}

func TestBranchNameIsPureAndIdempotent(t *testing.T) {
	pattern := "conductor/{task_id}/{short_description}"
	taskID := "0123456789abcdef"
	title := "Add Hello() to src/index.ts!!"

	first := BranchName(pattern, taskID, title)
	second := BranchName(pattern, taskID, title)
	require.Equal(t, first, second)
	require.Equal(t, "conductor/01234567/add-hello-to-src-index-ts", first)
}

func TestBranchNameTruncatesLongTitles(t *testing.T) {
	pattern := "conductor/{task_id}/{short_description}"
	title := "this is a very long title that exceeds the fifty character cutoff by quite a lot"

	name := BranchName(pattern, "deadbeefcafe", title)
	parts := filepath.Base(name)
	require.LessOrEqual(t, len(parts), maxShortDescriptionLen)
}
