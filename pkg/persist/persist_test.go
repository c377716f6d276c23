package persist_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/persist"
)

func sampleTree() map[string]any {
	return map[string]any{
		"seed_everything": 42,
		"trainer":         map[string]any{"max_epochs": 3},
		"model":           map[string]any{"lr": 0.01},
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, persist.FormatJSON, persist.FormatFromPath("/runs/config.JSON"))
	assert.Equal(t, persist.FormatYAML, persist.FormatFromPath("/runs/config.yaml"))
	assert.Equal(t, persist.FormatYAML, persist.FormatFromPath("config"))
}

func TestEncodeIsDeterministic(t *testing.T) {
	first, err := persist.Encode(sampleTree(), persist.FormatJSON)
	require.NoError(t, err)
	second, err := persist.Encode(sampleTree(), persist.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"max_epochs": 3`)

	_, err = persist.Encode(sampleTree(), persist.Format("xml"))
	require.Error(t, err)
}

func TestSaveCreatesDirectoryAndWritesYAML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "version_0")
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, persist.Save(persist.NewLocalFS(), sampleTree(), path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, 42, got["seed_everything"])
	assert.Equal(t, map[string]any{"max_epochs": 3}, got["trainer"])
}

func TestSaveRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("previous: run\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	err := persist.Save(persist.NewLocalFS(), sampleTree(), path, false)
	if !errors.Is(err, clierr.ErrPersistenceConflict) {
		t.Fatalf("expected persistence conflict, got %v", err)
	}
	assert.Contains(t, err.Error(), path)
	assert.Equal(t, clierr.ExitCodeCantCreate, clierr.ExitCode(err))

	data, _ := os.ReadFile(path)
	assert.Equal(t, "previous: run\n", string(data))

	require.NoError(t, persist.Save(persist.NewLocalFS(), sampleTree(), path, true))
	data, _ = os.ReadFile(path)
	assert.NotContains(t, string(data), "previous")
}

func TestLocalFSMakeDirs(t *testing.T) {
	fs := persist.NewLocalFS()
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, fs.MakeDirs(dir, false))
	require.NoError(t, fs.MakeDirs(dir, true))
	err := fs.MakeDirs(dir, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrExist))

	file := filepath.Join(dir, "f")
	require.NoError(t, fs.WriteFile(file, []byte("x")))
	ok, err := fs.IsFile(file)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = fs.IsFile(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fs.Remove(file))
	require.NoError(t, fs.Remove(file))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalFSWriteFileFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := persist.NewLocalFS().WriteFile(filepath.Join(blocker, "config.yaml"), []byte("a: 1\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, persist.ErrWriteFailed))
}
