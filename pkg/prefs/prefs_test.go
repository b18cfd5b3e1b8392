package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/bjorn-manager/pkg/logger"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	store := NewStoreAt(filepath.Join(t.TempDir(), "prefs.json"), logger.NewTestLogger())

	prefs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "en", prefs.Language)
	assert.Empty(t, prefs.DefaultKeyPath)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStoreAt(filepath.Join(t.TempDir(), "nested", "prefs.json"), logger.NewTestLogger())

	saved := Preferences{Language: "fr", DefaultKeyPath: "/home/op/.ssh/id_ed25519"}
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStoreAt(path, logger.NewTestLogger())

	prefs, err := store.Load()
	require.Error(t, err)
	// Defaults still come back so the UI can start.
	assert.Equal(t, "en", prefs.Language)
}

func TestLoadFillsEmptyLanguage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default_key_path":"/k"}`), 0o644))

	store := NewStoreAt(path, logger.NewTestLogger())

	prefs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "en", prefs.Language)
	assert.Equal(t, "/k", prefs.DefaultKeyPath)
}
