package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxConcurrentAnalyzers)
	require.Equal(t, 2, cfg.ConfidenceMediumMin)
	require.Equal(t, 4, cfg.ConfidenceHighMin)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := []byte("max_concurrent_analyzers: 8\nscan_timeout: 5m\nstrip_path_prefixes:\n  - /srv/scratch\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxConcurrentAnalyzers)
	require.Equal(t, []string{"/srv/scratch"}, cfg.StripPathPrefixes)
	// Unset keys keep defaults.
	require.Equal(t, 4, cfg.ConfidenceHighMin)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_analyzers: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
