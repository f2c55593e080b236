package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndmesh/internal/config"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("NDMESH_STORE", "")
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenDefaultFileAbsent(t *testing.T) {
	home := isolate(t)

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, filepath.Join(home, ".config", "ndmesh", "config.toml"), resolved)

	assert.Equal(t, filepath.Join(home, ".local", "share", "ndmesh", "ndmesh.db"), cfg.Store.Path)
	assert.False(t, cfg.Store.Persist)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, 6, cfg.Output.Precision)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadXDGLocations(t *testing.T) {
	isolate(t)
	xdgConfig := t.TempDir()
	xdgData := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgConfig)
	t.Setenv("XDG_DATA_HOME", xdgData)

	dir := filepath.Join(xdgConfig, "ndmesh")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[output]\nformat = \"json\"\n"), 0o644))

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, filepath.Join(dir, "config.toml"), resolved)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, filepath.Join(xdgData, "ndmesh", "ndmesh.db"), cfg.Store.Path)
}

func TestLoadExplicitFile(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, `
[store]
path = "~/arrays.db"
persist = true

[output]
format = "JSON"
precision = 3

[log]
level = "debug"
format = "json"
`)

	cfg, resolved, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, resolved)
	assert.Equal(t, filepath.Join(home, "arrays.db"), cfg.Store.Path)
	assert.True(t, cfg.Store.Persist)
	assert.Equal(t, "json", cfg.Output.Format, "normalized to lower case")
	assert.Equal(t, 3, cfg.Output.Precision)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	_, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadStoreFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("NDMESH_STORE", ":memory:")
	path := writeConfig(t, "[store]\npath = \"\"\n")

	cfg, _, _, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Store.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown key", "[output]\ncolour = \"red\"\n", "parse config"},
		{"bad toml", "[output\n", "parse config"},
		{"bad format", "[output]\nformat = \"xml\"\n", "output.format"},
		{"bad precision", "[output]\nprecision = 40\n", "output.precision"},
		{"bad level", "[log]\nlevel = \"loud\"\n", "log.level"},
		{"bad log format", "[log]\nformat = \"console\"\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateSampleParses(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, config.CreateSample(path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed config.Config
	require.NoError(t, toml.Unmarshal(contents, &parsed))
	assert.Equal(t, "text", parsed.Output.Format)

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEncodeRoundTrip(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	data, err := cfg.Encode()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[output]"))

	var back config.Config
	require.NoError(t, toml.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := config.NewLogger(config.Logging{Level: "warn", Format: "json"}, &buf, false)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"key":"value"`)

	buf.Reset()
	logger, err = config.NewLogger(config.Logging{Level: "error", Format: "text"}, &buf, true)
	require.NoError(t, err)
	logger.Debug("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")

	_, err = config.NewLogger(config.Logging{Level: "info", Format: "xml"}, &buf, false)
	require.Error(t, err)
}
