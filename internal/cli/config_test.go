package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitWritesSample(t *testing.T) {
	home := isolateEnv(t)
	want := filepath.Join(home, "config", "ndmesh", "config.toml")

	out, _, err := executeRoot(t, "config", "init")
	require.NoError(t, err)
	assert.Equal(t, "Wrote sample configuration to "+want+"\n", out)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[store]")

	// The sample is a valid config for later commands.
	_, _, err = executeRoot(t, "config", "show")
	require.NoError(t, err)
}

func TestConfigInitRefusesExisting(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("# keep\n"), 0o644))

	_, _, err := executeRoot(t, "config", "init", "--path", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--overwrite")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# keep\n", string(data))

	_, _, err = executeRoot(t, "config", "init", "--path", path, "--overwrite")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[output]")
}

func TestConfigInitIgnoresBrokenConfig(t *testing.T) {
	home := isolateEnv(t)
	broken := filepath.Join(home, "config", "ndmesh", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(broken), 0o755))
	require.NoError(t, os.WriteFile(broken, []byte("[output]\nformat = \"yaml\"\n"), 0o644))

	// Other commands reject the file, init can still replace it.
	_, _, err := executeRoot(t, "config", "show")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = executeRoot(t, "config", "init", "--overwrite")
	require.NoError(t, err)
}

func TestConfigShowDefaults(t *testing.T) {
	home := isolateEnv(t)

	out, _, err := executeRoot(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# Config path: "+filepath.Join(home, "config", "ndmesh", "config.toml"))
	assert.Contains(t, out, "defaults were used")
	assert.Contains(t, out, "[log]")
	assert.Contains(t, out, filepath.Join(home, "data", "ndmesh", "ndmesh.db"))
}

func TestConfigShowJSON(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "ndmesh.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\npath = \":memory:\"\npersist = true\n\n[output]\nprecision = 3\n"), 0o644))

	out, _, err := executeRoot(t, "--config", path, "--format", "json", "config", "show")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ConfigReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, path, resp.Data.Path)
	assert.True(t, resp.Data.Exists)
	require.NotNil(t, resp.Data.Config)
	assert.Equal(t, ":memory:", resp.Data.Config.Store.Path)
	assert.True(t, resp.Data.Config.Store.Persist)
	assert.Equal(t, 3, resp.Data.Config.Output.Precision)
	assert.Equal(t, "warn", resp.Data.Config.Logging.Level)
}
