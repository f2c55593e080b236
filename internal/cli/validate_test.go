package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateCommandMissingArgs(t *testing.T) {
	_, err := runValidateCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestValidateCommandValidFile(t *testing.T) {
	out, err := runValidateCommand(t, "text", filepath.Join("testdata", "grids", "demo.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "cube ij (3, 3, 2)")
	assert.Contains(t, out, "ticks xy (3, 4)")
	assert.Contains(t, out, "✓ 2 grid(s) valid")
}

func TestValidateCommandDirectoryJSON(t *testing.T) {
	out, err := runValidateCommand(t, "json", filepath.Join("testdata", "grids"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Grids, 2)
	assert.Equal(t, filepath.Join("testdata", "grids", "demo.yaml"), resp.Data.Grids[0].Source)
}

func TestValidateCommandInvalidGrid(t *testing.T) {
	path := filepath.Join("testdata", "bad", "negative_num.yaml")

	out, err := runValidateCommand(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E004: grid.broken.axes[0]")

	out, err = runValidateCommand(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidGrid, resp.Error.Code)
}

func TestValidateCommandCUEPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.cue")
	body := "grid: broken: {\n\taxes: [\n\t\t{values: [1, 2], arange: {stop: 3}},\n\t]\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	out, err := runValidateCommand(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, path+" line 3")
}

func TestValidateCommandCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantOut string
	}{
		{"missing path", func(t *testing.T) string { return "/nonexistent/grids" }, "path not found"},
		{"empty dir", func(t *testing.T) string { return t.TempDir() }, "no grid files found"},
		{"unsupported file", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "grid.json")
			require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
			return p
		}, "unsupported file extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runValidateCommand(t, "text", tt.path(t))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.wantOut)
		})
	}
}
