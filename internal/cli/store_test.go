package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndmesh/internal/digest"
	"github.com/roach88/ndmesh/internal/nd"
	"github.com/roach88/ndmesh/internal/store"
)

// seedStore creates a store holding arange(6) as 2x3 and its reverse.
func seedStore(t *testing.T) (string, digest.Fingerprint, digest.Fingerprint) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "arrays.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	a, err := nd.Arange[int64](6).Reshape(2, 3)
	require.NoError(t, err)
	r, err := nd.Arange[int64](6).Reverse().Reshape(2, 3)
	require.NoError(t, err)

	ctx := context.Background()
	fpA, _, err := st.PutArray(ctx, a)
	require.NoError(t, err)
	fpR, _, err := st.PutArray(ctx, r)
	require.NoError(t, err)
	return db, fpA, fpR
}

func runStoreCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewStoreCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestStoreList(t *testing.T) {
	db, fpA, fpR := seedStore(t)

	out, err := runStoreCommand(t, "text", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "FINGERPRINT")
	assert.Contains(t, out, "(2, 3)")
	iA, iR := strings.Index(out, fpA.String()), strings.Index(out, fpR.String())
	require.GreaterOrEqual(t, iA, 0)
	require.GreaterOrEqual(t, iR, 0)
	assert.Less(t, iA, iR, "insertion order")

	out, err = runStoreCommand(t, "json", "list", "--db", db)
	require.NoError(t, err)
	var resp struct {
		Data []store.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, fpA, resp.Data[0].Fingerprint)
	assert.Equal(t, int64(1), resp.Data[0].Seq)
}

func TestStoreListEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, err := runStoreCommand(t, "text", "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "Store is empty.\n", out)
}

func TestStoreGet(t *testing.T) {
	db, fpA, _ := seedStore(t)

	out, err := runStoreCommand(t, "text", "get", "--db", db, fpA.String()[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "fingerprint: "+fpA.String())
	assert.Contains(t, out, "values:      [[0 1 2] [3 4 5]]")

	out, err = runStoreCommand(t, "json", "get", "--db", db, fpA.String())
	require.NoError(t, err)
	var resp struct {
		Data struct {
			DType  string    `json:"dtype"`
			Shape  []int     `json:"shape"`
			Values []float64 `json:"values"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "int64", resp.Data.DType)
	assert.Equal(t, []int{2, 3}, resp.Data.Shape)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, resp.Data.Values)
}

func TestStoreGetErrors(t *testing.T) {
	db, _, _ := seedStore(t)

	tests := []struct {
		name    string
		arg     string
		wantOut string
	}{
		{"short prefix", "abc", "shorter than"},
		{"unknown prefix", "ffffffffff", "not found"},
		{"unknown full", "00000000000000000000000000000000000000000000000000000000000000ff", "not found"},
		{"not hex", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "Error [E003]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runStoreCommand(t, "text", "get", "--db", db, tt.arg)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.wantOut)
		})
	}
}

func TestStoreVerify(t *testing.T) {
	db, fpA, fpR := seedStore(t)

	out, err := runStoreCommand(t, "text", "verify", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+fpA.String())
	assert.Contains(t, out, "2 ok, 0 failed, 2 total")

	// Overwrite the reversed array's data with the forward values.
	conn, err := sql.Open("sqlite3", db)
	require.NoError(t, err)
	a, err := nd.Arange[int64](6).Reshape(2, 3)
	require.NoError(t, err)
	_, err = conn.Exec(`UPDATE arrays SET data = ? WHERE fingerprint = ?`, a.Bytes(), fpR.String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	out, err = runStoreCommand(t, "json", "verify", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   VerifyResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCorrupt, resp.Error.Code)

	// Verifying only the intact array succeeds.
	_, err = runStoreCommand(t, "text", "verify", "--db", db, fpA.String())
	require.NoError(t, err)
}

func TestStoreStatsAndRemove(t *testing.T) {
	db, fpA, _ := seedStore(t)

	out, err := runStoreCommand(t, "text", "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "arrays:       2")
	assert.Contains(t, out, "data bytes:   96")

	out, err = runStoreCommand(t, "text", "rm", "--db", db, fpA.String()[:10])
	require.NoError(t, err)
	assert.Equal(t, "Deleted "+fpA.String()+"\n", out)

	out, err = runStoreCommand(t, "json", "stats", "--db", db)
	require.NoError(t, err)
	var resp struct {
		Data store.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(1), resp.Data.Arrays)

	_, err = runStoreCommand(t, "text", "rm", "--db", db, fpA.String())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTensorValuesJSONSafe(t *testing.T) {
	vals := tensorValues(nd.MustFromSlice([]float64{1, math.Inf(1), math.Inf(-1), math.NaN()}))
	assert.Equal(t, []any{float64(1), "+Inf", "-Inf", "NaN"}, vals)

	bytesVals := tensorValues(nd.MustFromSlice([]uint8{7, 255}))
	data, err := json.Marshal(bytesVals)
	require.NoError(t, err)
	assert.Equal(t, "[7,255]", string(data), "uint8 values are numbers, not base64")
}
