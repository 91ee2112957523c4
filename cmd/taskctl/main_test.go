package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/taskd/client"
)

func TestReadRecipe(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"op":"SM_OP_RETURN","data":{"value":2}}]`), 0644))
	recipe, err := readRecipe(good)
	require.NoError(t, err)
	assert.Len(t, recipe, 1)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"op":"SM_OP_RETURN"}`), 0644))
	_, err = readRecipe(bad)
	assert.Error(t, err)

	_, err = readRecipe(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResult(&out, &client.Result{
		Reports: [][]any{{true, "a"}, {nil}},
		Status:  0,
	}))
	assert.Equal(t, "{\"values\":[true,\"a\"]}\n{\"values\":[null]}\nstatus 0\n", out.String())
}
