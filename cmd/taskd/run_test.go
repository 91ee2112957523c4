package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/taskd/config"
	"github.com/chazu/taskd/protocol"
)

func TestRunLocal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "t.txt")
	recipe := fmt.Sprintf(`[
		{"op":"SM_OP_LOAD_CONST","data":{"dest":0,"value":%q}},
		{"op":"SM_OP_LOAD_CONST","data":{"dest":1,"value":"file"}},
		{"op":"SM_OP_FS_CREATE","data":{"dest":2,"path":0,"type":1}},
		{"op":"SM_OP_REPORT","data":{"regs":[2,0]}},
		{"op":"SM_OP_RETURN","data":{"value":1}}
	]`, target)
	path := filepath.Join(dir, "recipe.json")
	require.NoError(t, os.WriteFile(path, []byte(recipe), 0644))

	var out bytes.Buffer
	value, err := runLocal(config.Default(), path, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, value)
	assert.Equal(t, fmt.Sprintf("{\"values\":[true,%q]}\nreturn 1\n", target), out.String())
	assert.FileExists(t, target)
}

func TestRunLocalCBOR(t *testing.T) {
	dir := t.TempDir()
	payload, err := protocol.CBORCodec{}.Marshal([]any{
		map[string]any{"op": "SM_OP_RETURN", "data": map[string]any{"value": 4}},
	})
	require.NoError(t, err)
	path := filepath.Join(dir, "recipe.cbor")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	var out bytes.Buffer
	value, err := runLocal(config.Default(), path, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, value)
	assert.Equal(t, "return 4\n", out.String())
}

func TestRunLocalEmptyRecipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"op":"NOPE","data":{}}]`), 0644))
	_, err := runLocal(config.Default(), path, &bytes.Buffer{})
	assert.ErrorIs(t, err, protocol.ErrEmptyRecipe)
}

func TestVerbosityFlag(t *testing.T) {
	var v verbosity
	require.NoError(t, v.Set("true"))
	require.NoError(t, v.Set("true"))
	require.NoError(t, v.Set("false"))
	assert.Equal(t, verbosity(2), v)
	assert.Error(t, v.Set("loud"))
}
