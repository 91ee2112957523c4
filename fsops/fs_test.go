package fsops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDeleteIdempotent(t *testing.T) {
	p := New(DefaultSeed)
	dir := t.TempDir()

	file := filepath.Join(dir, "t.txt")
	require.True(t, p.Create(file, "file"))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.False(t, p.Create(file, "file"), "create is exclusive")

	assert.True(t, p.Delete(file))
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, p.Delete(file))

	sub := filepath.Join(dir, "d")
	require.True(t, p.Create(sub, "dir"))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner"), []byte("x"), 0o644))
	assert.True(t, p.Delete(sub), "directories are removed recursively")
	assert.False(t, p.Delete(sub))
}

func TestWriteModes(t *testing.T) {
	p := New(DefaultSeed)
	file := filepath.Join(t.TempDir(), "w.txt")

	require.True(t, p.Write(file, "hello", "w"))
	require.True(t, p.Write(file, " world", "ab"))
	data, ok := p.Read(file)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(data))

	require.True(t, p.Write(file, "J", "r+"))
	data, _ = p.Read(file)
	assert.Equal(t, "Jello world", string(data))

	assert.False(t, p.Write(file, "x", "r"))
	assert.False(t, p.Write(file, "x", "q"))
	assert.False(t, p.Write(file, "x", ""))
	assert.False(t, p.Write(file, "x", "wx"))
	fresh := filepath.Join(t.TempDir(), "fresh")
	assert.False(t, p.Write(fresh, "x", "wx"), "x is not a supported mode flag")
	assert.NoFileExists(t, fresh)
	assert.True(t, p.Write(fresh, "x", "w+b"))
	assert.False(t, p.Write(filepath.Join(t.TempDir(), "missing", "f"), "x", "w"))
}

func TestReadMissing(t *testing.T) {
	_, ok := New(DefaultSeed).Read(filepath.Join(t.TempDir(), "nope"))
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	p := New(DefaultSeed)
	dir := t.TempDir()

	names, ok := p.List(dir)
	require.True(t, ok)
	assert.Equal(t, "", names)

	for _, n := range []string{"b", "a", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	names, ok = p.List(dir)
	require.True(t, ok)
	assert.Equal(t, "a\nb\nc", names)

	_, ok = p.List(filepath.Join(dir, "missing"))
	assert.False(t, ok)
}

func TestHash(t *testing.T) {
	p := New(DefaultSeed)
	file := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	h, ok := p.Hash(file)
	require.True(t, ok)
	assert.Equal(t, "ef46db3751d8e999", h)

	require.NoError(t, os.WriteFile(file, []byte("content"), 0o644))
	h2, ok := p.Hash(file)
	require.True(t, ok)
	assert.Len(t, h2, 16)
	assert.Equal(t, strings.ToLower(h2), h2)
	assert.NotEqual(t, h, h2)

	_, ok = p.Hash(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, ok)
}

func TestCopyAndMove(t *testing.T) {
	p := New(DefaultSeed)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "f"), []byte("data"), 0o600))

	dst := filepath.Join(dir, "dst")
	require.True(t, p.Copy(src, dst))
	data, err := os.ReadFile(filepath.Join(dst, "nested", "f"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	info, err := os.Stat(filepath.Join(dst, "nested", "f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	moved := filepath.Join(dir, "moved")
	require.True(t, p.Move(dst, moved))
	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, p.DirContains(src, moved))

	assert.False(t, p.Copy(filepath.Join(dir, "missing"), filepath.Join(dir, "x")))
	assert.False(t, p.Move(filepath.Join(dir, "missing"), filepath.Join(dir, "x")))
}

func TestDirContains(t *testing.T) {
	p := New(DefaultSeed)
	a, b := t.TempDir(), t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(a, "x", "y"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a, "x", "y", "f"), nil, 0o644))

	assert.False(t, p.DirContains(a, b))
	require.NoError(t, os.MkdirAll(filepath.Join(b, "x", "y"), 0o755))
	assert.False(t, p.DirContains(a, b))
	require.NoError(t, os.WriteFile(filepath.Join(b, "x", "y", "f"), []byte("different"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "extra"), nil, 0o644))
	assert.True(t, p.DirContains(a, b))
	assert.False(t, p.DirContains(b, a))

	assert.True(t, p.DirContains(t.TempDir(), b), "an empty directory is contained anywhere")
	assert.False(t, p.DirContains(filepath.Join(a, "missing"), b))
}

func TestRandomRangeBounds(t *testing.T) {
	p := New(7)
	for i := 0; i < 500; i++ {
		v := p.RandomRange(10, -5)
		assert.GreaterOrEqual(t, v, int64(-5))
		assert.LessOrEqual(t, v, int64(10))
	}
	assert.Equal(t, int64(3), p.RandomRange(3, 3))
}

func TestSeedIsDeterministic(t *testing.T) {
	p := New(DefaultSeed)
	p.Seed(99)
	first := []int64{p.RandomRange(0, 1000), p.RandomRange(0, 1000), p.RandomRange(0, 1000)}
	p.Seed(99)
	second := []int64{p.RandomRange(0, 1000), p.RandomRange(0, 1000), p.RandomRange(0, 1000)}
	assert.Equal(t, first, second)
}

func TestRandomWalk(t *testing.T) {
	p := New(DefaultSeed)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), nil, 0o644))

	got, ok := p.RandomWalk(root, 5)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "a", "b"), got, "only one chain of subdirectories exists")

	got, ok = p.RandomWalk(root, 1)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "a"), got)

	got, ok = p.RandomWalk(root, 0)
	require.True(t, ok)
	assert.Equal(t, root, got)

	_, ok = p.RandomWalk(root, -1)
	assert.False(t, ok)
}
