package tilecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tk(token string, z, x, y int) TileKey {
	return TileKey{Token: token, Layers: "0,1", Format: "png", ScaleFactor: 1, Z: z, X: x, Y: y}
}

func TestMemoryCacheLRU(t *testing.T) {
	c := NewMemoryCache(2)

	c.Set(tk("a", 0, 0, 0), []byte("1"))
	c.Set(tk("a", 1, 0, 0), []byte("2"))
	_, ok := c.Get(tk("a", 0, 0, 0))
	require.True(t, ok)

	c.Set(tk("a", 1, 1, 0), []byte("3"))
	assert.True(t, c.Has(tk("a", 0, 0, 0)))
	assert.False(t, c.Has(tk("a", 1, 0, 0)))
	assert.Equal(t, 2, c.Len())

	c.Set(tk("a", 0, 0, 0), []byte("4"))
	v, _ := c.Get(tk("a", 0, 0, 0))
	assert.Equal(t, []byte("4"), v)
}

func testDeleteToken(t *testing.T, c Cache) {
	c.Set(tk("a", 0, 0, 0), []byte("a0"))
	c.Set(tk("a", 1, 1, 1), []byte("a1"))
	c.Set(tk("b", 0, 0, 0), []byte("b0"))

	c.DeleteToken("a")
	assert.False(t, c.Has(tk("a", 0, 0, 0)))
	assert.False(t, c.Has(tk("a", 1, 1, 1)))
	v, ok := c.Get(tk("b", 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, []byte("b0"), v)

	c.Clear()
	assert.False(t, c.Has(tk("b", 0, 0, 0)))
}

func TestMemoryCacheDeleteToken(t *testing.T) {
	testDeleteToken(t, NewMemoryCache(10))
}

func TestFileCache(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	require.NoError(t, err)

	key := TileKey{Token: "abc", Layers: "0,2", Format: "grid.json", ScaleFactor: 2, Z: 3, X: 4, Y: 5}
	c.Set(key, []byte("{}"))
	assert.True(t, c.Has(key))
	_, err = os.Stat(filepath.Join(dir, "abc", "0-2_grid.json_2", "3", "4_5.grid.json"))
	assert.NoError(t, err)

	other := key
	other.ScaleFactor = 1
	assert.False(t, c.Has(other))

	testDeleteToken(t, c)
}

func TestFileCacheTokenStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep"), []byte("x"), 0644))

	c.DeleteToken("../")
	c.DeleteToken("")
	_, err = os.Stat(filepath.Join(dir, "keep"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "cache"))
	assert.NoError(t, err)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	c.Set(tk("a", 0, 0, 0), []byte("x"))
	_, ok := c.Get(tk("a", 0, 0, 0))
	assert.False(t, ok)
	assert.False(t, c.Has(tk("a", 0, 0, 0)))
}

func TestNewCache(t *testing.T) {
	log := zap.NewNop()

	c, err := NewCache("memory", "", 10, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = NewCache("file", t.TempDir(), 0, log)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	c, err = NewCache("disabled", "", 0, log)
	require.NoError(t, err)
	assert.IsType(t, &NoopCache{}, c)

	_, err = NewCache("redis", "", 0, log)
	assert.Error(t, err)
}
