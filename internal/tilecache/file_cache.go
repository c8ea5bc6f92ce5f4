package tilecache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileCache implements file-based cache
// Structure: {cacheDir}/{token}/{layers}_{format}_{scale}/{z}/{x}_{y}.{ext}
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

// tokenDir keeps tokens from escaping the cache directory.
func (c *FileCache) tokenDir(token string) string {
	name := filepath.Base(filepath.Clean("/" + token))
	if name == "/" || name == "." {
		name = "_"
	}
	return filepath.Join(c.cacheDir, name)
}

func (c *FileCache) buildFilePath(key TileKey) string {
	variant := strings.NewReplacer(",", "-", "/", "_").Replace(key.variant())
	dir := filepath.Join(c.tokenDir(key.Token), variant, fmt.Sprintf("%d", key.Z))
	ext := strings.ReplaceAll(key.Format, "/", "_")
	return filepath.Join(dir, fmt.Sprintf("%d_%d.%s", key.X, key.Y, ext))
}

func (c *FileCache) Has(key TileKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := os.Stat(c.buildFilePath(key))
	return err == nil
}

func (c *FileCache) Get(key TileKey) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	return data, true
}

func (c *FileCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		return
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
	}
}

func (c *FileCache) DeleteToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	os.RemoveAll(c.tokenDir(token))
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		return
	}

	os.MkdirAll(c.cacheDir, 0755)
}
