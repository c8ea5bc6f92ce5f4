package tilecache

type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(TileKey) ([]byte, bool) { return nil, false }
func (c *NoopCache) Set(TileKey, []byte)         {}
func (c *NoopCache) Has(TileKey) bool            { return false }
func (c *NoopCache) DeleteToken(string)          {}
func (c *NoopCache) Clear()                      {}
