package tilecache

import (
	"container/list"
	"sync"
)

type entry struct {
	key   TileKey
	value []byte
}

// MemoryCache implements in-memory LRU cache
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[TileKey]*list.Element
	lruList *list.List
}

// NewMemoryCache creates a new in-memory LRU cache holding at most maxSize tiles
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[TileKey]*list.Element),
		lruList: list.New(),
	}
}

func (c *MemoryCache) Has(key TileKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	return ok
}

func (c *MemoryCache) Get(key TileKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

func (c *MemoryCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*entry).key)
			c.lruList.Remove(oldest)
		}
	}

	elem := c.lruList.PushFront(&entry{key: key, value: value})
	c.items[key] = elem
}

func (c *MemoryCache) DeleteToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lruList.Front(); elem != nil; {
		next := elem.Next()
		if e := elem.Value.(*entry); e.key.Token == token {
			delete(c.items, e.key)
			c.lruList.Remove(elem)
		}
		elem = next
	}
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[TileKey]*list.Element)
	c.lruList = list.New()
}
