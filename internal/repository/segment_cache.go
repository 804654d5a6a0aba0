package repository

import "sync"

// SegmentNameCache maps segment ids to display names. It is filled by every
// successful directory call and is safe for concurrent use.
type SegmentNameCache struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewSegmentNameCache() *SegmentNameCache {
	return &SegmentNameCache{names: make(map[string]string)}
}

func (c *SegmentNameCache) Get(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok
}

// Put stores a name. Empty names are ignored.
func (c *SegmentNameCache) Put(id, name string) {
	if id == "" || name == "" {
		return
	}
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
}

func (c *SegmentNameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}
