package loader

import (
	"slices"

	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// Cache holds the last Result per node. It has no locking: a session only
// touches its cache from the presentation goroutine. There is no eviction
// or expiry; a fresh Load overwrites the record.
type Cache struct {
	records map[remote.NodeKey]Result
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{records: make(map[remote.NodeKey]Result)}
}

// Put stores r for key, replacing any earlier record.
func (c *Cache) Put(key remote.NodeKey, r Result) {
	c.records[key] = r
}

// Get returns the record for key and whether one exists.
func (c *Cache) Get(key remote.NodeKey) (Result, bool) {
	r, ok := c.records[key]
	return r, ok
}

// Len returns the number of records.
func (c *Cache) Len() int { return len(c.records) }

// Keys returns the cached keys, sorted.
func (c *Cache) Keys() []remote.NodeKey {
	keys := make([]remote.NodeKey, 0, len(c.records))
	for k := range c.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
