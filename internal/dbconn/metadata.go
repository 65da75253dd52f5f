package dbconn

import (
	"strings"
	"sync"

	"github.com/docflowhq/docflow/internal/types"
)

// MetadataCache is the process-local, read-mostly cache of per-table column
// metadata, keyed by (serverKey, table). A reader-preferred lock fits the
// access pattern: metadata is fetched once per table and then read on every
// bind.
type MetadataCache struct {
	mu     sync.RWMutex
	tables map[string]types.TableMeta
}

// NewMetadataCache returns an empty cache.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{tables: make(map[string]types.TableMeta)}
}

func cacheKey(serverKey, table string) string {
	return serverKey + "|" + strings.ToLower(table)
}

// Get returns the cached metadata for a table, if present.
func (c *MetadataCache) Get(serverKey, table string) (types.TableMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.tables[cacheKey(serverKey, table)]
	return meta, ok
}

// Put stores metadata for a table.
func (c *MetadataCache) Put(serverKey, table string, meta types.TableMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[cacheKey(serverKey, table)] = meta
}

// Invalidate drops a table's cached metadata (after DDL changes).
func (c *MetadataCache) Invalidate(serverKey, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, cacheKey(serverKey, table))
}

// Len reports the number of cached tables.
func (c *MetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}
