package connector

import (
	"sync"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// TableCache memoizes table handles, including misses, for the lifetime of
// a provider session. The zero value is ready to use.
type TableCache struct {
	mu     sync.Mutex
	tables map[string]*models.Table
}

func tableKey(db, table string) string {
	return db + "\x00" + table
}

// Get returns the cached handle. ok is false if the table was never looked up;
// a cached miss returns (nil, true).
func (c *TableCache) Get(db, table string) (t *models.Table, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok = c.tables[tableKey(db, table)]
	return t, ok
}

// Put records a lookup result. A nil table records a miss.
func (c *TableCache) Put(db, table string, t *models.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tables == nil {
		c.tables = make(map[string]*models.Table)
	}
	c.tables[tableKey(db, table)] = t
}

// Forget drops one entry so the next lookup goes to the source.
func (c *TableCache) Forget(db, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, tableKey(db, table))
}

// Clear drops every entry.
func (c *TableCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = nil
}

// Len returns the number of cached lookups.
func (c *TableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}
