package statistics

import (
	"context"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// Store is the internal statistics store: column statistics the engine
// computed itself for external tables.
type Store interface {
	// GetConnectorTableStatistics returns one entry per column name, in
	// order. Entries for columns without statistics are nil.
	GetConnectorTableStatistics(ctx context.Context, table *models.Table, columns []string) ([]*models.ConnectorTableColumnStats, error)
}

type columnKey struct {
	catalog, db, table, column string
}

func newColumnKey(table *models.Table, column string) columnKey {
	return columnKey{
		catalog: strings.ToLower(table.CatalogName),
		db:      table.DBName,
		table:   table.Name,
		column:  column,
	}
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.RWMutex
	stats map[columnKey]models.ConnectorTableColumnStats
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[columnKey]models.ConnectorTableColumnStats)}
}

// Put records the statistic of one column.
func (s *MemoryStore) Put(table *models.Table, column string, stats models.ConnectorTableColumnStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[newColumnKey(table, column)] = stats
}

// DeleteTable forgets every column of a table.
func (s *MemoryStore) DeleteTable(table *models.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := newColumnKey(table, "")
	for k := range s.stats {
		if k.catalog == prefix.catalog && k.db == prefix.db && k.table == prefix.table {
			delete(s.stats, k)
		}
	}
}

func (s *MemoryStore) GetConnectorTableStatistics(ctx context.Context, table *models.Table, columns []string) ([]*models.ConnectorTableColumnStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ConnectorTableColumnStats, len(columns))
	for i, col := range columns {
		if st, ok := s.stats[newColumnKey(table, col)]; ok {
			st := st
			out[i] = &st
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
