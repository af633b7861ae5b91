// Package annotations keeps engine-side metadata for external tables and
// attaches it to table handles as they are resolved.
package annotations

import (
	"context"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// Store attaches stored annotations to table handles.
type Store interface {
	// Annotate sets table.Annotation when an annotation exists for
	// (catalog, db, table). A table without an annotation is left as is.
	Annotate(ctx context.Context, catalog, db string, table *models.Table) error
}

type tableKey struct {
	catalog, db, table string
}

func newTableKey(catalog, db, table string) tableKey {
	return tableKey{catalog: strings.ToLower(catalog), db: db, table: table}
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu          sync.RWMutex
	annotations map[tableKey]models.TableAnnotation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{annotations: make(map[tableKey]models.TableAnnotation)}
}

// Put records the annotation of a table, replacing any previous one.
func (s *MemoryStore) Put(catalog, db, table string, a models.TableAnnotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[newTableKey(catalog, db, table)] = a
}

// Delete forgets the annotation of a table.
func (s *MemoryStore) Delete(catalog, db, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.annotations, newTableKey(catalog, db, table))
}

func (s *MemoryStore) Annotate(ctx context.Context, catalog, db string, table *models.Table) error {
	if table == nil {
		return nil
	}
	s.mu.RLock()
	a, ok := s.annotations[newTableKey(catalog, db, table.Name)]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	a.Properties = copyProperties(a.Properties)
	table.Annotation = &a
	return nil
}

func copyProperties(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
