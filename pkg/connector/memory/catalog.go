// Package memory implements an in-memory external catalog. Sessions snapshot
// what they read, so a query keeps seeing the same metadata while the catalog
// changes underneath it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// ErrSessionReleased is returned by calls on a released session.
var ErrSessionReleased = errors.New("memory: session released")

type tableData struct {
	table      *models.Table
	partitions []models.PartitionInfo
	files      map[string][]models.RemoteFileInfo // partition name ("" if unpartitioned) -> files
	stats      *models.TableStatistics
	commits    []models.SinkCommitInfo
	refreshes  int
}

type database struct {
	meta   models.Database
	tables map[string]*tableData
}

// Catalog is the connector of one in-memory catalog.
type Catalog struct {
	name   string
	logger *zap.Logger

	mu        sync.RWMutex
	databases map[string]*database
	faults    map[string]error
	nextID    int64

	opened    atomic.Int64
	open      atomic.Int64
	releases  atomic.Int64
	mutations atomic.Int64
}

// New creates an empty in-memory catalog.
func New(name string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		name:      name,
		logger:    logger.With(zap.String("catalog", name)),
		databases: make(map[string]*database),
		faults:    make(map[string]error),
	}
}

// Name returns the catalog name.
func (c *Catalog) Name() string {
	return c.name
}

// Metadata opens a new snapshotting session.
func (c *Catalog) Metadata(ctx context.Context) (connector.Provider, error) {
	if err := c.fault("Metadata"); err != nil {
		return nil, err
	}
	c.opened.Add(1)
	c.open.Add(1)
	return newSession(c), nil
}

// Close is a no-op; the catalog holds no external resources.
func (c *Catalog) Close() error {
	return nil
}

// AddDatabase creates a database if it does not exist and returns it.
func (c *Catalog) AddDatabase(name string) models.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addDatabaseLocked(name, nil).meta
}

// AddTable adds or replaces a table, creating its database if needed.
// Catalog name, database name, id and an empty kind are filled in.
func (c *Catalog) AddTable(db string, table models.Table) *models.Table {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.addDatabaseLocked(db, nil)
	c.nextID++
	t := cloneTable(&table)
	t.ID = c.nextID
	t.DBName = db
	t.CatalogName = c.name
	if t.Kind == "" {
		t.Kind = models.TableKindMemory
	}
	d.tables[t.Name] = &tableData{table: t, files: make(map[string][]models.RemoteFileInfo)}
	return cloneTable(t)
}

// RemoveTable drops a table behind the back of open sessions.
func (c *Catalog) RemoveTable(db, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.databases[db]; ok {
		delete(d.tables, table)
	}
}

// SetPartitions replaces the partitions of a table.
func (c *Catalog) SetPartitions(db, table string, partitions []models.PartitionInfo) error {
	return c.updateTable(db, table, func(t *tableData) {
		t.partitions = append([]models.PartitionInfo(nil), partitions...)
	})
}

// SetRemoteFiles replaces the files of one partition ("" for an unpartitioned table).
func (c *Catalog) SetRemoteFiles(db, table, partition string, files []models.RemoteFileInfo) error {
	return c.updateTable(db, table, func(t *tableData) {
		t.files[partition] = append([]models.RemoteFileInfo(nil), files...)
	})
}

// SetStatistics sets the connector-side statistics estimate of a table.
func (c *Catalog) SetStatistics(db, table string, stats *models.TableStatistics) error {
	return c.updateTable(db, table, func(t *tableData) {
		t.stats = stats
	})
}

// Commits returns the sink commits recorded for a table.
func (c *Catalog) Commits(db, table string) []models.SinkCommitInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t := c.lookupLocked(db, table); t != nil {
		return append([]models.SinkCommitInfo(nil), t.commits...)
	}
	return nil
}

// Refreshes returns how often a table was refreshed.
func (c *Catalog) Refreshes(db, table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t := c.lookupLocked(db, table); t != nil {
		return t.refreshes
	}
	return 0
}

// FailOn makes every call of the named provider operation fail with err.
// A nil err clears the fault.
func (c *Catalog) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.faults, op)
		return
	}
	c.faults[op] = err
}

// SessionsOpened returns how many sessions were ever created.
func (c *Catalog) SessionsOpened() int64 { return c.opened.Load() }

// OpenSessions returns how many sessions are not yet released.
func (c *Catalog) OpenSessions() int64 { return c.open.Load() }

// Releases returns how many sessions were released.
func (c *Catalog) Releases() int64 { return c.releases.Load() }

// Mutations returns how many mutating calls reached the catalog.
func (c *Catalog) Mutations() int64 { return c.mutations.Load() }

func (c *Catalog) fault(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.faults[op]
}

func (c *Catalog) addDatabaseLocked(name string, props map[string]string) *database {
	if d, ok := c.databases[name]; ok {
		return d
	}
	c.nextID++
	d := &database{
		meta:   models.Database{ID: c.nextID, Name: name, Properties: props},
		tables: make(map[string]*tableData),
	}
	c.databases[name] = d
	return d
}

func (c *Catalog) lookupLocked(db, table string) *tableData {
	d, ok := c.databases[db]
	if !ok {
		return nil
	}
	return d.tables[table]
}

func (c *Catalog) updateTable(db, table string, fn func(*tableData)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.lookupLocked(db, table)
	if t == nil {
		return fmt.Errorf("%s.%s: %w", db, table, apperrors.ErrTableNotFound)
	}
	fn(t)
	return nil
}

func (c *Catalog) databaseNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) tableNames(db string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.databases[db]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

func cloneTable(t *models.Table) *models.Table {
	out := *t
	out.Columns = append([]models.Column(nil), t.Columns...)
	out.PartitionColumns = append([]string(nil), t.PartitionColumns...)
	if t.Properties != nil {
		out.Properties = make(map[string]string, len(t.Properties))
		for k, v := range t.Properties {
			out.Properties[k] = v
		}
	}
	out.Annotation = nil
	return &out
}

// partitionValues parses a hive-style partition name "k1=v1/k2=v2".
func partitionValues(name string) []string {
	parts := strings.Split(name, "/")
	values := make([]string, len(parts))
	for i, p := range parts {
		if _, v, ok := strings.Cut(p, "="); ok {
			values[i] = v
		} else {
			values[i] = p
		}
	}
	return values
}

// partitionName renders partition key values for the given columns.
func partitionName(columns []string, key models.PartitionKey) string {
	parts := make([]string, 0, len(key.Values))
	for i, v := range key.Values {
		if i < len(columns) {
			parts = append(parts, columns[i]+"="+v)
		} else {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "/")
}
