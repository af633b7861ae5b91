// Package connector defines the metadata provider capability implemented by
// catalog connectors and the registry mapping catalog names to connectors.
package connector

import (
	"context"
	"errors"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// ErrUnsupported is returned by providers for operations their catalog
// type cannot perform, such as sink commits on a relational source.
var ErrUnsupported = errors.New("operation not supported by connector")

// Provider is a live metadata session of one catalog.
//
// Lookups that find nothing return (nil, nil); errors are reserved for
// failures talking to the underlying system. A session may cache remote
// lookups for its whole lifetime, which is how a query gets a stable view of
// external metadata while other queries see concurrent changes.
type Provider interface {
	ListDatabaseNames(ctx context.Context) ([]string, error)
	CreateDatabase(ctx context.Context, name string, properties map[string]string) error
	DropDatabase(ctx context.Context, name string, force bool) error
	GetDatabase(ctx context.Context, name string) (*models.Database, error)

	ListTableNames(ctx context.Context, db string) ([]string, error)
	CreateTable(ctx context.Context, stmt *models.CreateTableStmt) error
	DropTable(ctx context.Context, stmt *models.DropTableStmt) error
	GetTable(ctx context.Context, db, table string) (*models.Table, error)
	GetMaterializedViewIndex(ctx context.Context, db, table string) (*models.MaterializedViewIndex, error)

	ListPartitionNames(ctx context.Context, db, table string) ([]string, error)
	// ListPartitionNamesByValue matches partitions column by column; a nil
	// value matches any value of that partition column.
	ListPartitionNamesByValue(ctx context.Context, db, table string, values []*string) ([]string, error)
	GetRemoteFileInfos(ctx context.Context, table *models.Table, req models.RemoteFileRequest) ([]models.RemoteFileInfo, error)
	GetPartitions(ctx context.Context, table *models.Table, partitionNames []string) ([]models.PartitionInfo, error)
	RefreshTable(ctx context.Context, db string, table *models.Table, partitionNames []string, onlyCachedPartitions bool) error

	// FinishSink commits the files written by table sink fragments.
	FinishSink(ctx context.Context, db, table string, infos []models.SinkCommitInfo) error

	// GetTableStatistics returns the connector's estimate for a scan, or nil
	// when it has none.
	GetTableStatistics(ctx context.Context, req models.StatisticsRequest) (*models.TableStatistics, error)

	// Release frees session resources. It is idempotent; a released session
	// may fail further calls but must not panic.
	Release()
}

// Connector is the catalog-wide handle of one external catalog.
type Connector interface {
	// Metadata opens a new provider session.
	Metadata(ctx context.Context) (Provider, error)

	// Close releases catalog-wide resources such as connection pools.
	Close() error
}
