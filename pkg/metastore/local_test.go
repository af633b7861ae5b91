package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

func newTestMetastore(t *testing.T) *LocalMetastore {
	t.Helper()
	m := NewLocalMetastore(zaptest.NewLogger(t))
	require.NoError(t, m.CreateDatabase(context.Background(), "analytics", nil))
	return m
}

func createStmt(db, table string) *models.CreateTableStmt {
	return &models.CreateTableStmt{
		Name:    models.NewTableName(models.InternalCatalog, db, table),
		Columns: []models.Column{{Name: "id", Type: "BIGINT"}},
	}
}

func TestLocalMetastore_Databases(t *testing.T) {
	ctx := context.Background()
	m := newTestMetastore(t)

	err := m.CreateDatabase(ctx, "analytics", nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, m.CreateDatabase(ctx, "staging", map[string]string{"replication_num": "1"}))
	names, err := m.ListDatabaseNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics", "staging"}, names)

	db, err := m.GetDatabase(ctx, "staging")
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Equal(t, "1", db.Properties["replication_num"])
	assert.Equal(t, db.Name, m.Database(db.ID).Name)

	missing, err := m.GetDatabase(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, m.CreateTable(ctx, createStmt("staging", "t1")))
	assert.Error(t, m.DropDatabase(ctx, "staging", false), "non-empty database needs force")
	require.NoError(t, m.DropDatabase(ctx, "staging", true))
	assert.Nil(t, m.Database(db.ID))

	var ddlErr *apperrors.DDLError
	require.ErrorAs(t, m.DropDatabase(ctx, "staging", false), &ddlErr)
	assert.Equal(t, apperrors.ErrCodeBadDB, ddlErr.Code)
}

func TestLocalMetastore_Tables(t *testing.T) {
	ctx := context.Background()
	m := newTestMetastore(t)

	require.NoError(t, m.CreateTable(ctx, createStmt("analytics", "events")))

	var ddlErr *apperrors.DDLError
	err := m.CreateTable(ctx, createStmt("analytics", "events"))
	require.ErrorAs(t, err, &ddlErr)
	assert.Equal(t, apperrors.ErrCodeTableExists, ddlErr.Code)

	stmt := createStmt("analytics", "events")
	stmt.IfNotExists = true
	assert.NoError(t, m.CreateTable(ctx, stmt))

	err = m.CreateTable(ctx, createStmt("nope", "events"))
	assert.ErrorIs(t, err, apperrors.ErrDatabaseNotFound)

	table, err := m.GetTable(ctx, "analytics", "events")
	require.NoError(t, err)
	require.NotNil(t, table)
	assert.Equal(t, models.TableKindOLAP, table.Kind)
	assert.Equal(t, models.InternalCatalog, table.CatalogName)

	idx, err := m.GetMaterializedViewIndex(ctx, "analytics", "events")
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, table.ID, idx.Index.IndexID)

	err = m.DropTable(ctx, &models.DropTableStmt{Name: models.NewTableName("", "analytics", "ghost")})
	assert.ErrorIs(t, err, apperrors.ErrTableNotFound)
	assert.NoError(t, m.DropTable(ctx, &models.DropTableStmt{Name: models.NewTableName("", "analytics", "ghost"), IfExists: true}))

	require.NoError(t, m.DropTable(ctx, &models.DropTableStmt{Name: models.NewTableName("", "analytics", "events")}))
	gone, err := m.GetTable(ctx, "analytics", "events")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestLocalMetastore_Views(t *testing.T) {
	ctx := context.Background()
	m := newTestMetastore(t)
	refs := []models.TableName{models.NewTableName("hive", "sales", "orders")}

	v := models.NewView("", "recent_orders", "SELECT * FROM hive.sales.orders", refs)
	require.NoError(t, m.CreateView(ctx, "analytics", v, false))
	assert.Equal(t, "analytics", v.DBName)

	names, err := m.ListTableNames(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, []string{"recent_orders"}, names)

	table, err := m.GetTable(ctx, "analytics", "recent_orders")
	require.NoError(t, err)
	assert.Equal(t, models.TableKindView, table.Kind)

	dbs := m.DatabaseIDs()
	require.Len(t, dbs, 1)
	views := m.Views(dbs[0])
	require.Len(t, views, 1)
	assert.Same(t, v, views[0])

	err = m.CreateView(ctx, "analytics", models.NewView("", "recent_orders", "SELECT 1", nil), false)
	assert.ErrorIs(t, err, apperrors.ErrTableExists)

	v.SetInvalid("table [orders] has been dropped")
	replacement := models.NewView("", "recent_orders", "SELECT * FROM hive.sales.orders_v2",
		[]models.TableName{models.NewTableName("hive", "sales", "orders_v2")})
	require.NoError(t, m.CreateView(ctx, "analytics", replacement, true))
	assert.True(t, v.IsValid())
	assert.Equal(t, "orders_v2", v.TableRefs()[0].Table)
	assert.Same(t, v, m.View("analytics", "recent_orders"))
}

func TestLocalMetastore_ProviderNoops(t *testing.T) {
	ctx := context.Background()
	m := newTestMetastore(t)

	parts, err := m.ListPartitionNames(ctx, "analytics", "events")
	assert.NoError(t, err)
	assert.Empty(t, parts)

	stats, err := m.GetTableStatistics(ctx, models.StatisticsRequest{})
	assert.NoError(t, err)
	assert.Nil(t, stats)

	err = m.FinishSink(ctx, "analytics", "events", nil)
	assert.ErrorIs(t, err, connector.ErrUnsupported)

	m.Release()
	m.Release()
	names, err := m.ListDatabaseNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"analytics"}, names, "release must not affect the shared metastore")
}
