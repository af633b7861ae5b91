package statistics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := &models.Table{CatalogName: "Lake", DBName: "sales", Name: "orders"}

	store.Put(orders, "id", *known(100, 1000))

	got, err := store.GetConnectorTableStatistics(ctx, &models.Table{CatalogName: "lake", DBName: "sales", Name: "orders"}, []string{"dt", "id"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, int64(1000), got[1].RowCount)

	// Returned entries are copies.
	got[1].RowCount = 1
	again, err := store.GetConnectorTableStatistics(ctx, orders, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), again[0].RowCount)

	store.DeleteTable(orders)
	gone, err := store.GetConnectorTableStatistics(ctx, orders, []string{"id"})
	require.NoError(t, err)
	assert.Nil(t, gone[0])
}
