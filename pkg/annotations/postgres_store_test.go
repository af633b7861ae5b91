//go:build integration

package annotations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
	"github.com/ekaya-inc/ekaya-federation/pkg/testhelpers"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(testDB.DB)
	t.Cleanup(func() { _ = store.Delete(ctx, "hive", "annotations_it", "orders") })

	_, err := store.Get(ctx, "hive", "annotations_it", "orders")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	a := &models.TableAnnotation{
		Description: strPtr("one row per order"),
		Properties:  map[string]string{"tier": "gold"},
	}
	require.NoError(t, store.Upsert(ctx, "HIVE", "annotations_it", "orders", a))
	assert.False(t, a.UpdatedAt.IsZero())

	a.Owner = strPtr("data-platform")
	require.NoError(t, store.Upsert(ctx, "hive", "annotations_it", "orders", a))

	table := &models.Table{Name: "orders"}
	require.NoError(t, store.Annotate(ctx, "hive", "annotations_it", table))
	require.NotNil(t, table.Annotation)
	assert.Equal(t, "one row per order", *table.Annotation.Description)
	assert.Equal(t, "data-platform", *table.Annotation.Owner)
	assert.Equal(t, "gold", table.Annotation.Properties["tier"])

	require.NoError(t, store.Delete(ctx, "hive", "annotations_it", "orders"))
	missing := &models.Table{Name: "orders"}
	require.NoError(t, store.Annotate(ctx, "hive", "annotations_it", missing))
	assert.Nil(t, missing.Annotation)
}
