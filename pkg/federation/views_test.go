package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-federation/pkg/metastore"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// vanishingDirectory lists a database that is gone by the time it is read.
type vanishingDirectory struct {
	metastore.Directory
	gone int64
}

func (d vanishingDirectory) DatabaseIDs() []int64 {
	return append(d.Directory.DatabaseIDs(), d.gone)
}

func TestViewInvalidator_InactiveViews(t *testing.T) {
	ctx := context.Background()
	local := metastore.NewLocalMetastore(zaptest.NewLogger(t))
	for _, db := range []string{"a", "b", "c"} {
		require.NoError(t, local.CreateDatabase(ctx, db, nil))
	}

	events := models.NewTableName("hive", "raw", "events")
	users := models.NewTableName("hive", "raw", "users")
	native := models.NewTableName("", "a", "facts")

	byEvents := models.NewView("", "by_events", "", []models.TableName{events})
	byUsers := models.NewView("", "by_users", "", []models.TableName{users})
	byBoth := models.NewView("", "by_both", "", []models.TableName{users, events})
	byNative := models.NewView("", "by_native", "", []models.TableName{native})
	require.NoError(t, local.CreateView(ctx, "a", byEvents, false))
	require.NoError(t, local.CreateView(ctx, "b", byUsers, false))
	require.NoError(t, local.CreateView(ctx, "c", byBoth, false))
	require.NoError(t, local.CreateView(ctx, "c", byNative, false))

	inv := NewViewInvalidator(vanishingDirectory{Directory: local, gone: 999}, zaptest.NewLogger(t))

	got, err := inv.InactiveViews(ctx, []models.TableName{events}, "table [events] has been dropped")
	require.NoError(t, err)
	assert.ElementsMatch(t, []*models.View{byEvents, byBoth}, got)
	assert.False(t, byEvents.IsValid())
	assert.False(t, byBoth.IsValid())
	assert.True(t, byUsers.IsValid())

	got, err = inv.InactiveViews(ctx, []models.TableName{models.NewTableName(models.InternalCatalog, "a", "facts")}, "table [facts] has been dropped")
	require.NoError(t, err)
	assert.Equal(t, []*models.View{byNative}, got)

	// Invalid views stay invalid until redefined.
	byEvents.Redefine("SELECT 1", nil)
	assert.True(t, byEvents.IsValid())
	assert.Empty(t, byEvents.InvalidReason())
}

func TestViewInvalidator_NothingToDo(t *testing.T) {
	ctx := context.Background()

	got, err := NewViewInvalidator(nil, nil).InactiveViews(ctx, []models.TableName{{DB: "a", Table: "t"}}, "dropped")
	assert.NoError(t, err)
	assert.Empty(t, got)

	local := metastore.NewLocalMetastore(nil)
	got, err = NewViewInvalidator(local, nil).InactiveViews(ctx, nil, "dropped")
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestViewInvalidator_CanceledContext(t *testing.T) {
	local := metastore.NewLocalMetastore(nil)
	require.NoError(t, local.CreateDatabase(context.Background(), "a", nil))
	view := models.NewView("", "v", "", []models.TableName{{Catalog: "hive", DB: "raw", Table: "events"}})
	require.NoError(t, local.CreateView(context.Background(), "a", view, false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewViewInvalidator(local, nil).InactiveViews(ctx, []models.TableName{{Catalog: "hive", DB: "raw", Table: "events"}}, "dropped")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, view.IsValid())
}
