package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

var (
	colID   = models.ColumnRef{ID: 1, Name: "id"}
	colName = models.ColumnRef{ID: 2, Name: "name"}
	colDT   = models.ColumnRef{ID: 3, Name: "dt"}
)

func known(distinct float64, rows int64) *models.ConnectorTableColumnStats {
	return &models.ConnectorTableColumnStats{
		Statistic: models.ColumnStatistic{DistinctCount: distinct},
		RowCount:  rows,
	}
}

func TestBuildInternal_OneEntryPerColumnInRequestOrder(t *testing.T) {
	columns := []models.ColumnRef{colDT, colID, colName}
	stats := []*models.ConnectorTableColumnStats{
		nil,
		known(100, 1000),
		{Statistic: models.UnknownColumnStatistic(), RowCount: 5},
	}

	got := BuildInternal(columns, stats)

	require.Len(t, got.Columns, 3)
	assert.Equal(t, colDT, got.Columns[0].Column)
	assert.True(t, got.Columns[0].Statistic.Unknown)
	assert.Equal(t, colID, got.Columns[1].Column)
	assert.Equal(t, 100.0, got.Columns[1].Statistic.DistinctCount)
	assert.True(t, got.Columns[2].Statistic.Unknown)
	assert.Equal(t, 1000.0, got.OutputRowCount, "unknown entries do not contribute a row count")
	assert.False(t, got.AllKnown())
	assert.False(t, got.AllUnknown())
}

func TestBuildInternal_ShortStoreResult(t *testing.T) {
	got := BuildInternal([]models.ColumnRef{colID, colName}, []*models.ConnectorTableColumnStats{known(1, 10)})
	require.Len(t, got.Columns, 2)
	assert.True(t, got.Columns[1].Statistic.Unknown)
}

func TestBuildInternal_LastKnownRowCountWins(t *testing.T) {
	got := BuildInternal([]models.ColumnRef{colID, colName}, []*models.ConnectorTableColumnStats{known(1, 10), known(2, 20)})
	assert.Equal(t, 20.0, got.OutputRowCount)
	assert.True(t, got.AllKnown())
}

func TestMerge(t *testing.T) {
	columns := []models.ColumnRef{colID, colName, colDT}
	internal := BuildInternal(columns, []*models.ConnectorTableColumnStats{known(100, 1000), nil, nil})
	external := &models.TableStatistics{
		OutputRowCount: 5000,
		Columns: []models.ColumnStatisticEntry{
			{Column: colName, Statistic: models.ColumnStatistic{DistinctCount: 42}},
			{Column: colID, Statistic: models.ColumnStatistic{DistinctCount: 9999}},
		},
	}

	got := Merge(columns, internal, external)

	require.NotNil(t, got)
	assert.Equal(t, 5000.0, got.OutputRowCount, "the internal row count of 1000 is dropped once any column is unknown")
	require.Len(t, got.Columns, 3)

	id, _ := got.ColumnStatistic(colID)
	assert.Equal(t, 100.0, id.DistinctCount, "known internal values take precedence")
	name, _ := got.ColumnStatistic(colName)
	assert.Equal(t, 42.0, name.DistinctCount)
	dt, _ := got.ColumnStatistic(colDT)
	assert.True(t, dt.Unknown)
}

func TestMerge_NilExternal(t *testing.T) {
	internal := BuildInternal([]models.ColumnRef{colID}, nil)
	assert.Nil(t, Merge([]models.ColumnRef{colID}, internal, nil))
}
