// Package statistics holds the internal column statistics store and the
// rules for combining internal statistics with connector estimates.
package statistics

import "github.com/ekaya-inc/ekaya-federation/pkg/models"

// BuildInternal builds a snapshot from internal store entries. stats[i]
// belongs to columns[i]; a missing or nil entry yields an unknown statistic.
// The row count comes from the known entries, the last one winning.
func BuildInternal(columns []models.ColumnRef, stats []*models.ConnectorTableColumnStats) *models.TableStatistics {
	out := &models.TableStatistics{
		Columns: make([]models.ColumnStatisticEntry, 0, len(columns)),
	}
	for i, col := range columns {
		var entry *models.ConnectorTableColumnStats
		if i < len(stats) {
			entry = stats[i]
		}

		stat := models.UnknownColumnStatistic()
		if !entry.IsUnknown() {
			stat = entry.Statistic
			out.OutputRowCount = float64(entry.RowCount)
		}
		out.Columns = append(out.Columns, models.ColumnStatisticEntry{Column: col, Statistic: stat})
	}
	return out
}

// Merge combines an internal snapshot with a connector estimate. Each
// requested column takes the internal statistic when known, else the
// connector's, else unknown. The row count is always the connector's: the
// internal row count is dropped even when some internal columns are known.
// Returns nil if external is nil.
func Merge(columns []models.ColumnRef, internal, external *models.TableStatistics) *models.TableStatistics {
	if external == nil {
		return nil
	}

	out := &models.TableStatistics{
		OutputRowCount: external.OutputRowCount,
		Columns:        make([]models.ColumnStatisticEntry, 0, len(columns)),
	}
	for _, col := range columns {
		stat, ok := internal.ColumnStatistic(col)
		if !ok || stat.Unknown {
			stat, ok = external.ColumnStatistic(col)
			if !ok {
				stat = models.UnknownColumnStatistic()
			}
		}
		out.Columns = append(out.Columns, models.ColumnStatisticEntry{Column: col, Statistic: stat})
	}
	return out
}
