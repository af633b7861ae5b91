package models

import "fmt"

// ColumnRef is a planner column reference: a unique id plus the column name
// it resolves to in the scanned table.
type ColumnRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (c ColumnRef) String() string {
	return fmt.Sprintf("%d: %s", c.ID, c.Name)
}

// ColumnStatistic summarizes the value distribution of one column.
type ColumnStatistic struct {
	MinValue       float64 `json:"min_value"`
	MaxValue       float64 `json:"max_value"`
	NullCount      float64 `json:"null_count"`
	DistinctCount  float64 `json:"distinct_count"`
	AverageRowSize float64 `json:"average_row_size"`
	Unknown        bool    `json:"unknown"`
}

// UnknownColumnStatistic is the placeholder for a column with no data.
func UnknownColumnStatistic() ColumnStatistic {
	return ColumnStatistic{Unknown: true}
}

// ConnectorTableColumnStats is one column's entry from the internal
// statistics store: the distribution plus the table row count it was
// computed against.
type ConnectorTableColumnStats struct {
	Statistic ColumnStatistic `json:"statistic"`
	RowCount  int64           `json:"row_count"`
}

// IsUnknown reports whether the entry carries no usable statistic.
// A nil entry is unknown.
func (s *ConnectorTableColumnStats) IsUnknown() bool {
	return s == nil || s.Statistic.Unknown
}

// ColumnStatisticEntry binds a statistic to the column it describes.
type ColumnStatisticEntry struct {
	Column    ColumnRef       `json:"column"`
	Statistic ColumnStatistic `json:"statistic"`
}

// TableStatistics is a per-call statistics snapshot. Columns are kept in
// the caller's requested order.
type TableStatistics struct {
	OutputRowCount float64                `json:"output_row_count"`
	Columns        []ColumnStatisticEntry `json:"columns"`
}

// ColumnStatistic returns the statistic recorded for ref.
func (s *TableStatistics) ColumnStatistic(ref ColumnRef) (ColumnStatistic, bool) {
	if s == nil {
		return ColumnStatistic{}, false
	}
	for _, e := range s.Columns {
		if e.Column == ref {
			return e.Statistic, true
		}
	}
	return ColumnStatistic{}, false
}

// AllUnknown reports whether every column statistic is unknown.
// An empty snapshot is all-unknown.
func (s *TableStatistics) AllUnknown() bool {
	for _, e := range s.Columns {
		if !e.Statistic.Unknown {
			return false
		}
	}
	return true
}

// AllKnown reports whether no column statistic is unknown.
func (s *TableStatistics) AllKnown() bool {
	for _, e := range s.Columns {
		if e.Statistic.Unknown {
			return false
		}
	}
	return true
}

// Predicate is an opaque pushed-down filter. Providers may inspect it;
// the federation layer only passes it along.
type Predicate interface {
	String() string
}

// StatisticsRequest asks a provider for statistics of a table scan.
type StatisticsRequest struct {
	Table         *Table
	Columns       []ColumnRef
	PartitionKeys []PartitionKey
	Predicate     Predicate
}

// ColumnNames returns the names of the requested columns in order.
func (r StatisticsRequest) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}
