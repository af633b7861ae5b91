// Package sink describes which table kinds can be written by a query and
// builds the data sinks that write them.
package sink

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// ErrUnknownTableType is returned when no sink can be built for a table kind.
var ErrUnknownTableType = errors.New("unknown table type")

// ExplainLevel selects how much detail an explain string carries.
type ExplainLevel int

const (
	ExplainNormal ExplainLevel = iota
	ExplainVerbose
)

// Fragment is the plan fragment a sink belongs to.
type Fragment struct {
	ID int
}

// DataSink is the terminal operator of a plan fragment.
type DataSink interface {
	// ExplainString renders the sink, each line starting with prefix.
	ExplainString(prefix string, level ExplainLevel) string
	VerboseExplain(prefix string) string
	SetFragment(f *Fragment)
	Fragment() *Fragment
	CanUsePipeline() bool
	CanUseRuntimeAdaptiveDOP() bool
}

// Capability is what the engine can do when writing a table kind.
type Capability struct {
	SupportsPipeline bool
	// NewSink is nil for kinds whose sinks are planned elsewhere.
	NewSink func(table *models.Table) (DataSink, error)
}

var capabilities = map[models.TableKind]Capability{
	models.TableKindOLAP:    {SupportsPipeline: true},
	models.TableKindMySQL:   {SupportsPipeline: true, NewSink: newMySQLTableSink},
	models.TableKindIceberg: {SupportsPipeline: true},
	models.TableKindHive:    {SupportsPipeline: true},
}

// CapabilityFor returns the capability of kind. Unknown kinds have none.
func CapabilityFor(kind models.TableKind) Capability {
	return capabilities[kind]
}

// CanTableSinkUsePipeline reports whether writes to table can run on the
// pipeline engine.
func CanTableSinkUsePipeline(table *models.Table) bool {
	if table == nil {
		return false
	}
	return CapabilityFor(table.Kind).SupportsPipeline
}

// NewDataSink builds the sink writing table.
func NewDataSink(table *models.Table) (DataSink, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: no table", ErrUnknownTableType)
	}
	c := CapabilityFor(table.Kind)
	if c.NewSink == nil {
		return nil, fmt.Errorf("%w %s", ErrUnknownTableType, table.Kind)
	}
	return c.NewSink(table)
}

// baseSink carries what every sink shares.
type baseSink struct {
	fragment *Fragment
}

func (b *baseSink) SetFragment(f *Fragment) { b.fragment = f }

func (b *baseSink) Fragment() *Fragment { return b.fragment }

func (b *baseSink) CanUsePipeline() bool { return true }

func (b *baseSink) CanUseRuntimeAdaptiveDOP() bool { return false }
