package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/config"
)

// TypeInfo describes a compiled-in connector type.
type TypeInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql", "memory"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// FactoryOptions carries process-wide settings into connector factories.
type FactoryOptions struct {
	Pool   config.ConnectorConfig
	Logger *zap.Logger
}

// Factory builds a connector for the named catalog from its properties.
type Factory func(ctx context.Context, catalog string, properties map[string]any, opts FactoryOptions) (Connector, error)

// TypeRegistration contains info + factory for one connector type.
type TypeRegistration struct {
	Info    TypeInfo
	Factory Factory
}

var (
	typesMu sync.RWMutex
	types   = make(map[string]TypeRegistration)
)

// Register is called by each connector's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg TypeRegistration) {
	typesMu.Lock()
	defer typesMu.Unlock()
	types[reg.Info.Type] = reg
}

// RegisteredTypes returns info for all registered connector types, sorted by type.
func RegisteredTypes() []TypeInfo {
	typesMu.RLock()
	defer typesMu.RUnlock()

	result := make([]TypeInfo, 0, len(types))
	for _, reg := range types {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetFactory returns the factory for a connector type.
// Returns nil if type is not registered.
func GetFactory(connectorType string) Factory {
	typesMu.RLock()
	defer typesMu.RUnlock()

	if reg, ok := types[connectorType]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if a connector type is available.
func IsRegistered(connectorType string) bool {
	typesMu.RLock()
	defer typesMu.RUnlock()
	_, ok := types[connectorType]
	return ok
}

// newConnector builds a connector through the type registry.
func newConnector(ctx context.Context, cfg config.CatalogConfig, opts FactoryOptions) (Connector, error) {
	factory := GetFactory(cfg.Type)
	if factory == nil {
		return nil, fmt.Errorf("unsupported connector type: %s (not compiled in)", cfg.Type)
	}
	return factory(ctx, cfg.Name, cfg.Properties, opts)
}
