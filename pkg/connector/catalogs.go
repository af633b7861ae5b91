package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/logging"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// CatalogConnector is a registered external catalog.
type CatalogConnector struct {
	Name      string
	Type      string
	Connector Connector
}

// Registry maps catalog names to connectors. Names are case-insensitive.
// The internal catalog is never registered here.
type Registry struct {
	mu       sync.RWMutex
	catalogs map[string]*CatalogConnector
	opts     FactoryOptions
	logger   *zap.Logger
}

// NewRegistry creates an empty catalog registry.
func NewRegistry(pool config.ConnectorConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		catalogs: make(map[string]*CatalogConnector),
		opts:     FactoryOptions{Pool: pool, Logger: logger},
		logger:   logger.With(zap.String("component", "catalog_registry")),
	}
}

// Add builds a connector from cfg through the type registry and registers it.
func (r *Registry) Add(ctx context.Context, cfg config.CatalogConfig) error {
	if err := r.checkName(cfg.Name); err != nil {
		return err
	}

	c, err := newConnector(ctx, cfg, r.opts)
	if err != nil {
		r.logger.Error("Failed to create connector",
			zap.String("catalog", cfg.Name),
			zap.String("type", cfg.Type),
			zap.Any("properties", logging.SanitizeProperties(cfg.Properties)),
			zap.String("error", logging.SanitizeError(err)))
		return fmt.Errorf("create connector for catalog %s: %w", cfg.Name, err)
	}

	if err := r.AddConnector(cfg.Name, cfg.Type, c); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// AddConnector registers an already constructed connector.
func (r *Registry) AddConnector(name, connectorType string, c Connector) error {
	if err := r.checkName(name); err != nil {
		return err
	}

	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.catalogs[key]; exists {
		return fmt.Errorf("catalog %s: %w", name, apperrors.ErrConflict)
	}
	r.catalogs[key] = &CatalogConnector{Name: name, Type: connectorType, Connector: c}

	r.logger.Info("Registered catalog",
		zap.String("catalog", name),
		zap.String("type", connectorType))
	return nil
}

// Lookup returns the connector of a catalog. Absence is a normal outcome.
func (r *Registry) Lookup(name string) (*CatalogConnector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.catalogs[strings.ToLower(name)]
	return c, ok
}

// Remove unregisters a catalog and closes its connector.
func (r *Registry) Remove(name string) error {
	key := strings.ToLower(name)

	r.mu.Lock()
	c, ok := r.catalogs[key]
	delete(r.catalogs, key)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("catalog %s: %w", name, apperrors.ErrCatalogNotFound)
	}

	r.logger.Info("Removed catalog", zap.String("catalog", c.Name))
	return c.Connector.Close()
}

// Names returns the registered catalog names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.catalogs))
	for _, c := range r.catalogs {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connector and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	catalogs := r.catalogs
	r.catalogs = make(map[string]*CatalogConnector)
	r.mu.Unlock()

	var errs []error
	for _, c := range catalogs {
		if err := c.Connector.Close(); err != nil {
			r.logger.Error("Failed to close connector",
				zap.String("catalog", c.Name),
				zap.String("error", logging.SanitizeError(err)))
			errs = append(errs, fmt.Errorf("close catalog %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) checkName(name string) error {
	if name == "" {
		return fmt.Errorf("catalog name is required: %w", apperrors.ErrInvalidCatalog)
	}
	if models.IsInternalCatalog(name) {
		return fmt.Errorf("catalog name %s is reserved: %w", name, apperrors.ErrInvalidCatalog)
	}
	return nil
}
