//go:build postgres || all_connectors

package postgres

import (
	"context"

	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
)

func init() {
	connector.Register(connector.TypeRegistration{
		Info: connector.TypeInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Expose PostgreSQL 12+ schemas as databases of an external catalog",
		},
		Factory: func(ctx context.Context, catalog string, properties map[string]any, opts connector.FactoryOptions) (connector.Connector, error) {
			cfg, err := FromMap(properties)
			if err != nil {
				return nil, err
			}
			return New(ctx, catalog, cfg, opts.Pool, opts.Logger)
		},
	})
}
