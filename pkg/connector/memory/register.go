package memory

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

func init() {
	connector.Register(connector.TypeRegistration{
		Info: connector.TypeInfo{
			Type:        "memory",
			DisplayName: "In-memory",
			Description: "Process-local catalog for tests and demos",
		},
		Factory: func(ctx context.Context, catalog string, properties map[string]any, opts connector.FactoryOptions) (connector.Connector, error) {
			c := New(catalog, opts.Logger)
			if err := seed(c, properties); err != nil {
				return nil, err
			}
			return c, nil
		},
	})
}

// seed fills a catalog from its "databases" property:
//
//	databases:
//	  sales: [orders, customers]
func seed(c *Catalog, properties map[string]any) error {
	raw, ok := properties["databases"]
	if !ok {
		return nil
	}
	dbs, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("memory catalog %s: databases must be a mapping", c.name)
	}

	for db, tables := range dbs {
		c.AddDatabase(db)
		list, ok := tables.([]any)
		if !ok {
			if tables == nil {
				continue
			}
			return fmt.Errorf("memory catalog %s: tables of %s must be a list", c.name, db)
		}
		for _, t := range list {
			name, ok := t.(string)
			if !ok {
				return fmt.Errorf("memory catalog %s: table names of %s must be strings", c.name, db)
			}
			c.AddTable(db, models.Table{
				Name:    name,
				Columns: []models.Column{{Name: "id", Type: "bigint", PrimaryKey: true}},
			})
		}
	}
	return nil
}
