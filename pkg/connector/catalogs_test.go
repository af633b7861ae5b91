package connector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-federation/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-federation/pkg/config"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector"
	"github.com/ekaya-inc/ekaya-federation/pkg/connector/memory"
)

type closeRecorder struct {
	*memory.Catalog
	closed int
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed++
	return c.err
}

func TestRegisteredTypes_IncludesMemory(t *testing.T) {
	assert.True(t, connector.IsRegistered("memory"))
	assert.NotNil(t, connector.GetFactory("memory"))
	assert.Nil(t, connector.GetFactory("oracle"))

	var found bool
	for _, info := range connector.RegisteredTypes() {
		if info.Type == "memory" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRegistry_AddFromConfig(t *testing.T) {
	ctx := context.Background()
	r := connector.NewRegistry(config.ConnectorConfig{}, zaptest.NewLogger(t))
	defer r.Close()

	err := r.Add(ctx, config.CatalogConfig{
		Name: "Lake",
		Type: "memory",
		Properties: map[string]any{
			"databases": map[string]any{"sales": []any{"orders"}},
		},
	})
	require.NoError(t, err)

	c, ok := r.Lookup("lake")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "Lake", c.Name)
	assert.Equal(t, "memory", c.Type)

	p, err := c.Connector.Metadata(ctx)
	require.NoError(t, err)
	defer p.Release()
	tables, err := p.ListTableNames(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, tables)

	assert.ErrorIs(t, r.Add(ctx, config.CatalogConfig{Name: "lake", Type: "memory"}), apperrors.ErrConflict)
}

func TestRegistry_Rejects(t *testing.T) {
	ctx := context.Background()
	r := connector.NewRegistry(config.ConnectorConfig{}, zaptest.NewLogger(t))

	assert.ErrorIs(t, r.Add(ctx, config.CatalogConfig{Name: "default_catalog", Type: "memory"}), apperrors.ErrInvalidCatalog)
	assert.ErrorIs(t, r.AddConnector("", "memory", memory.New("x", nil)), apperrors.ErrInvalidCatalog)

	err := r.Add(ctx, config.CatalogConfig{Name: "ora", Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compiled in")

	_, ok := r.Lookup("ora")
	assert.False(t, ok)
}

func TestRegistry_RemoveAndClose(t *testing.T) {
	r := connector.NewRegistry(config.ConnectorConfig{}, zaptest.NewLogger(t))

	a := &closeRecorder{Catalog: memory.New("a", nil)}
	b := &closeRecorder{Catalog: memory.New("b", nil), err: errors.New("pool busy")}
	require.NoError(t, r.AddConnector("a", "memory", a))
	require.NoError(t, r.AddConnector("b", "memory", b))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	require.NoError(t, r.Remove("A"))
	assert.Equal(t, 1, a.closed)
	assert.ErrorIs(t, r.Remove("a"), apperrors.ErrCatalogNotFound)

	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool busy")
	assert.Equal(t, 1, b.closed)
	assert.Empty(t, r.Names())
}
