package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

func TestTableCache(t *testing.T) {
	var c TableCache

	_, ok := c.Get("sales", "orders")
	assert.False(t, ok)

	orders := &models.Table{Name: "orders"}
	c.Put("sales", "orders", orders)
	c.Put("sales", "missing", nil)

	got, ok := c.Get("sales", "orders")
	assert.True(t, ok)
	assert.Same(t, orders, got)

	got, ok = c.Get("sales", "missing")
	assert.True(t, ok, "misses are cached")
	assert.Nil(t, got)
	assert.Equal(t, 2, c.Len())

	c.Forget("sales", "orders")
	_, ok = c.Get("sales", "orders")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
