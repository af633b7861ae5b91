package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "config.yaml", `
env: "test"
`)

	os.Unsetenv("FEDERATION_QUERY_SCOPE_IDLE_TIMEOUT_SECONDS")
	os.Unsetenv("FEDERATION_MAX_QUERY_SCOPES")
	os.Unsetenv("PGHOST")

	cfg, err := LoadFile(path, "test-version")
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, 300*time.Second, cfg.Federation.IdleTimeout())
	assert.Equal(t, 500, cfg.Federation.MaxQueryScopes)
	assert.Equal(t, time.Minute, cfg.Federation.CleanupInterval())
	assert.False(t, cfg.Database.Enabled())
	assert.Empty(t, cfg.Catalogs)
}

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "config.yaml", `
env: "test"
federation:
  query_scope_idle_timeout_seconds: 120
  max_query_scopes: 50
database:
  host: "db.example.com"
`)

	t.Setenv("FEDERATION_MAX_QUERY_SCOPES", "75")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadFile(path, "v1")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, 75, cfg.Federation.MaxQueryScopes)
	assert.Equal(t, 120*time.Second, cfg.Federation.IdleTimeout())
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "db.example.com", cfg.Database.Host)
}

func TestLoadFile_CatalogsMergedFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	catalogsPath := writeFile(t, tmpDir, "catalogs.yaml", `
catalogs:
  - name: warehouse
    type: postgres
    properties:
      host: pg.internal
      user: reader
      database: dw
`)
	path := writeFile(t, tmpDir, "config.yaml", `
env: "test"
catalogs:
  - name: scratch
    type: memory
catalogs_file: "`+catalogsPath+`"
`)

	cfg, err := LoadFile(path, "v1")
	require.NoError(t, err)
	require.Len(t, cfg.Catalogs, 2)

	assert.Equal(t, "scratch", cfg.Catalogs[0].Name)
	assert.Equal(t, "warehouse", cfg.Catalogs[1].Name)
	assert.Equal(t, "postgres", cfg.Catalogs[1].Type)
	assert.Equal(t, "pg.internal", cfg.Catalogs[1].Properties["host"])
}

func TestValidateCatalogs(t *testing.T) {
	tests := []struct {
		name     string
		catalogs []CatalogConfig
		wantErr  bool
	}{
		{"empty", nil, false},
		{"valid", []CatalogConfig{{Name: "hive", Type: "memory"}}, false},
		{"missing name", []CatalogConfig{{Type: "memory"}}, true},
		{"missing type", []CatalogConfig{{Name: "hive"}}, true},
		{"reserved", []CatalogConfig{{Name: "default_catalog", Type: "memory"}}, true},
		{"duplicate", []CatalogConfig{{Name: "hive", Type: "memory"}, {Name: "HIVE", Type: "memory"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCatalogs(tt.catalogs)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveLoopback(t *testing.T) {
	assert.Equal(t, "host.docker.internal", resolveLoopback("localhost"))
	assert.Equal(t, "host.docker.internal", resolveLoopback("127.0.0.1"))
	assert.Equal(t, "host.docker.internal", resolveLoopback("::1"))
	assert.Equal(t, "pg.example.com", resolveLoopback("pg.example.com"))
}
