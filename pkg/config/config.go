package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// Config holds all configuration for the federation service.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Logging LoggingConfig `yaml:"logging"`

	// Query-scoped provider cache settings
	Federation FederationConfig `yaml:"federation"`

	// Database holding internal column statistics and table annotations.
	// Optional: when Host is empty, in-memory stores are used.
	Database DatabaseConfig `yaml:"database"`

	// Connector pool settings shared by SQL connectors
	Connector ConnectorConfig `yaml:"connector"`

	// Catalogs are the external catalogs to register at startup.
	Catalogs []CatalogConfig `yaml:"catalogs"`

	// CatalogsFile is an optional separate YAML file with more catalogs.
	CatalogsFile string `yaml:"catalogs_file" env:"CATALOGS_FILE" env-default:""`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// Format is "json" or "console". Empty picks console for local, json otherwise.
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:""`
}

// FederationConfig holds query-scoped provider cache settings.
type FederationConfig struct {
	// QueryScopeIdleTimeoutSeconds is how long a query's provider sessions survive without access.
	QueryScopeIdleTimeoutSeconds int `yaml:"query_scope_idle_timeout_seconds" env:"FEDERATION_QUERY_SCOPE_IDLE_TIMEOUT_SECONDS" env-default:"300"`
	// MaxQueryScopes bounds the number of cached query scopes.
	MaxQueryScopes int `yaml:"max_query_scopes" env:"FEDERATION_MAX_QUERY_SCOPES" env-default:"500"`
	// CleanupIntervalSeconds is how often idle query scopes are swept.
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds" env:"FEDERATION_CLEANUP_INTERVAL_SECONDS" env-default:"60"`
}

// IdleTimeout returns the idle window as a duration.
func (c FederationConfig) IdleTimeout() time.Duration {
	return time.Duration(c.QueryScopeIdleTimeoutSeconds) * time.Second
}

// CleanupInterval returns the sweep interval as a duration.
func (c FederationConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// DatabaseConfig holds PostgreSQL settings for the statistics and annotation stores.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"federation"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"federation"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// Enabled reports whether a store database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ConnectorConfig holds pool settings for SQL connectors.
type ConnectorConfig struct {
	PoolMaxConns    int32 `yaml:"pool_max_conns" env:"CONNECTOR_POOL_MAX_CONNS" env-default:"10"`
	PoolMinConns    int32 `yaml:"pool_min_conns" env:"CONNECTOR_POOL_MIN_CONNS" env-default:"1"`
	PoolIdleMinutes int   `yaml:"pool_idle_minutes" env:"CONNECTOR_POOL_IDLE_MINUTES" env-default:"5"`
}

// CatalogConfig registers one external catalog.
type CatalogConfig struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

type catalogsFile struct {
	Catalogs []CatalogConfig `yaml:"catalogs"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if cfg.CatalogsFile != "" {
		extra, err := LoadCatalogsFile(cfg.CatalogsFile)
		if err != nil {
			return nil, err
		}
		cfg.Catalogs = append(cfg.Catalogs, extra...)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadCatalogsFile parses a YAML file with a top-level "catalogs" list.
func LoadCatalogsFile(path string) ([]CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogs file: %w", err)
	}

	var f catalogsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalogs file %s: %w", path, err)
	}
	return f.Catalogs, nil
}

func (c *Config) validate() error {
	if c.Federation.QueryScopeIdleTimeoutSeconds <= 0 {
		return fmt.Errorf("query_scope_idle_timeout_seconds must be positive")
	}
	if c.Federation.MaxQueryScopes <= 0 {
		return fmt.Errorf("max_query_scopes must be positive")
	}
	if c.Federation.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("cleanup_interval_seconds must be positive")
	}
	return validateCatalogs(c.Catalogs)
}

// validateCatalogs rejects unnamed, untyped, duplicate and reserved catalog names.
func validateCatalogs(catalogs []CatalogConfig) error {
	seen := make(map[string]bool, len(catalogs))
	for _, cat := range catalogs {
		if cat.Name == "" {
			return fmt.Errorf("catalog name is required")
		}
		if cat.Type == "" {
			return fmt.Errorf("catalog %s: type is required", cat.Name)
		}
		if models.IsInternalCatalog(cat.Name) {
			return fmt.Errorf("catalog name %s is reserved", cat.Name)
		}
		key := strings.ToLower(cat.Name)
		if seen[key] {
			return fmt.Errorf("duplicate catalog %s", cat.Name)
		}
		seen[key] = true
	}
	return nil
}
