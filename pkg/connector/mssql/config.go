package mssql

import (
	"fmt"
	"net/url"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod determines which authentication to use
	// Options: "sql", "service_principal"
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	// Connection options
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from catalog properties and auto-detects the auth method.
func FromMap(props map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := props["host"].(string); ok {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := props["port"].(float64); ok { // JSON numbers are float64
		cfg.Port = int(port)
	} else if port, ok := props["port"].(int); ok {
		cfg.Port = port
	}

	if database, ok := props["database"].(string); ok {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if encrypt, ok := props["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	} else if encryptStr, ok := props["encrypt"].(string); ok {
		cfg.Encrypt = encryptStr == "true" || encryptStr == "strict"
	}

	if trust, ok := props["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	if timeout, ok := props["connection_timeout"].(float64); ok {
		cfg.ConnectionTimeout = int(timeout)
	} else if timeout, ok := props["connection_timeout"].(int); ok {
		cfg.ConnectionTimeout = timeout
	}

	if authMethod, ok := props["auth_method"].(string); ok && authMethod != "" {
		cfg.AuthMethod = authMethod
	} else if _, hasClientID := props["client_id"].(string); hasClientID {
		cfg.AuthMethod = "service_principal"
	} else if user, ok := props["user"].(string); ok && user != "" {
		cfg.AuthMethod = "sql"
	} else if username, ok := props["username"].(string); ok && username != "" {
		cfg.AuthMethod = "sql"
	} else {
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	switch cfg.AuthMethod {
	case "sql":
		if user, ok := props["user"].(string); ok {
			cfg.Username = user
		} else if username, ok := props["username"].(string); ok {
			cfg.Username = username
		} else {
			return nil, fmt.Errorf("username is required for SQL authentication")
		}
		if password, ok := props["password"].(string); ok {
			cfg.Password = password
		}

	case "service_principal":
		var ok bool
		if cfg.TenantID, ok = props["tenant_id"].(string); !ok {
			return nil, fmt.Errorf("tenant_id is required for service principal authentication")
		}
		if cfg.ClientID, ok = props["client_id"].(string); !ok {
			return nil, fmt.Errorf("client_id is required for service principal authentication")
		}
		if cfg.ClientSecret, ok = props["client_secret"].(string); !ok {
			return nil, fmt.Errorf("client_secret is required for service principal authentication")
		}

	default:
		return nil, fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", cfg.AuthMethod)
	}

	return cfg, nil
}

// driverAndDSN returns the database/sql driver name and connection URL for the auth method.
func (c *Config) driverAndDSN() (string, string) {
	query := url.Values{}
	query.Add("database", c.Database)
	if c.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", c.ConnectionTimeout))
	}

	if c.AuthMethod == "service_principal" {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID+"@"+c.TenantID)
		query.Add("password", c.ClientSecret)
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", c.Host, c.Port, query.Encode())
	}

	return "sqlserver", fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(c.Username),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		query.Encode(),
	)
}
