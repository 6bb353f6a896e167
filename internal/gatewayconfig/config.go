// Package gatewayconfig holds the gateway's process-level configuration:
// where to listen, which storage backend to open, how to log, and where to
// find the optional YAML seed files for the catalog and accounts. It
// mirrors the teacher's Config/LoadConfig/ValidateConfig split, adapted
// from routing-strategy configuration to dispatch-pipeline configuration.
package gatewayconfig

import "fmt"

// Config is the top-level gateway configuration.
type Config struct {
	// ListenAddr is the address the HTTP transport binds to (":8080").
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// Storage selects and configures the persistence backend.
	Storage StorageConfig `json:"storage" yaml:"storage"`
	// Auth selects and configures the caller-token store. It is a
	// separate backend from Storage so that token issuance (the
	// ractogw-admin CLI) and conversation/usage persistence (the server)
	// can point at different databases if a deployment wants that, while
	// defaulting to sitting next to Storage.
	Auth StorageConfig `json:"auth" yaml:"auth"`
	// Log configures the structured logger.
	Log LogConfig `json:"log" yaml:"log"`
	// CatalogSeedFile, if set, points to a YAML file of models/aliases/
	// fallback chains loaded in place of catalog.Seed()'s built-in data.
	CatalogSeedFile string `json:"catalog_seed_file,omitempty" yaml:"catalog_seed_file,omitempty"`
	// AccountsSeedFile, if set, points to a YAML file of accounts loaded
	// in place of access.Seed()'s built-in demo accounts.
	AccountsSeedFile string `json:"accounts_seed_file,omitempty" yaml:"accounts_seed_file,omitempty"`
}

// StorageDialect names a supported database/sql backend.
type StorageDialect string

const (
	DialectSQLite   StorageDialect = "sqlite"
	DialectPostgres StorageDialect = "postgres"
)

// StorageConfig selects the storage backend and its connection string.
type StorageConfig struct {
	Dialect StorageDialect `json:"dialect" yaml:"dialect"`
	DSN     string         `json:"dsn" yaml:"dsn"`
}

// LogConfig configures internal/logging.Setup.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ValidateConfig rejects a Config that the server cannot start with:
// an empty listen address, or a storage dialect other than sqlite/postgres.
func ValidateConfig(cfg Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch cfg.Storage.Dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("unknown storage dialect: %q", cfg.Storage.Dialect)
	}

	if cfg.Storage.Dialect == DialectPostgres && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres dialect")
	}

	switch cfg.Auth.Dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("unknown auth dialect: %q", cfg.Auth.Dialect)
	}

	if cfg.Auth.Dialect == DialectPostgres && cfg.Auth.DSN == "" {
		return fmt.Errorf("auth.dsn is required for the postgres dialect")
	}

	return nil
}
