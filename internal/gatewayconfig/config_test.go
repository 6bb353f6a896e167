package gatewayconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadConfig_JSON(t *testing.T) {
	data := `{
		"listen_addr": ":9090",
		"storage": {"dialect": "postgres", "dsn": "postgres://localhost/gw"},
		"log": {"level": "debug", "format": "text"}
	}`
	path := writeTempFile(t, "config.json", data)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.Storage.Dialect != DialectPostgres || cfg.Storage.DSN != "postgres://localhost/gw" {
		t.Errorf("Storage = %+v, unexpected", cfg.Storage)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, unexpected", cfg.Log)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	data := `
listen_addr: ":8081"
storage:
  dialect: sqlite
  dsn: gateway.db
catalog_seed_file: catalog.yaml
accounts_seed_file: accounts.yaml
`
	path := writeTempFile(t, "config.yaml", data)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8081" {
		t.Errorf("ListenAddr = %q, want :8081", cfg.ListenAddr)
	}
	if cfg.CatalogSeedFile != "catalog.yaml" || cfg.AccountsSeedFile != "accounts.yaml" {
		t.Errorf("seed files not parsed: %+v", cfg)
	}
}

func TestLoadConfig_DefaultsApplyWhenFieldsOmitted(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `listen_addr: ":7000"`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Dialect != DialectSQLite {
		t.Errorf("expected default dialect sqlite, got %q", cfg.Storage.Dialect)
	}
	if cfg.Auth.Dialect != DialectSQLite {
		t.Errorf("expected default auth dialect sqlite, got %q", cfg.Auth.Dialect)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("expected default log config, got %+v", cfg.Log)
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	if _, err := LoadConfig("/tmp/does-not-exist-config-12345.yaml"); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "bad.yaml", "listen_addr: [unterminated")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", "key = value")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	cfg := Config{
		ListenAddr: ":8080",
		Storage:    StorageConfig{Dialect: DialectSQLite, DSN: "gw.db"},
		Auth:       StorageConfig{Dialect: DialectSQLite, DSN: "gw-tokens.db"},
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfig_EmptyListenAddr(t *testing.T) {
	cfg := Config{Storage: StorageConfig{Dialect: DialectSQLite}, Auth: StorageConfig{Dialect: DialectSQLite}}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for empty listen_addr")
	}
}

func TestValidateConfig_UnknownDialect(t *testing.T) {
	cfg := Config{ListenAddr: ":8080", Storage: StorageConfig{Dialect: "mysql"}, Auth: StorageConfig{Dialect: DialectSQLite}}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for unknown storage dialect")
	}
}

func TestValidateConfig_PostgresRequiresDSN(t *testing.T) {
	cfg := Config{
		ListenAddr: ":8080",
		Storage:    StorageConfig{Dialect: DialectPostgres},
		Auth:       StorageConfig{Dialect: DialectSQLite},
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for postgres dialect with empty dsn")
	}
}

func TestValidateConfig_UnknownAuthDialect(t *testing.T) {
	cfg := Config{
		ListenAddr: ":8080",
		Storage:    StorageConfig{Dialect: DialectSQLite},
		Auth:       StorageConfig{Dialect: "mysql"},
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for unknown auth dialect")
	}
}

func TestValidateConfig_AuthPostgresRequiresDSN(t *testing.T) {
	cfg := Config{
		ListenAddr: ":8080",
		Storage:    StorageConfig{Dialect: DialectSQLite},
		Auth:       StorageConfig{Dialect: DialectPostgres},
	}
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for auth postgres dialect with empty dsn")
	}
}
