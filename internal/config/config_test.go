package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != DefaultServerAddress {
		t.Fatalf("server address: got %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.Database != DefaultDriver {
		t.Fatalf("driver: got %q", cfg.BasicConfig.Database)
	}
	if got := cfg.Database().DSN; got != DefaultSQLitePath {
		t.Fatalf("dsn: got %q", got)
	}
	if !cfg.BasicConfig.SeedOnStart {
		t.Fatalf("seeding should be enabled by default")
	}
	if cfg.Provider.BaseURL != DefaultBaseURL || cfg.Provider.Model != DefaultModel {
		t.Fatalf("provider defaults: %+v", cfg.Provider)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled by default")
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadJSONResolvesRelativeSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "database": "sqlite3", "seed_on_start": false},
		"databases": {"sqlite3": {"dsn": "data/chat.db"}},
		"provider": {"name": "openai", "model": "llama3"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address: got %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.SeedOnStart {
		t.Fatalf("seed_on_start=false not honoured")
	}
	if want := filepath.Join(dir, "data", "chat.db"); cfg.Database().DSN != want {
		t.Fatalf("dsn: want %q got %q", want, cfg.Database().DSN)
	}
	if cfg.Provider.Model != "llama3" {
		t.Fatalf("model: got %q", cfg.Provider.Model)
	}
	if cfg.Provider.BaseURL != DefaultBaseURL {
		t.Fatalf("base url default lost: %q", cfg.Provider.BaseURL)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
basic_config:
  server_address: ":7000"
  database: mysql
databases:
  mysql:
    host: db.internal
    port: 3306
    username: chat
    db_name: chathistory
    params: parseTime=true
redis:
  host: cache.internal
  port: 6380
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Database != "mysql" {
		t.Fatalf("driver: got %q", cfg.BasicConfig.Database)
	}
	db := cfg.Database()
	if db.Host != "db.internal" || db.Port != 3306 || db.DBName != "chathistory" {
		t.Fatalf("mysql config: %+v", db)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Port != 6380 {
		t.Fatalf("redis config: %+v", cfg.Redis)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATHISTORY_ADDR", ":8123")
	t.Setenv("CHATHISTORY_DB_DSN", "/tmp/override.db")
	t.Setenv("CHATHISTORY_SEED", "false")
	t.Setenv("CHATHISTORY_LLM_MODEL", "qwen")
	t.Setenv("NRP_API_KEY", "secret")
	t.Setenv("CHATHISTORY_REDIS_ADDR", "127.0.0.1:6390")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":8123" {
		t.Fatalf("addr: got %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.Database().DSN != "/tmp/override.db" {
		t.Fatalf("dsn: got %q", cfg.Database().DSN)
	}
	if cfg.BasicConfig.SeedOnStart {
		t.Fatalf("seed override ignored")
	}
	if cfg.Provider.Model != "qwen" || cfg.Provider.APIKey != "secret" {
		t.Fatalf("provider overrides: %+v", cfg.Provider)
	}
	if cfg.Redis.Host != "127.0.0.1" || cfg.Redis.Port != 6390 {
		t.Fatalf("redis override: %+v", cfg.Redis)
	}
}

func TestLoadUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATHISTORY_DB", "postgres")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for driver without config")
	}
}

func TestLoadNormalisesSQLiteAlias(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATHISTORY_DB", "sqlite")
	t.Setenv("CHATHISTORY_DB_DSN", "/tmp/alias.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Database != "sqlite3" {
		t.Fatalf("driver: got %q", cfg.BasicConfig.Database)
	}
	if cfg.Database().DSN != "/tmp/alias.db" {
		t.Fatalf("dsn: got %q", cfg.Database().DSN)
	}
}

func TestLoadNormalisesDriverKeysFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"database": "SQLite"},
		"databases": {"sqlite": {"dsn": "chat.db"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Database != "sqlite3" {
		t.Fatalf("driver: got %q", cfg.BasicConfig.Database)
	}
	if want := filepath.Join(dir, "chat.db"); cfg.Database().DSN != want {
		t.Fatalf("dsn: want %q got %q", want, cfg.Database().DSN)
	}
}
