package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddress = ":8000"
	DefaultDriver        = "sqlite3"
	DefaultSQLitePath    = "database.db"
	DefaultProvider      = "openai"
	DefaultBaseURL       = "https://ellm.nrp-nautilus.io/v1"
	DefaultModel         = "gemma3"

	defaultConfigFile = "config.json"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Provider    ProviderConfig            `json:"provider" yaml:"provider"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	Database      string `json:"database" yaml:"database"`
	SeedOnStart   bool   `json:"seed_on_start" yaml:"seed_on_start"`
}

// DatabaseConfig holds connection settings for one driver. SQLite only uses DSN.
type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type ProviderConfig struct {
	Name    string `json:"name" yaml:"name"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// RedisConfig is optional; event publishing is disabled while Host is empty.
type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	return Config{
		BasicConfig: BasicConfig{
			ServerAddress: DefaultServerAddress,
			Database:      DefaultDriver,
			SeedOnStart:   true,
		},
		Databases: map[string]DatabaseConfig{
			DefaultDriver: {DSN: DefaultSQLitePath},
		},
		Provider: ProviderConfig{
			Name:    DefaultProvider,
			BaseURL: DefaultBaseURL,
			Model:   DefaultModel,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies .env and environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	loaded, err := readFile(absPath, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			loaded = false
		} else {
			return nil, err
		}
	}

	if loaded {
		cfg.normalizeDrivers()
		cfg.resolveSQLitePath(filepath.Dir(absPath))
	}
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(absPath string, cfg *Config) (bool, error) {
	file, err := os.Open(absPath)
	if err != nil {
		return false, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return false, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return false, fmt.Errorf("decode config: %w", err)
		}
	}
	return true, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATHISTORY_ADDR"); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("CHATHISTORY_DB"); v != "" {
		cfg.BasicConfig.Database = normalizeDriver(v)
	}
	if v := os.Getenv("CHATHISTORY_DB_DSN"); v != "" {
		if cfg.Databases == nil {
			cfg.Databases = make(map[string]DatabaseConfig)
		}
		dbCfg := cfg.Databases[cfg.BasicConfig.Database]
		dbCfg.DSN = v
		cfg.Databases[cfg.BasicConfig.Database] = dbCfg
	}
	if v := os.Getenv("CHATHISTORY_SEED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BasicConfig.SeedOnStart = b
		}
	}

	if v := os.Getenv("CHATHISTORY_LLM_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("CHATHISTORY_LLM_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("CHATHISTORY_LLM_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("NRP_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}

	if v := os.Getenv("CHATHISTORY_REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			cfg.Redis.Host = v
		} else {
			cfg.Redis.Host = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Redis.Port = p
			}
		}
	}

	if v := os.Getenv("CHATHISTORY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATHISTORY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) validate() error {
	driver := normalizeDriver(c.BasicConfig.Database)
	if driver == "" {
		return errors.New("basic_config.database must be configured")
	}
	c.BasicConfig.Database = driver
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	if c.Provider.Name == "" {
		c.Provider.Name = DefaultProvider
	}
	return nil
}

// normalizeDrivers rewrites driver names read from a file to their canonical
// form. Alias keys only come from the file, so they replace the defaults.
func (c *Config) normalizeDrivers() {
	c.BasicConfig.Database = normalizeDriver(c.BasicConfig.Database)
	for name, dbCfg := range c.Databases {
		key := normalizeDriver(name)
		if key == name {
			continue
		}
		c.Databases[key] = dbCfg
		delete(c.Databases, name)
	}
}

// resolveSQLitePath makes a relative sqlite file path relative to the config file directory.
func (c *Config) resolveSQLitePath(baseDir string) {
	for name, dbCfg := range c.Databases {
		if !isSQLite(name) {
			continue
		}
		if dbCfg.DSN == "" || dbCfg.DSN == ":memory:" || strings.HasPrefix(dbCfg.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(baseDir, dbCfg.DSN)
			c.Databases[name] = dbCfg
		}
	}
}

// Database returns the settings of the selected driver.
func (c *Config) Database() DatabaseConfig {
	return c.Databases[c.BasicConfig.Database]
}

// normalizeDriver lower-cases the driver name and maps the "sqlite" alias to "sqlite3".
func normalizeDriver(driver string) string {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if isSQLite(driver) {
		return DefaultDriver
	}
	return driver
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
