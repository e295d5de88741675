// Package config loads controller and agent configuration from a YAML file
// overlaid with KITT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	kruntime "github.com/kitt-bench/controller/internal/runtime"
)

// ServerConfig controls the HTTP/SSE listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"KITT_SERVER_HOST"`
	Port int    `yaml:"port" env:"KITT_SERVER_PORT"`
}

// DatabaseConfig selects and configures the storage driver.
type DatabaseConfig struct {
	// Driver is "sqlite" (embedded file database) or "postgres" (server database).
	Driver         string `yaml:"driver" env:"KITT_DB_DRIVER"`
	DSN            string `yaml:"dsn" env:"KITT_DB_DSN"`
	MaxOpenConns   int    `yaml:"max_open_conns" env:"KITT_DB_MAX_OPEN_CONNS"`
	MaxIdleConns   int    `yaml:"max_idle_conns" env:"KITT_DB_MAX_IDLE_CONNS"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"KITT_DB_MIGRATE_ON_START"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"KITT_LOG_LEVEL"`
	Format string `yaml:"format" env:"KITT_LOG_FORMAT"`
	Output string `yaml:"output" env:"KITT_LOG_OUTPUT"`
}

// AuthConfig controls the controller's bearer/CSRF authentication.
type AuthConfig struct {
	// AdminToken protects write endpoints; RegisterToken protects agent registration.
	AdminToken    string `yaml:"admin_token" env:"KITT_AUTH_TOKEN"`
	RegisterToken string `yaml:"register_token" env:"KITT_REGISTER_TOKEN"`
	CSRFKey       string `yaml:"csrf_key" env:"KITT_CSRF_KEY"`
}

// TLSConfig names certificate material under <home>/certs.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" env:"KITT_TLS_CERT"`
	KeyFile  string `yaml:"key_file" env:"KITT_TLS_KEY"`
	CAFile   string `yaml:"ca_file" env:"KITT_TLS_CA"`
}

// AgentConfig controls the default heartbeat cadence and model cache root.
type AgentConfig struct {
	DefaultHeartbeatIntervalS int    `yaml:"default_heartbeat_interval_s" env:"KITT_AGENT_HEARTBEAT_INTERVAL_S"`
	ModelDir                  string `yaml:"model_dir" env:"KITT_MODEL_DIR"`
}

// RedisConfig configures the optional cross-replica event relay (spec §9
// multi-controller deployment). Addr empty (the default) keeps the event
// bus single-process.
type RedisConfig struct {
	Addr string `yaml:"addr" env:"KITT_REDIS_ADDR"`
}

// Config is the top-level configuration structure, shared by the controller
// and trimmed by the agent daemon.
type Config struct {
	Env      kruntime.Environment `yaml:"-"`
	Home     string               `yaml:"home" env:"KITT_HOME"`
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  LoggingConfig        `yaml:"logging"`
	Auth     AuthConfig           `yaml:"auth"`
	TLS      TLSConfig            `yaml:"tls"`
	Agent    AgentConfig          `yaml:"agent"`
	Redis    RedisConfig          `yaml:"redis"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Env:  kruntime.Env(),
		Home: filepath.Join(home, ".kitt"),
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Agent: AgentConfig{
			DefaultHeartbeatIntervalS: 30,
		},
	}
}

// DSNOrDefault returns the configured DSN, or the embedded file-database
// default path (<home>/kitt.db) when the driver is sqlite and no DSN is set.
func (c *Config) DSNOrDefault() string {
	if strings.TrimSpace(c.Database.DSN) != "" {
		return c.Database.DSN
	}
	if c.Database.Driver == "postgres" {
		return ""
	}
	return filepath.Join(c.Home, "kitt.db")
}

// Load loads configuration from an optional .env file, an optional YAML file
// and environment variables, in that precedence order (env wins).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	if path == "" {
		path = filepath.Join(cfg.Home, "controller.yaml")
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors out when no tagged field is present in the
		// environment; treat that as "no overrides" so bare runs work.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile loads configuration from a YAML file only (no env overlay), used
// by the CLI's `storage` subcommands to pick the database driver and DSN.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Agent.DefaultHeartbeatIntervalS < 10 {
		c.Agent.DefaultHeartbeatIntervalS = 10
	}
	if c.Agent.DefaultHeartbeatIntervalS > 300 {
		c.Agent.DefaultHeartbeatIntervalS = 300
	}
}
