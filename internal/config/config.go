// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Backend string        `yaml:"backend"` // memory | redis
	Calls   int           `yaml:"calls"`
	Period  time.Duration `yaml:"period"`
}

type SecurityConfig struct {
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type CodesConfig struct {
	DefaultLength    int    `yaml:"default_length"`
	Alphabet         string `yaml:"alphabet"`
	MaxRetries       int    `yaml:"max_retries"`
	MaxBulk          int    `yaml:"max_bulk"`
	DefaultListLimit int    `yaml:"default_list_limit"`
	MaxListLimit     int    `yaml:"max_list_limit"`
}

type SchedulerConfig struct {
	PoolStatsInterval time.Duration `yaml:"pool_stats_interval"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Security  SecurityConfig  `yaml:"security"`
	Codes     CodesConfig     `yaml:"codes"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// envOverrides are read after the YAML file; set variables win.
type envOverrides struct {
	APIKey      string `envconfig:"API_KEY"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`
	HTTPPort    int    `envconfig:"HTTP_PORT"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides, fills defaults and validates the result. A missing file is
// tolerated so the service can run from environment alone.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	env.apply(&cfg)

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (e envOverrides) apply(cfg *Config) {
	if e.APIKey != "" {
		cfg.Security.APIKey = e.APIKey
	}
	if e.DatabaseURL != "" {
		cfg.Database.URL = e.DatabaseURL
	}
	if e.RedisURL != "" {
		cfg.Redis.URL = e.RedisURL
	}
	if e.HTTPPort > 0 {
		cfg.Server.Port = e.HTTPPort
	}
	if e.LogLevel != "" {
		cfg.Log.Level = e.LogLevel
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	cfg.Server.ReadTimeout = orDuration(cfg.Server.ReadTimeout, 10*time.Second)
	cfg.Server.WriteTimeout = orDuration(cfg.Server.WriteTimeout, 15*time.Second)
	cfg.Server.IdleTimeout = orDuration(cfg.Server.IdleTimeout, 60*time.Second)
	cfg.Server.RequestTimeout = orDuration(cfg.Server.RequestTimeout, 10*time.Second)
	cfg.Server.ShutdownTimeout = orDuration(cfg.Server.ShutdownTimeout, 15*time.Second)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Database.ConnectTimeout = orDuration(cfg.Database.ConnectTimeout, 5*time.Second)
	cfg.Database.QueryTimeout = orDuration(cfg.Database.QueryTimeout, 3*time.Second)

	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Calls <= 0 {
		cfg.RateLimit.Calls = 10
	}
	cfg.RateLimit.Period = orDuration(cfg.RateLimit.Period, time.Minute)

	if len(cfg.Security.AllowedOrigins) == 0 {
		cfg.Security.AllowedOrigins = []string{"*"}
	}

	if cfg.Codes.DefaultLength <= 0 {
		cfg.Codes.DefaultLength = 16
	}
	if cfg.Codes.Alphabet == "" {
		cfg.Codes.Alphabet = DefaultAlphabet
	}
	if cfg.Codes.MaxRetries <= 0 {
		cfg.Codes.MaxRetries = 10
	}
	if cfg.Codes.MaxBulk <= 0 {
		cfg.Codes.MaxBulk = 1000
	}
	if cfg.Codes.DefaultListLimit <= 0 {
		cfg.Codes.DefaultListLimit = 100
	}
	if cfg.Codes.MaxListLimit <= 0 {
		cfg.Codes.MaxListLimit = 1000
	}

	cfg.Scheduler.PoolStatsInterval = orDuration(cfg.Scheduler.PoolStatsInterval, 30*time.Second)
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Security.APIKey == "" {
		return errors.New("security.api_key is required")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when rate_limit.backend is redis")
		}
	default:
		return fmt.Errorf("rate_limit.backend %q is not supported", c.RateLimit.Backend)
	}
	if strings.Contains(c.Codes.Alphabet, "-") {
		return errors.New("codes.alphabet must not contain '-'")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
