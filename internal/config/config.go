package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full orchestrator configuration, loaded from
// orchestrator.yaml. Monitoring intervals are hot-swappable through the
// Manager; everything else is read at startup.
type Config struct {
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Router     RouterConfig     `mapstructure:"router"`
	Health     HealthConfig     `mapstructure:"health"`
	Tokens     TokensConfig     `mapstructure:"tokens"`
	Errors     ErrorsConfig     `mapstructure:"errors"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type ProviderConfig struct {
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type ClassifierConfig struct {
	CacheCapacity int `mapstructure:"cache_capacity"`
}

type CacheConfig struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RouterConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type HealthConfig struct {
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	LatencyWarning     time.Duration `mapstructure:"latency_warning"`
	ErrorRateAlert     float64       `mapstructure:"error_rate_alert"`
	MaxRecoveryRetries int           `mapstructure:"max_recovery_retries"`
	HistoryRetention   time.Duration `mapstructure:"history_retention"`
}

type TokensConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	BudgetLimitUSD   float64       `mapstructure:"budget_limit_usd"`
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_min"`
	PricingPath      string        `mapstructure:"pricing_path"`
}

type ErrorsConfig struct {
	StormWindow    time.Duration `mapstructure:"storm_window"`
	StormThreshold int           `mapstructure:"storm_threshold"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads orchestrator.yaml from CONFIG_PATH or ./config/orchestrator.yaml
// and applies defaults for anything the file omits.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/orchestrator.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file falls back to defaults; a malformed file does not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "orchestrator")
	v.SetDefault("database.database", "orchestrator")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", "5m")

	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.max_retries", 2)

	v.SetDefault("classifier.cache_capacity", 1000)

	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.sweep_interval", "1m")

	v.SetDefault("router.concurrency", 4)
	v.SetDefault("router.dispatch_timeout", "30s")
	v.SetDefault("router.max_retries", 2)
	v.SetDefault("router.retry_backoff", "500ms")

	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.latency_warning", "2s")
	v.SetDefault("health.error_rate_alert", 0.5)
	v.SetDefault("health.max_recovery_retries", 3)
	v.SetDefault("health.history_retention", "24h")

	v.SetDefault("tokens.snapshot_interval", "1m")
	v.SetDefault("tokens.budget_limit_usd", 10.0)
	v.SetDefault("tokens.rate_limit_per_min", 0)
	v.SetDefault("tokens.pricing_path", "./config/models.yaml")

	v.SetDefault("errors.storm_window", "1m")
	v.SetDefault("errors.storm_threshold", 10)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
}

// Validate rejects configurations that would break the pipeline at runtime.
func (c *Config) Validate() error {
	if c.Router.Concurrency < 1 {
		return fmt.Errorf("router.concurrency must be >= 1")
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be positive")
	}
	if c.Tokens.SnapshotInterval <= 0 {
		return fmt.Errorf("tokens.snapshot_interval must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}
	if c.Errors.StormThreshold < 1 {
		return fmt.Errorf("errors.storm_threshold must be >= 1")
	}
	if c.Errors.StormWindow <= 0 {
		return fmt.Errorf("errors.storm_window must be positive")
	}
	if c.Classifier.CacheCapacity < 1 {
		return fmt.Errorf("classifier.cache_capacity must be >= 1")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}
