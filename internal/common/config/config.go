// internal/common/config/config.go
package config

import (
	"fmt"
	"strings"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig               `mapstructure:"app"`
	Server   ServerConfig            `mapstructure:"server"`
	Database DatabaseConfig          `mapstructure:"database"`
	Cache    CacheConfig             `mapstructure:"cache"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
	Search   SearchConfig            `mapstructure:"search"`
	Pricing  PricingConfig           `mapstructure:"pricing"`
	Alerts   AlertConfig             `mapstructure:"alerts"`
	Logging  LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int     `mapstructure:"port"`
	ReadTimeout     int     `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int     `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"` // milliseconds
	ClientRPS       float64 `mapstructure:"client_rps"`
	ClientBurst     int     `mapstructure:"client_burst"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig backs the optional search log.
type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds the process-wide response cache settings.
type CacheConfig struct {
	MemoryMaxEntries    int `mapstructure:"memory_max_entries"`
	OperationTimeout    int `mapstructure:"operation_timeout"`     // milliseconds
	HealthCheckInterval int `mapstructure:"health_check_interval"` // milliseconds
}

// SourceConfig is the per-upstream configuration, keyed by lowercase SourceID.
type SourceConfig struct {
	Enabled       bool            `mapstructure:"enabled"`
	BaseURL       string          `mapstructure:"base_url"`
	APIKey        string          `mapstructure:"api_key"`
	EngineID      string          `mapstructure:"engine_id"`
	Timeout       int             `mapstructure:"timeout"`        // milliseconds, per attempt
	SearchTimeout int             `mapstructure:"search_timeout"` // milliseconds, whole adapter call
	MaxPageSize   int             `mapstructure:"max_page_size"`
	MaxPages      int             `mapstructure:"max_pages"`
	CacheTTL      int             `mapstructure:"cache_ttl"` // seconds
	CacheEnabled  *bool           `mapstructure:"cache_enabled"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
	Breaker       BreakerConfig   `mapstructure:"breaker"`
	Retry         RetryConfig     `mapstructure:"retry"`
}

// IsCacheEnabled defaults to true when unset.
func (s SourceConfig) IsCacheEnabled() bool {
	return s.CacheEnabled == nil || *s.CacheEnabled
}

type RateLimitConfig struct {
	MaxRequests int    `mapstructure:"max_requests"`
	Window      int    `mapstructure:"window"` // milliseconds
	Policy      string `mapstructure:"policy"` // wait | reject
}

type BreakerConfig struct {
	ErrorThreshold  float64 `mapstructure:"error_threshold"` // percent
	VolumeThreshold int     `mapstructure:"volume_threshold"`
	ResetTimeout    int     `mapstructure:"reset_timeout"`  // milliseconds
	RollingWindow   int     `mapstructure:"rolling_window"` // milliseconds
}

type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	BaseDelay  int `mapstructure:"base_delay"` // milliseconds
	MaxDelay   int `mapstructure:"max_delay"`  // milliseconds
}

// SearchConfig drives the orchestrator.
type SearchConfig struct {
	FallbackThreshold   int  `mapstructure:"fallback_threshold"`
	FallbackEnabled     bool `mapstructure:"fallback_enabled"`
	DefaultMaxPerSource int  `mapstructure:"default_max_per_source"`
	DefaultTimeout      int  `mapstructure:"default_timeout"` // milliseconds
}

// PricingConfig drives the price aggregator.
type PricingConfig struct {
	OutlierThreshold float64            `mapstructure:"outlier_threshold"`
	SimilarityBand   float64            `mapstructure:"similarity_band"`
	ExcludeOutliers  *bool              `mapstructure:"exclude_outliers"`
	SourceWeights    map[string]float64 `mapstructure:"source_weights"`
}

// AlertConfig selects where degraded-mode alerts go.
type AlertConfig struct {
	Channel string `mapstructure:"channel"` // log | sns | ses
	Region  string `mapstructure:"region"`
	SNS     struct {
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		FromEmail string   `mapstructure:"from_email"`
		To        []string `mapstructure:"to"`
	} `mapstructure:"ses"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Source returns the config for a source name, any casing.
func (c *Config) Source(name string) (SourceConfig, bool) {
	sc, ok := c.Sources[strings.ToLower(name)]
	return sc, ok
}
