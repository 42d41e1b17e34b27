// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml,
// then applies defaults, environment overrides and validation.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// sourceDefaults are the built-in settings per upstream. Price-reference
// tables change monthly, so their cache TTL is days instead of hours.
var sourceDefaults = map[string]SourceConfig{
	"pncp": {
		Enabled:     true,
		BaseURL:     "https://pncp.gov.br/api/consulta",
		MaxPageSize: 50,
		CacheTTL:    int((6 * time.Hour).Seconds()),
	},
	"comprasgov": {
		Enabled:     true,
		BaseURL:     "https://dadosabertos.compras.gov.br",
		MaxPageSize: 500,
		CacheTTL:    int((6 * time.Hour).Seconds()),
	},
	"sinapi": {
		MaxPageSize: 100,
		CacheTTL:    int((7 * 24 * time.Hour).Seconds()),
	},
	"sicro": {
		MaxPageSize: 100,
		CacheTTL:    int((7 * 24 * time.Hour).Seconds()),
	},
	"web_search": {
		BaseURL:     "https://www.googleapis.com/customsearch/v1",
		MaxPageSize: 10,
		CacheTTL:    int(time.Hour.Seconds()),
	},
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "compras-aggregator"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15000
	}
	if cfg.Server.ClientRPS == 0 {
		cfg.Server.ClientRPS = 5
	}
	if cfg.Server.ClientBurst == 0 {
		cfg.Server.ClientBurst = 10
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}

	if cfg.Cache.MemoryMaxEntries == 0 {
		cfg.Cache.MemoryMaxEntries = 1000
	}
	if cfg.Cache.OperationTimeout == 0 {
		cfg.Cache.OperationTimeout = 500
	}
	if cfg.Cache.HealthCheckInterval == 0 {
		cfg.Cache.HealthCheckInterval = 30000
	}

	if cfg.Sources == nil {
		cfg.Sources = make(map[string]SourceConfig)
	}
	for name, def := range sourceDefaults {
		sc, exists := cfg.Sources[name]
		if !exists {
			sc = def
		}
		if sc.BaseURL == "" {
			sc.BaseURL = def.BaseURL
		}
		if sc.MaxPageSize == 0 {
			sc.MaxPageSize = def.MaxPageSize
		}
		if sc.CacheTTL == 0 {
			sc.CacheTTL = def.CacheTTL
		}
		cfg.Sources[name] = withResilienceDefaults(sc)
	}

	if cfg.Search.FallbackThreshold == 0 {
		cfg.Search.FallbackThreshold = 5
	}
	if cfg.Search.DefaultMaxPerSource == 0 {
		cfg.Search.DefaultMaxPerSource = 50
	}
	if cfg.Search.DefaultTimeout == 0 {
		cfg.Search.DefaultTimeout = 10000
	}

	if cfg.Pricing.OutlierThreshold == 0 {
		cfg.Pricing.OutlierThreshold = 2.5
	}
	if cfg.Pricing.SimilarityBand == 0 {
		cfg.Pricing.SimilarityBand = 0.3
	}

	if cfg.Alerts.Channel == "" {
		cfg.Alerts.Channel = "log"
	}
	if cfg.Alerts.Region == "" {
		cfg.Alerts.Region = "sa-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func withResilienceDefaults(sc SourceConfig) SourceConfig {
	if sc.Timeout == 0 {
		sc.Timeout = 15000
	}
	if sc.SearchTimeout == 0 {
		sc.SearchTimeout = 20000
	}
	if sc.MaxPages == 0 {
		sc.MaxPages = 3
	}
	if sc.RateLimit.MaxRequests == 0 {
		sc.RateLimit.MaxRequests = 60
	}
	if sc.RateLimit.Window == 0 {
		sc.RateLimit.Window = 60000
	}
	if sc.RateLimit.Policy == "" {
		sc.RateLimit.Policy = "wait"
	}
	if sc.Breaker.ErrorThreshold == 0 {
		sc.Breaker.ErrorThreshold = 50
	}
	if sc.Breaker.VolumeThreshold == 0 {
		sc.Breaker.VolumeThreshold = 5
	}
	if sc.Breaker.ResetTimeout == 0 {
		sc.Breaker.ResetTimeout = 30000
	}
	if sc.Breaker.RollingWindow == 0 {
		sc.Breaker.RollingWindow = 60000
	}
	if sc.Retry.MaxRetries == 0 {
		sc.Retry.MaxRetries = 3
	}
	if sc.Retry.BaseDelay == 0 {
		sc.Retry.BaseDelay = 500
	}
	if sc.Retry.MaxDelay == 0 {
		sc.Retry.MaxDelay = 8000
	}
	return sc
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// applyEnvOverrides applies the flat environment-style configuration surface.
// Per-source keys use the upper-cased source name, e.g. CACHE_TTL_SINAPI.
func applyEnvOverrides(cfg *Config) {
	for name, sc := range cfg.Sources {
		upper := strings.ToUpper(name)

		if ttl, ok := envInt("CACHE_TTL_" + upper); ok {
			sc.CacheTTL = ttl
		}
		if raw := os.Getenv("CACHE_ENABLED_" + upper); raw != "" {
			if enabled, err := strconv.ParseBool(raw); err == nil {
				sc.CacheEnabled = &enabled
			}
		}
		if val := os.Getenv(upper + "_BASE_URL"); val != "" {
			sc.BaseURL = val
		}
		if val := os.Getenv(upper + "_API_KEY"); val != "" {
			sc.APIKey = val
		}
		if val := os.Getenv(upper + "_ENABLED"); val != "" {
			if enabled, err := strconv.ParseBool(val); err == nil {
				sc.Enabled = enabled
			}
		}
		if ms, ok := envInt(upper + "_TIMEOUT_MS"); ok {
			sc.Timeout = ms
		}

		if n, ok := envInt("RATE_LIMIT_MAX_REQUESTS"); ok {
			sc.RateLimit.MaxRequests = n
		}
		if ms, ok := envInt("RATE_LIMIT_WINDOW_MS"); ok {
			sc.RateLimit.Window = ms
		}
		if pct, ok := envFloat("BREAKER_ERROR_THRESHOLD"); ok {
			sc.Breaker.ErrorThreshold = pct
		}
		if ms, ok := envInt("BREAKER_RESET_TIMEOUT_MS"); ok {
			sc.Breaker.ResetTimeout = ms
		}
		if n, ok := envInt("RETRY_MAX"); ok {
			sc.Retry.MaxRetries = n
		}
		if ms, ok := envInt("RETRY_MAX_DELAY_MS"); ok {
			sc.Retry.MaxDelay = ms
		}
		cfg.Sources[name] = sc
	}

	if ws, ok := cfg.Sources["web_search"]; ok && ws.EngineID == "" {
		if val := os.Getenv("WEB_SEARCH_ENGINE_ID"); val != "" {
			ws.EngineID = val
			cfg.Sources["web_search"] = ws
		}
	}

	if n, ok := envInt("SEARCH_FALLBACK_THRESHOLD"); ok {
		cfg.Search.FallbackThreshold = n
	}
	if val := os.Getenv("REDIS_ADDRESS"); val != "" {
		cfg.Database.Redis.Address = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Database.Redis.Password = val
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Postgres.Enabled {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required when the search log is enabled")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required when the search log is enabled")
		}
	}

	for name, sc := range cfg.Sources {
		if sc.RateLimit.Policy != "wait" && sc.RateLimit.Policy != "reject" {
			return fmt.Errorf("sources.%s.rate_limit.policy must be wait or reject", name)
		}
		if !sc.Enabled {
			continue
		}
		if sc.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", name)
		}
		if sc.Breaker.ErrorThreshold <= 0 || sc.Breaker.ErrorThreshold > 100 {
			return fmt.Errorf("sources.%s.breaker.error_threshold must be in (0,100]", name)
		}
	}

	if ws := cfg.Sources["web_search"]; ws.Enabled && (ws.APIKey == "" || ws.EngineID == "") {
		return fmt.Errorf("sources.web_search requires api_key and engine_id")
	}

	switch cfg.Alerts.Channel {
	case "log":
	case "sns":
		if cfg.Alerts.SNS.TopicARN == "" {
			return fmt.Errorf("alerts.sns.topic_arn is required for the sns channel")
		}
	case "ses":
		if cfg.Alerts.SES.FromEmail == "" || len(cfg.Alerts.SES.To) == 0 {
			return fmt.Errorf("alerts.ses.from_email and alerts.ses.to are required for the ses channel")
		}
	default:
		return fmt.Errorf("alerts.channel must be log, sns or ses")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// EnabledSources returns the names of enabled sources.
func EnabledSources(cfg *Config) []string {
	var out []string
	for name, sc := range cfg.Sources {
		if sc.Enabled {
			out = append(out, name)
		}
	}
	return out
}
