package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Yelp     YelpConfig     `yaml:"yelp" mapstructure:"yelp"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Prefs    PrefsConfig    `yaml:"prefs" mapstructure:"prefs"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// YelpConfig holds Yelp Fusion API settings.
type YelpConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend    string `yaml:"backend" mapstructure:"backend"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`

	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// PrefsConfig locates the read-only preference store.
type PrefsConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// PipelineConfig tunes the search pipeline.
type PipelineConfig struct {
	MaxResultsPerProvider int `yaml:"max_results_per_provider" mapstructure:"max_results_per_provider"`
	RequestTimeoutSecs    int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`

	// MinResults is the coverage floor below which the response suggests a
	// wider radius.
	MinResults int `yaml:"min_results" mapstructure:"min_results"`
}

// RequestTimeout returns the per-request latency budget.
func (c PipelineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("google.enabled", true)
	v.SetDefault("yelp.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("prefs.dsn", "prefs.db")
	v.SetDefault("pipeline.max_results_per_provider", 60)
	v.SetDefault("pipeline.request_timeout_secs", 25)
	v.SetDefault("pipeline.min_results", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
