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
	Upstream    UpstreamConfig    `yaml:"upstream" mapstructure:"upstream"`
	Aggregation AggregationConfig `yaml:"aggregation" mapstructure:"aggregation"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// UpstreamConfig configures the reporting API client.
type UpstreamConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	Revision         string  `yaml:"revision" mapstructure:"revision"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	MaxJitterMs      int     `yaml:"max_jitter_ms" mapstructure:"max_jitter_ms"`
	PageCap          int     `yaml:"page_cap" mapstructure:"page_cap"`
	ConversionMetric string  `yaml:"conversion_metric" mapstructure:"conversion_metric"`
}

// Timeout returns the per-request HTTP timeout.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSecs) * time.Second
}

// AggregationConfig configures the aggregation orchestrator.
type AggregationConfig struct {
	Mode             string `yaml:"mode" mapstructure:"mode"`
	RowBudget        int    `yaml:"row_budget" mapstructure:"row_budget"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	IncludeSynthetic bool   `yaml:"include_synthetic" mapstructure:"include_synthetic"`
	IncludeDrafts    bool   `yaml:"include_drafts" mapstructure:"include_drafts"`
	Enrichment       bool   `yaml:"enrichment" mapstructure:"enrichment"`
	MaxDurationSecs  int    `yaml:"max_duration_secs" mapstructure:"max_duration_secs"`
}

// MaxDuration returns the run deadline; zero means none.
func (a AggregationConfig) MaxDuration() time.Duration {
	return time.Duration(a.MaxDurationSecs) * time.Second
}

// ScoringConfig points at an optional scoring profile.
type ScoringConfig struct {
	ProfilePath string `yaml:"profile_path" mapstructure:"profile_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("upstream.base_url", "https://a.klaviyo.com/api")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.revision", "2024-10-15")
	v.SetDefault("upstream.timeout_secs", 30)
	v.SetDefault("upstream.rate_limit_rps", 3)
	v.SetDefault("upstream.max_attempts", 10)
	v.SetDefault("upstream.initial_backoff_ms", 1500)
	v.SetDefault("upstream.max_backoff_ms", 30000)
	v.SetDefault("upstream.max_jitter_ms", 1000)
	v.SetDefault("upstream.page_cap", 0)
	v.SetDefault("upstream.conversion_metric", "Placed Order")
	v.SetDefault("aggregation.mode", "auto")
	v.SetDefault("aggregation.row_budget", 50000)
	v.SetDefault("aggregation.concurrency", 3)
	v.SetDefault("aggregation.include_synthetic", true)
	v.SetDefault("aggregation.include_drafts", false)
	v.SetDefault("aggregation.enrichment", true)
	v.SetDefault("aggregation.max_duration_secs", 0)
	v.SetDefault("scoring.profile_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
