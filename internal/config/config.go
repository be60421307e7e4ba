// Package config loads application configuration from file, environment,
// and defaults, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// startup and threaded explicitly into constructors; nothing reads viper
// after Load returns, so tests can build a Config literal with any
// parameters they need.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Detect      DetectConfig      `yaml:"detect" mapstructure:"detect"`
	External    ExternalConfig    `yaml:"external" mapstructure:"external"`
	Royalty     RoyaltyConfig     `yaml:"royalty" mapstructure:"royalty"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Simulate    SimulateConfig    `yaml:"simulate" mapstructure:"simulate"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	// IndexCachePath is the local SQLite fingerprint index cache. Empty
	// disables the cache and the matcher loads the index from Postgres.
	IndexCachePath string `yaml:"index_cache_path" mapstructure:"index_cache_path"`
}

// FingerprintConfig holds the tunable parameters of the fingerprint
// generator. All fields are value-copied into the generator at
// construction so a running pipeline never observes a config change.
type FingerprintConfig struct {
	WindowSize    int     `yaml:"window_size" mapstructure:"window_size"`
	OverlapRatio  float64 `yaml:"overlap_ratio" mapstructure:"overlap_ratio"`
	NeighborhoodSize int  `yaml:"neighborhood_size" mapstructure:"neighborhood_size"`
	// ThresholdMode selects peak thresholding: "fixed" applies FloorDB as
	// an absolute dB floor, "adaptive" uses the Percentile of the
	// spectrogram's value distribution. Adaptive is the default because
	// radio encoding compresses dynamic range across recordings.
	ThresholdMode string  `yaml:"threshold_mode" mapstructure:"threshold_mode"`
	FloorDB       float64 `yaml:"floor_db" mapstructure:"floor_db"`
	Percentile    float64 `yaml:"percentile" mapstructure:"percentile"`
	FanValue      int     `yaml:"fan_value" mapstructure:"fan_value"`
	MinDelta      int     `yaml:"min_delta" mapstructure:"min_delta"`
	MaxDelta      int     `yaml:"max_delta" mapstructure:"max_delta"`
}

// MatchConfig configures the local fingerprint matcher.
type MatchConfig struct {
	// MinVotes is the minimum aligned-offset vote count below which a
	// candidate is rejected as no-match rather than returned with low
	// confidence.
	MinVotes int `yaml:"min_votes" mapstructure:"min_votes"`
}

// DetectConfig configures the hybrid detection orchestrator.
type DetectConfig struct {
	// LocalConfidenceThreshold (0-100) is the minimum local matcher
	// confidence accepted without external fallback.
	LocalConfidenceThreshold float64 `yaml:"local_confidence_threshold" mapstructure:"local_confidence_threshold"`
	MaxRetries               int     `yaml:"max_retries" mapstructure:"max_retries"`
	Workers                  int     `yaml:"workers" mapstructure:"workers"`
}

// ExternalConfig configures the external identification service client.
type ExternalConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// RoyaltyConfig configures aggregation validation and royalty arithmetic.
type RoyaltyConfig struct {
	// RatePerSecond is a decimal string (e.g. "0.005") to keep money out
	// of float parsing.
	RatePerSecond    string `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MinMatches       int    `yaml:"min_matches" mapstructure:"min_matches"`
	MinPlaySeconds   int    `yaml:"min_play_seconds" mapstructure:"min_play_seconds"`
	// Rounding selects the quantization rule applied to computed
	// royalties: "bank" or "half-up".
	Rounding string `yaml:"rounding" mapstructure:"rounding"`
}

// NotifyConfig configures settlement notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// SimulateConfig configures the seed/simulation generator.
type SimulateConfig struct {
	Seed     int64  `yaml:"seed" mapstructure:"seed"`
	Stations int    `yaml:"stations" mapstructure:"stations"`
	Tracks   int    `yaml:"tracks" mapstructure:"tracks"`
	Profile  string `yaml:"profile" mapstructure:"profile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AIRCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("fingerprint.window_size", 2048)
	v.SetDefault("fingerprint.overlap_ratio", 0.5)
	v.SetDefault("fingerprint.neighborhood_size", 10)
	v.SetDefault("fingerprint.threshold_mode", "adaptive")
	v.SetDefault("fingerprint.floor_db", -40.0)
	v.SetDefault("fingerprint.percentile", 90.0)
	v.SetDefault("fingerprint.fan_value", 15)
	v.SetDefault("fingerprint.min_delta", 0)
	v.SetDefault("fingerprint.max_delta", 500)
	v.SetDefault("match.min_votes", 5)
	v.SetDefault("detect.local_confidence_threshold", 70.0)
	v.SetDefault("detect.max_retries", 3)
	v.SetDefault("detect.workers", 8)
	v.SetDefault("external.timeout_secs", 15)
	v.SetDefault("external.max_attempts", 3)
	v.SetDefault("external.requests_per_sec", 2.0)
	v.SetDefault("royalty.rate_per_second", "0.005")
	v.SetDefault("royalty.min_matches", 3)
	v.SetDefault("royalty.min_play_seconds", 30)
	v.SetDefault("royalty.rounding", "bank")
	v.SetDefault("simulate.seed", 1)
	v.SetDefault("simulate.stations", 3)
	v.SetDefault("simulate.tracks", 20)

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
