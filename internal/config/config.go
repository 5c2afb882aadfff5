// Package config loads udpbankd's runtime configuration: a viper-backed
// loader (SetConfigName/AddConfigPath/AutomaticEnv/Unmarshal) plus an
// optional godotenv .env file, merged into a single priority order:
// explicit positional CLI args > environment variables > .env file >
// optional YAML file > built-in defaults.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"udpbank/pkg/utils"
)

// Config is the set of tunables loaded by the server process; the client
// and monitor commands do not load it.
type Config struct {
	// ListenPort is the UDP port the server binds (spec.md §6.3: default 8888).
	ListenPort int `mapstructure:"listen_port"`
	// RequestLossPercent / ReplyLossPercent are spec.md §6.1's loss simulator
	// percentages in [0, 100].
	RequestLossPercent float64 `mapstructure:"request_loss_percent"`
	ReplyLossPercent   float64 `mapstructure:"reply_loss_percent"`

	// AMOCacheTTL bounds how long a cached reply survives (spec.md §4.3).
	AMOCacheTTL time.Duration `mapstructure:"amo_cache_ttl"`

	// RetryInitialTimeout / RetryMaxAttempts / RetryBackoffFactor describe a
	// bounded exponential backoff (spec.md §4.6). They are loaded but not
	// read: the client and monitor commands use clienttransport.DefaultConfig.
	RetryInitialTimeout time.Duration `mapstructure:"retry_initial_timeout"`
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	RetryBackoffFactor  float64       `mapstructure:"retry_backoff_factor"`

	// MetricsAddr is the bind address for the ambient metrics/health server
	// (SPEC_FULL.md §4.10). Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// ChecksumEnabled names the CRC32 trailer setting (spec.md §3's flags
	// bit0). It is loaded but not read: server replies carry a trailer
	// exactly when the request did, and callbacks never carry one.
	ChecksumEnabled bool `mapstructure:"checksum_enabled"`

	// InboundRateLimitPerSec bounds inbound datagram processing rate; 0
	// disables the limiter. Ambient robustness, not a spec-mandated feature.
	InboundRateLimitPerSec float64 `mapstructure:"inbound_rate_limit_per_sec"`
}

// Defaults returns spec.md's contractual defaults: port 8888 (§6.1), 0%
// loss (§6.3), 500ms initial timeout / 5 max retries / doubling backoff
// (§4.6), 5 minute AMO TTL (§3).
func Defaults() Config {
	return Config{
		ListenPort:             8888,
		RequestLossPercent:     0,
		ReplyLossPercent:       0,
		AMOCacheTTL:            5 * time.Minute,
		RetryInitialTimeout:    500 * time.Millisecond,
		RetryMaxAttempts:       5,
		RetryBackoffFactor:     2,
		MetricsAddr:            ":9090",
		ChecksumEnabled:        true,
		InboundRateLimitPerSec: 0,
	}
}

// Load merges defaults, an optional YAML config file, a .env file, and
// environment variables (prefixed UDPBANK_) into a Config. env selects an
// optional environment-specific file merge (e.g. "dev", "prod"); pass "" to
// skip it. Positional CLI arguments are applied by callers afterwards via
// the Config's exported fields, since spec.md §6.3 makes them the
// highest-priority source for the server launcher specifically.
func Load(env string) (Config, error) {
	cfg := Defaults()

	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigName("udpbank")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("UDPBANK")
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so bind each one to its
	// UDPBANK_-prefixed environment variable explicitly.
	for _, k := range []string{
		"listen_port", "request_loss_percent", "reply_loss_percent", "amo_cache_ttl",
		"retry_initial_timeout", "retry_max_attempts", "retry_backoff_factor",
		"metrics_addr", "checksum_enabled", "inbound_rate_limit_per_sec",
	} {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, utils.Wrap(err, "load config")
		}
	}
	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return cfg, utils.Wrap(err, "merge "+env+" config")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, utils.Wrap(err, "unmarshal config")
	}

	return applyEnvOverrides(cfg), nil
}

// applyEnvOverrides lets a handful of scalar settings be overridden by
// plain (unprefixed) environment variables too, as a simple fallback
// layered on top of the richer viper-backed loader above.
func applyEnvOverrides(cfg Config) Config {
	cfg.ListenPort = utils.EnvOrDefaultInt("UDPBANK_PORT", cfg.ListenPort)
	return cfg
}
