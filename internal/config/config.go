// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scraperhose/internal/admission"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Admission AdmissionConfig `mapstructure:"admission"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Control   ControlConfig   `mapstructure:"control"`
	Server    ServerConfig    `mapstructure:"server"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FeedsConfig locates the feed list. Path may be a local file or gs://bucket/object.
type FeedsConfig struct {
	Path      string `mapstructure:"path"`
	SkipFirst int    `mapstructure:"skip_first"`
}

// AdmissionConfig sets the tier ceilings.
type AdmissionConfig struct {
	Tiers          TierConfig `mapstructure:"tiers"`
	InitialTier    string     `mapstructure:"initial_tier"`
	PollIntervalMs int        `mapstructure:"poll_interval_ms"`
}

// TierConfig holds the slot ceiling per tier.
type TierConfig struct {
	Low  int `mapstructure:"low"`
	High int `mapstructure:"high"`
	Max  int `mapstructure:"max"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// RateLimitConfig enables per-host politeness. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ExtractConfig tunes readability.
type ExtractConfig struct {
	MinTextLength int `mapstructure:"min_text_length"`
}

// DatabaseConfig controls the article store. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Schema                 string `mapstructure:"schema"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SamplerConfig sets the resource sampling cadence.
type SamplerConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	IntervalMs int  `mapstructure:"interval_ms"`
}

// ControlConfig toggles the stdin tier control.
type ControlConfig struct {
	Stdin bool `mapstructure:"stdin"`
}

// ServerConfig controls the HTTP control server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPERHOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feeds.path", "feeds.txt")
	v.SetDefault("feeds.skip_first", 0)
	v.SetDefault("admission.tiers.low", admission.DefaultCeilings.Low)
	v.SetDefault("admission.tiers.high", admission.DefaultCeilings.High)
	v.SetDefault("admission.tiers.max", admission.DefaultCeilings.Max)
	v.SetDefault("admission.initial_tier", "low")
	v.SetDefault("admission.poll_interval_ms", int(admission.DefaultPollInterval/time.Millisecond))
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("extract.min_text_length", 140)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.schema", "research")
	v.SetDefault("database.table", "raw_articles")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("sampler.enabled", true)
	v.SetDefault("sampler.interval_ms", 1000)
	v.SetDefault("control.stdin", true)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Feeds.Path) == "" {
		return fmt.Errorf("feeds.path must be set")
	}
	if c.Feeds.SkipFirst < 0 {
		return fmt.Errorf("feeds.skip_first must be >= 0")
	}
	t := c.Admission.Tiers
	if t.Low <= 0 || t.High <= 0 || t.Max <= 0 {
		return fmt.Errorf("admission.tiers must be > 0")
	}
	if _, err := admission.ParseTier(c.Admission.InitialTier); err != nil {
		return fmt.Errorf("admission.initial_tier: %w", err)
	}
	if c.Admission.PollIntervalMs <= 0 {
		return fmt.Errorf("admission.poll_interval_ms must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if c.Extract.MinTextLength < 0 {
		return fmt.Errorf("extract.min_text_length must be >= 0")
	}
	if c.Sampler.Enabled && c.Sampler.IntervalMs <= 0 {
		return fmt.Errorf("sampler.interval_ms must be > 0 when the sampler is enabled")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Ceilings converts the tier section for the admission controller.
func (c Config) Ceilings() admission.Ceilings {
	return admission.Ceilings{
		Low:  c.Admission.Tiers.Low,
		High: c.Admission.Tiers.High,
		Max:  c.Admission.Tiers.Max,
	}
}

// InitialTier parses admission.initial_tier. Validate has already rejected bad values.
func (c Config) InitialTier() admission.Tier {
	tier, err := admission.ParseTier(c.Admission.InitialTier)
	if err != nil {
		return admission.TierLow
	}
	return tier
}

// PollInterval is the admission poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Admission.PollIntervalMs) * time.Millisecond
}

// HTTPTimeout is the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SamplerInterval is the resource sampling period.
func (c Config) SamplerInterval() time.Duration {
	return time.Duration(c.Sampler.IntervalMs) * time.Millisecond
}

// MaxConnLifetime is the pgx pool connection lifetime.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Database.MaxConnLifetimeMinutes) * time.Minute
}
