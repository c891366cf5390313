// Package config loads service settings from defaults, an optional YAML file,
// a .env file and environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"control-tower/internal/outcome"
)

// Config holds all service settings.
type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`

	// ConnectTimeout bounds store connection retries at startup.
	ConnectTimeout string `yaml:"connect_timeout"`

	Outcome   OutcomeConfig   `yaml:"outcome"`
	Followup  FollowupConfig  `yaml:"followup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Feed      FeedConfig      `yaml:"feed"`
	Log       LogConfig       `yaml:"log"`
}

// OutcomeConfig holds verdict thresholds and the follow-up default.
type OutcomeConfig struct {
	BetterAbovePct float64 `yaml:"better_above_pct"`
	WorseBelowPct  float64 `yaml:"worse_below_pct"`
	FollowupDays   int     `yaml:"followup_days"`
}

// FollowupConfig configures the reminder scheduler.
type FollowupConfig struct {
	ScanInterval string `yaml:"scan_interval"`
}

// RateLimitConfig is the token bucket for submissions.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// FeedConfig configures the websocket feed.
type FeedConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		ConnectTimeout: "30s",
		Outcome: OutcomeConfig{
			BetterAbovePct: outcome.DefaultBetterAbovePct,
			WorseBelowPct:  outcome.DefaultWorseBelowPct,
			FollowupDays:   14,
		},
		Followup: FollowupConfig{
			ScanInterval: "15m",
		},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     10,
		},
		Feed: FeedConfig{
			BufferSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path (optional, may be empty or missing),
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// Defaults only
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("HTTP_ADDR", &c.HTTPAddr)
	setString("POSTGRES_DSN", &c.PostgresDSN)
	setString("CLICKHOUSE_DSN", &c.ClickhouseDSN)
	setString("CONNECT_TIMEOUT", &c.ConnectTimeout)
	setString("FOLLOWUP_SCAN_INTERVAL", &c.Followup.ScanInterval)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	var errs []error
	if v := os.Getenv("USE_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("USE_MEMORY", err))
		c.UseMemory = b
	}
	if v := os.Getenv("OUTCOME_BETTER_ABOVE_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("OUTCOME_BETTER_ABOVE_PCT", err))
		c.Outcome.BetterAbovePct = f
	}
	if v := os.Getenv("OUTCOME_WORSE_BELOW_PCT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("OUTCOME_WORSE_BELOW_PCT", err))
		c.Outcome.WorseBelowPct = f
	}
	if v := os.Getenv("FOLLOWUP_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("FOLLOWUP_DAYS", err))
		c.Outcome.FollowupDays = n
	}
	if v := os.Getenv("SUBMIT_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("SUBMIT_RATE_PER_SEC", err))
		c.RateLimit.PerSecond = f
	}
	if v := os.Getenv("SUBMIT_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("SUBMIT_RATE_BURST", err))
		c.RateLimit.Burst = n
	}
	return errors.Join(errs...)
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", key, err)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		return errors.New("postgres and clickhouse DSNs are required (set use_memory for in-memory storage)")
	}
	if err := c.Classifier().Validate(); err != nil {
		return fmt.Errorf("outcome thresholds: %w", err)
	}
	if c.Outcome.FollowupDays <= 0 {
		return fmt.Errorf("followup_days must be positive, got %d", c.Outcome.FollowupDays)
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit per_second and burst must be positive")
	}
	if _, err := time.ParseDuration(c.Followup.ScanInterval); err != nil {
		return fmt.Errorf("followup scan_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.ConnectTimeout); err != nil {
		return fmt.Errorf("connect_timeout: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// Classifier returns the verdict classifier for the configured thresholds.
func (c *Config) Classifier() outcome.Classifier {
	return outcome.Classifier{
		BetterAbovePct: c.Outcome.BetterAbovePct,
		WorseBelowPct:  c.Outcome.WorseBelowPct,
	}
}

// FollowupWindow returns the default follow-up offset.
func (c *Config) FollowupWindow() time.Duration {
	return time.Duration(c.Outcome.FollowupDays) * 24 * time.Hour
}

// ScanInterval returns the follow-up scan period.
func (c *Config) ScanInterval() time.Duration {
	d, _ := time.ParseDuration(c.Followup.ScanInterval)
	return d
}

// ConnectTimeoutDuration returns the startup connection budget.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ConnectTimeout)
	return d
}
