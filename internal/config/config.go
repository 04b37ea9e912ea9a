// Package config loads pricewatch's operator-facing configuration: a YAML
// file overridden field-by-field by environment variables, following the
// teacher's distribution_service/main.go loadConfig pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full operator-facing configuration surface described in
// spec.md §6.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Fetch     FetchConfig     `yaml:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queue     QueueConfig     `yaml:"queue"`
	Allowlist AllowlistConfig `yaml:"allowlist"`
	Logging   LoggingConfig   `yaml:"logging"`
	Pricing   PricingConfig   `yaml:"pricing"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FetchConfig governs HttpFetcher and BrowserFetcher (spec §4.3).
type FetchConfig struct {
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	BrowserTimeout   time.Duration `yaml:"browser_timeout"`
	BrowserFallback  bool          `yaml:"browser_fallback_enabled"`
	MaxRedirects     int           `yaml:"max_redirects"`
	UserAgents       []string      `yaml:"user_agents"`
}

// RateLimitConfig governs the Rate Governor (spec §4.7).
type RateLimitConfig struct {
	PerHostCapacity    int           `yaml:"per_host_capacity"`
	PerHostRefillPerSec float64      `yaml:"per_host_refill_per_sec"`
	GlobalConcurrency  int           `yaml:"global_concurrency"`
	AdmissionWait      time.Duration `yaml:"admission_wait"`
}

// SchedulerConfig governs the Scheduler (spec §4.6).
type SchedulerConfig struct {
	DefaultInterval     time.Duration `yaml:"default_interval"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	FailureStreakLimit  int           `yaml:"failure_streak_limit"`
	InFlightTTL         time.Duration `yaml:"in_flight_ttl"`
	Workers             int          `yaml:"workers"`
}

// QueueConfig governs retry/backoff policy (spec §4.5).
type QueueConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	HardFailMaxBackoff time.Duration `yaml:"hard_fail_max_backoff"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// AllowlistConfig governs the domain allowlist policy (spec §6).
type AllowlistConfig struct {
	Enabled bool     `yaml:"enabled"`
	Hosts   []string `yaml:"hosts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PricingConfig governs the Rule Engine's deployment-wide bounds (spec §4.11).
type PricingConfig struct {
	MaxChangePct      float64       `yaml:"max_change_pct"`
	MinMarginPct      float64       `yaml:"min_margin_pct"`
	CompetitiveWeight float64       `yaml:"competitive_weight"`
	OwnWeight         float64       `yaml:"own_weight"`
	RecommendationCacheTTL time.Duration `yaml:"recommendation_cache_ttl"`
}

// Default returns a config with the deployment defaults named throughout
// spec.md (15s HTTP timeout, base=1s/max=5m backoff, 20% max price change,
// 3 max attempts, etc.).
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "pricewatch", DBName: "pricewatch", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Fetch: FetchConfig{
			HTTPTimeout:     15 * time.Second,
			BrowserTimeout:  30 * time.Second,
			BrowserFallback: true,
			MaxRedirects:    5,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) pricewatch-bot/1.0",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) pricewatch-bot/1.0",
			},
		},
		RateLimit: RateLimitConfig{
			PerHostCapacity:     2,
			PerHostRefillPerSec: 0.5,
			GlobalConcurrency:   20,
			AdmissionWait:       10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			DefaultInterval:    6 * time.Hour,
			TickInterval:       time.Minute,
			FailureStreakLimit: 5,
			InFlightTTL:        10 * time.Minute,
			Workers:            8,
		},
		Queue: QueueConfig{
			MaxAttempts:        3,
			BaseBackoff:        time.Second,
			MaxBackoff:         5 * time.Minute,
			HardFailMaxBackoff: time.Minute,
			VisibilityTimeout:  2 * time.Minute,
		},
		Allowlist: AllowlistConfig{Enabled: false},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Pricing: PricingConfig{
			MaxChangePct:           20,
			MinMarginPct:           0,
			CompetitiveWeight:      0.6,
			OwnWeight:              0.4,
			RecommendationCacheTTL: time.Minute,
		},
	}
}

// Load reads the YAML file named by path (or CONFIG_FILE, default
// "config.yaml"), falling back to Default() values for fields left unset,
// then applies environment-variable overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ALLOWLIST_ENABLED"); v != "" {
		cfg.Allowlist.Enabled = v == "true" || v == "1"
	}
}

// DSN formats a postgres key/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
