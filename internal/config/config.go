// Package config loads the dispatch configuration from the environment, an
// optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Continuation mechanisms.
const (
	ContinuationNone  = "none"
	ContinuationHTTP  = "http"
	ContinuationKafka = "kafka"
	ContinuationCron  = "cron"
)

// ErrMissing is wrapped by Validate for every missing required setting.
var ErrMissing = errors.New("missing required setting")

// Config is the full runtime configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogPretty bool

	CronSecret        string
	UnsubscribeSecret string
	BaseURL           string
	FeedbackURL       string

	OpenAlexBaseURL  string
	OpenAlexContact  string
	UserAgent        string
	MinSpacing       time.Duration
	RateLimitBackoff time.Duration
	MaxBackoff       time.Duration
	RateLimitRetries int
	UpstreamTimeout  time.Duration

	BatchSize         int
	Budget            time.Duration
	SafetyMargin      time.Duration
	ContinuationDelay time.Duration
	LeaseTTL          time.Duration
	Timezone          string
	DefaultOffsets    []int
	DefaultCategories []string

	CheckpointStore string
	RedisURL        string
	Retention       time.Duration
	SQLitePath      string

	Continuation    string
	ContinuationURL string
	CronSpec        string
	KafkaBrokers    string
	KafkaTopic      string
	KafkaGroupID    string

	SESFrom     string
	AWSRegion   string
	EmailPacing time.Duration

	// AdminEmail receives test-mode broadcasts.
	AdminEmail     string
	BroadcastPause time.Duration
}

// defaults mirrors the production tunables.
var defaults = map[string]any{
	"PORT":       "8080",
	"LOG_LEVEL":  "info",
	"LOG_PRETTY": false,

	"BASE_URL":     "http://localhost:8080",
	"FEEDBACK_URL": "https://tally.so/r/3X10Y4",

	"OPENALEX_BASE_URL":  "https://api.openalex.org/works",
	"MIN_SPACING":        "100ms",
	"RATE_LIMIT_BACKOFF": "2s",
	"MAX_BACKOFF":        "10s",
	"RATE_LIMIT_RETRIES": 0,
	"UPSTREAM_TIMEOUT":   "10s",

	"BATCH_SIZE":         15,
	"BUDGET":             "8s",
	"SAFETY_MARGIN":      "1s",
	"CONTINUATION_DELAY": "2m",
	"LEASE_TTL":          "30s",
	"TIMEZONE":           "America/New_York",
	"DEFAULT_OFFSETS":    "1",
	"DEFAULT_CATEGORIES": "17",

	"CHECKPOINT_STORE": StoreRedis,
	"REDIS_URL":        "redis://localhost:6379/0",
	"RETENTION":        "336h",
	"SQLITE_PATH":      "data/dispatch.db",

	"CONTINUATION":   ContinuationHTTP,
	"CRON_SPEC":      "*/2 * * * *",
	"KAFKA_TOPIC":    "dispatch-continuations",
	"KAFKA_GROUP_ID": "dispatch-worker",

	"AWS_REGION":   "us-east-1",
	"EMAIL_PACING": "50ms",

	"BROADCAST_PAUSE": "200ms",
}

// Load reads configuration. envFile is loaded first when it exists (values
// already in the environment win); configFile is optional.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	offsets, err := parseInts(v.GetString("DEFAULT_OFFSETS"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_OFFSETS: %w", err)
	}

	cfg := &Config{
		Port:      v.GetString("PORT"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogPretty: v.GetBool("LOG_PRETTY"),

		CronSecret:        v.GetString("CRON_SECRET"),
		UnsubscribeSecret: v.GetString("UNSUBSCRIBE_SECRET"),
		BaseURL:           v.GetString("BASE_URL"),
		FeedbackURL:       v.GetString("FEEDBACK_URL"),

		OpenAlexBaseURL:  v.GetString("OPENALEX_BASE_URL"),
		OpenAlexContact:  v.GetString("OPENALEX_CONTACT"),
		UserAgent:        v.GetString("USER_AGENT"),
		MinSpacing:       v.GetDuration("MIN_SPACING"),
		RateLimitBackoff: v.GetDuration("RATE_LIMIT_BACKOFF"),
		MaxBackoff:       v.GetDuration("MAX_BACKOFF"),
		RateLimitRetries: v.GetInt("RATE_LIMIT_RETRIES"),
		UpstreamTimeout:  v.GetDuration("UPSTREAM_TIMEOUT"),

		BatchSize:         v.GetInt("BATCH_SIZE"),
		Budget:            v.GetDuration("BUDGET"),
		SafetyMargin:      v.GetDuration("SAFETY_MARGIN"),
		ContinuationDelay: v.GetDuration("CONTINUATION_DELAY"),
		LeaseTTL:          v.GetDuration("LEASE_TTL"),
		Timezone:          v.GetString("TIMEZONE"),
		DefaultOffsets:    offsets,
		DefaultCategories: splitList(v.GetString("DEFAULT_CATEGORIES")),

		CheckpointStore: strings.ToLower(v.GetString("CHECKPOINT_STORE")),
		RedisURL:        v.GetString("REDIS_URL"),
		Retention:       v.GetDuration("RETENTION"),
		SQLitePath:      v.GetString("SQLITE_PATH"),

		Continuation:    strings.ToLower(v.GetString("CONTINUATION")),
		ContinuationURL: v.GetString("CONTINUATION_URL"),
		CronSpec:        v.GetString("CRON_SPEC"),
		KafkaBrokers:    v.GetString("KAFKA_BROKERS"),
		KafkaTopic:      v.GetString("KAFKA_TOPIC"),
		KafkaGroupID:    v.GetString("KAFKA_GROUP_ID"),

		SESFrom:     v.GetString("SES_FROM_EMAIL"),
		AWSRegion:   v.GetString("AWS_REGION"),
		EmailPacing: v.GetDuration("EMAIL_PACING"),

		AdminEmail:     v.GetString("ADMIN_EMAIL"),
		BroadcastPause: v.GetDuration("BROADCAST_PAUSE"),
	}
	if cfg.ContinuationURL == "" {
		cfg.ContinuationURL = strings.TrimRight(cfg.BaseURL, "/") + "/api/dispatch"
	}
	return cfg, nil
}

// Location resolves the workday timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate fails on missing secrets or inconsistent tunables. dryRun relaxes
// the delivery requirements.
func (c *Config) Validate(dryRun bool) error {
	var errs []error
	missing := func(name string) { errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, name)) }

	if c.CronSecret == "" {
		missing("CRON_SECRET")
	}
	if c.UnsubscribeSecret == "" {
		missing("UNSUBSCRIBE_SECRET")
	}
	if c.OpenAlexContact == "" {
		missing("OPENALEX_CONTACT")
	}
	if !dryRun && c.SESFrom == "" {
		missing("SES_FROM_EMAIL")
	}

	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive (got %d)", c.BatchSize))
	}
	if c.Budget <= c.SafetyMargin {
		errs = append(errs, fmt.Errorf("BUDGET %v must exceed SAFETY_MARGIN %v", c.Budget, c.SafetyMargin))
	}
	if c.MinSpacing < 0 {
		errs = append(errs, fmt.Errorf("MIN_SPACING must not be negative"))
	}
	if c.RateLimitBackoff <= c.MinSpacing {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKOFF %v must exceed MIN_SPACING %v", c.RateLimitBackoff, c.MinSpacing))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}

	switch c.CheckpointStore {
	case StoreRedis:
		if c.RedisURL == "" {
			missing("REDIS_URL")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			missing("SQLITE_PATH")
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("CHECKPOINT_STORE %q is not one of redis, sqlite, memory", c.CheckpointStore))
	}

	switch c.Continuation {
	case ContinuationNone, ContinuationCron, ContinuationHTTP:
	case ContinuationKafka:
		if c.KafkaBrokers == "" {
			missing("KAFKA_BROKERS")
		}
	default:
		errs = append(errs, fmt.Errorf("CONTINUATION %q is not one of none, http, kafka, cron", c.Continuation))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("offset %d must be >= 1", n)
		}
		out = append(out, n)
	}
	return out, nil
}
