// Package config loads the ingest configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with the INGEST_ prefix (e.g. INGEST_API_KEY)
//  2. config.toml
//  3. Built-in defaults
//
// .env and .env.local are loaded into the environment first without
// overriding variables that are already set.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"cardprices/internal/pricing"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
)

type Config struct {
	Env     string
	Log     LogConfig
	API     APIConfig
	Queue   QueueConfig
	Ingest  IngestConfig
	Store   StoreConfig
	Redis   RedisConfig
	HTTP    HTTPConfig
	Metrics MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type APIConfig struct {
	BaseURL      string
	Key          string
	UserAgent    string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	PageSize     int
}

type QueueConfig struct {
	Interval time.Duration
	Ceiling  int
	Backlog  int
}

type IngestConfig struct {
	StaleAfter       time.Duration
	Policy           string
	SetIDs           []string
	PriceOnlyRefresh bool
}

type StoreConfig struct {
	Backend   string
	DSN       string
	PebbleDir string
}

// RedisConfig enables the shared run lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type HTTPConfig struct {
	Addr           string
	InternalSecret string
	// TriggerEvery is the minimum spacing between trigger requests per caller.
	TriggerEvery time.Duration
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("api.base_url", "https://api.pokemontcg.io/v2")
	v.SetDefault("api.user_agent", "cardprices-ingest/1.0")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.max_attempts", 3)
	v.SetDefault("api.retry_backoff", time.Second)
	v.SetDefault("api.page_size", 200)

	v.SetDefault("queue.interval", 1100*time.Millisecond)
	v.SetDefault("queue.ceiling", 180)
	v.SetDefault("queue.backlog", 64)

	// Run settings are top-level keys: INGEST_STALE_AFTER, INGEST_POLICY, ...
	v.SetDefault("stale_after", 24*time.Hour)
	v.SetDefault("policy", "tcgOnly")
	v.SetDefault("price_only_refresh", false)

	v.SetDefault("store.backend", BackendPostgres)
	v.SetDefault("store.pebble_dir", "data/catalog")

	v.SetDefault("redis.lock_ttl", 4*time.Hour)

	v.SetDefault("http.addr", ":8081")
	v.SetDefault("http.trigger_every", time.Minute)

	v.SetDefault("metrics.job", "cardprices_ingest")
}

// Load reads .env files, config.toml and the environment.
func Load() (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("INGEST_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DB_DSN is shared with the migrate command.
	_ = v.BindEnv("store.dsn", "INGEST_STORE_DSN", "DB_DSN")

	cfg := &Config{
		Env: v.GetString("env"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		API: APIConfig{
			BaseURL:      v.GetString("api.base_url"),
			Key:          v.GetString("api.key"),
			UserAgent:    v.GetString("api.user_agent"),
			Timeout:      v.GetDuration("api.timeout"),
			MaxAttempts:  v.GetInt("api.max_attempts"),
			RetryBackoff: v.GetDuration("api.retry_backoff"),
			PageSize:     v.GetInt("api.page_size"),
		},
		Queue: QueueConfig{
			Interval: v.GetDuration("queue.interval"),
			Ceiling:  v.GetInt("queue.ceiling"),
			Backlog:  v.GetInt("queue.backlog"),
		},
		Ingest: IngestConfig{
			StaleAfter:       v.GetDuration("stale_after"),
			Policy:           v.GetString("policy"),
			SetIDs:           stringList(v.Get("set_ids")),
			PriceOnlyRefresh: v.GetBool("price_only_refresh"),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(v.GetString("store.backend")),
			DSN:       v.GetString("store.dsn"),
			PebbleDir: v.GetString("store.pebble_dir"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			InternalSecret: v.GetString("http.internal_secret"),
			TriggerEvery:   v.GetDuration("http.trigger_every"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString("metrics.pushgateway_url"),
			Job:            v.GetString("metrics.job"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	// Do not override environment provided by the runtime (e.g. Docker).
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// stringList accepts a TOML array or a comma separated env value.
func stringList(raw interface{}) []string {
	var parts []string
	switch x := raw.(type) {
	case string:
		parts = strings.Split(x, ",")
	case []string:
		parts = x
	case []interface{}:
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Policy resolves the configured price policy.
func (c *Config) Policy() pricing.Policy {
	p, err := pricing.PolicyByName(c.Ingest.Policy)
	if err != nil {
		return pricing.TCGOnly
	}
	return p
}

func (c *Config) validate() error {
	var errs []error

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, errors.New("api.page_size must be positive"))
	}
	if c.API.MaxAttempts <= 0 {
		errs = append(errs, errors.New("api.max_attempts must be positive"))
	}
	if c.Queue.Interval <= 0 {
		errs = append(errs, errors.New("queue.interval must be positive"))
	}
	if c.Queue.Ceiling <= 0 {
		errs = append(errs, errors.New("queue.ceiling must be positive"))
	}
	if c.Ingest.StaleAfter <= 0 {
		errs = append(errs, errors.New("stale_after must be positive"))
	}
	if _, err := pricing.PolicyByName(c.Ingest.Policy); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn (or DB_DSN) is required for the postgres backend"))
		}
	case BackendPebble:
		if c.Store.PebbleDir == "" {
			errs = append(errs, errors.New("store.pebble_dir is required for the pebble backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
