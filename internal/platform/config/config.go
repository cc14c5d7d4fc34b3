package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"scopeleak/pkg/platform/sentinel"
)

// Backend names accepted by HARNESS_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the whole harness configuration.
type Config struct {
	Server   Server
	Harness  Harness
	Postgres PostgresConfig
	Redis    RedisConfig
	Memory   MemoryConfig
	Kafka    KafkaConfig
	History  HistoryConfig
	Log      LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	ServeAfterRun  bool
	MetricsEnabled bool
}

// Harness controls the load loop.
type Harness struct {
	Backend      string
	Iterations   int
	BatchSize    int
	ReportEvery  int
	ProbeTimeout time.Duration
}

// PostgresConfig configures the database/sql backend.
type PostgresConfig struct {
	DSN             string
	Driver          string
	MaxOpenConns    int
	// CheckoutTimeout bounds the wait for a pooled connection when a scope is created.
	CheckoutTimeout time.Duration
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MemoryConfig configures the simulated backend.
type MemoryConfig struct {
	LeakEvery int
}

// KafkaConfig enables the Kafka report sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// HistoryConfig enables the on-disk report history when Dir is non-empty.
type HistoryConfig struct {
	Dir string
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string
	Format string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		Server: Server{
			Addr:           r.str("HARNESS_ADDR", ":8080"),
			ServeAfterRun:  r.boolean("HARNESS_SERVE_AFTER_RUN", true),
			MetricsEnabled: r.boolean("METRICS_ENABLED", true),
		},
		Harness: Harness{
			Backend:      strings.ToLower(r.str("HARNESS_BACKEND", BackendMemory)),
			Iterations:   r.integer("HARNESS_ITERATIONS", 10000),
			BatchSize:    r.integer("HARNESS_BATCH_SIZE", 20),
			ReportEvery:  r.integer("HARNESS_REPORT_EVERY", 1),
			ProbeTimeout: r.duration("HARNESS_PROBE_TIMEOUT", 5*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:             r.str("POSTGRES_DATABASE", ""),
			Driver:          r.str("POSTGRES_DRIVER", "pgx"),
			MaxOpenConns:    r.integer("POSTGRES_MAX_OPEN_CONNS", 0),
			CheckoutTimeout: r.duration("POSTGRES_CHECKOUT_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.integer("REDIS_POOL_SIZE", 0),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Memory: MemoryConfig{
			LeakEvery: r.integer("MEMORY_LEAK_EVERY", 0),
		},
		Kafka: KafkaConfig{
			Brokers: r.list("KAFKA_BROKERS"),
			Topic:   r.str("KAFKA_TOPIC", "scopeleak.usage"),
		},
		History: HistoryConfig{
			Dir: r.str("HISTORY_DIR", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(r.str("LOG_LEVEL", "info")),
			Format: strings.ToLower(r.str("LOG_FORMAT", "json")),
		},
	}

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the harness cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Harness.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, invalid("POSTGRES_DATABASE", "required for the postgres backend"))
		}
		if c.Postgres.CheckoutTimeout <= 0 {
			errs = append(errs, invalid("POSTGRES_CHECKOUT_TIMEOUT", "must be positive"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, invalid("REDIS_URL", "required for the redis backend"))
		}
	default:
		errs = append(errs, invalid("HARNESS_BACKEND", fmt.Sprintf("unknown backend %q", c.Harness.Backend)))
	}
	if c.Harness.Iterations < 0 {
		errs = append(errs, invalid("HARNESS_ITERATIONS", "must not be negative"))
	}
	if c.Harness.BatchSize <= 0 {
		errs = append(errs, invalid("HARNESS_BATCH_SIZE", "must be positive"))
	}
	if c.Harness.ReportEvery <= 0 {
		errs = append(errs, invalid("HARNESS_REPORT_EVERY", "must be positive"))
	}
	if c.Harness.ProbeTimeout <= 0 {
		errs = append(errs, invalid("HARNESS_PROBE_TIMEOUT", "must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, invalid("KAFKA_TOPIC", "required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

func invalid(key, reason string) error {
	return fmt.Errorf("%s %s: %w", key, reason, sentinel.ErrInvalidConfig)
}

// reader collects parse errors instead of failing on the first one.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, invalid(key, fmt.Sprintf("is not an integer: %q", v)))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, invalid(key, fmt.Sprintf("is not a boolean: %q", v)))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, invalid(key, fmt.Sprintf("is not a duration: %q", v)))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
