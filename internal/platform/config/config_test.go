package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopeleak/pkg/platform/sentinel"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := fromLookup(env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.ServeAfterRun)
	assert.Equal(t, BackendMemory, cfg.Harness.Backend)
	assert.Equal(t, 10000, cfg.Harness.Iterations)
	assert.Equal(t, 20, cfg.Harness.BatchSize)
	assert.Equal(t, 1, cfg.Harness.ReportEvery)
	assert.Equal(t, 5*time.Second, cfg.Harness.ProbeTimeout)
	assert.Equal(t, "pgx", cfg.Postgres.Driver)
	assert.Equal(t, 15*time.Second, cfg.Postgres.CheckoutTimeout)
	assert.Equal(t, "scopeleak.usage", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestOverrides(t *testing.T) {
	cfg, err := fromLookup(env(map[string]string{
		"HARNESS_BACKEND":           "Postgres",
		"POSTGRES_DATABASE":         "postgres://localhost/app",
		"POSTGRES_DRIVER":           "postgres",
		"POSTGRES_CHECKOUT_TIMEOUT": "2s",
		"HARNESS_ITERATIONS":        "3",
		"HARNESS_BATCH_SIZE":        "50",
		"HARNESS_PROBE_TIMEOUT":     "250ms",
		"KAFKA_BROKERS":             "a:9092, b:9092,,",
		"LOG_LEVEL":                 "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Harness.Backend)
	assert.Equal(t, "postgres", cfg.Postgres.Driver)
	assert.Equal(t, 3, cfg.Harness.Iterations)
	assert.Equal(t, 50, cfg.Harness.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Harness.ProbeTimeout)
	assert.Equal(t, 2*time.Second, cfg.Postgres.CheckoutTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"HARNESS_BACKEND": "mongo"}, "HARNESS_BACKEND"},
		{"postgres without dsn", map[string]string{"HARNESS_BACKEND": "postgres"}, "POSTGRES_DATABASE"},
		{"zero checkout timeout", map[string]string{
			"HARNESS_BACKEND":           "postgres",
			"POSTGRES_DATABASE":         "postgres://localhost/app",
			"POSTGRES_CHECKOUT_TIMEOUT": "0s",
		}, "POSTGRES_CHECKOUT_TIMEOUT"},
		{"redis without url", map[string]string{"HARNESS_BACKEND": "redis"}, "REDIS_URL"},
		{"bad integer", map[string]string{"HARNESS_BATCH_SIZE": "many"}, "HARNESS_BATCH_SIZE"},
		{"zero batch", map[string]string{"HARNESS_BATCH_SIZE": "0"}, "HARNESS_BATCH_SIZE"},
		{"negative iterations", map[string]string{"HARNESS_ITERATIONS": "-1"}, "HARNESS_ITERATIONS"},
		{"bad duration", map[string]string{"HARNESS_PROBE_TIMEOUT": "soon"}, "HARNESS_PROBE_TIMEOUT"},
		{"bad bool", map[string]string{"HARNESS_SERVE_AFTER_RUN": "maybe"}, "HARNESS_SERVE_AFTER_RUN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromLookup(env(tt.vars))
			require.Error(t, err)
			assert.ErrorIs(t, err, sentinel.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
