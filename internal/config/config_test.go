package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DATABASE_URL", "PG_DSN", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGDATABASE", "PGSSLMODE",
	"CITY", "CITY_NAME", "FEED_WATCH_INTERVAL_MIN", "NATS_URL", "NATS_SUBJECT", "NATS_EVENTS_SUBJECT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "TRAFFIC_CACHE_TTL_SEC",
	"TIMETABLE_FILE", "FALLBACK_HUB", "AIRPORT_STOP", "PROVIDER_TIMEOUT_MS",
	"METRICS_ADDR", "TZ", "LOG_LEVEL", "LOG_FORMAT", "LOG_NATS_SUBJECTS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 30*time.Minute, cfg.FeedWatchInterval)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "transit.plan", cfg.NATSSubject)
	assert.Equal(t, "transit.plans", cfg.NATSEventsSubject)
	assert.Equal(t, 15*time.Minute, cfg.TrafficCacheTTL)
	assert.Equal(t, "Galway", cfg.FallbackHub)
	assert.Equal(t, "Dublin Airport", cfg.AirportStop)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "Europe/Dublin", cfg.Location.String())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.LogNATSSubjects)
}

func TestFromEnvBuildsDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGHOST", "db")
	t.Setenv("PGUSER", "gtfs")
	t.Setenv("PGPASSWORD", "p@ss")
	t.Setenv("CITY", "Galway")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://gtfs:p%40ss@db:5432/postgres?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "Galway", cfg.City)
}

func TestFromEnvPrefersDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u@h/x")
	t.Setenv("PGDATABASE", "ignored")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@h/x", cfg.DatabaseURL)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVIDER_TIMEOUT_MS", "250")
	t.Setenv("FEED_WATCH_INTERVAL_MIN", "0")
	t.Setenv("TRAFFIC_CACHE_TTL_SEC", "60")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("TZ", "UTC")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("LOG_NATS_SUBJECTS", "yes")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.ProviderTimeout)
	assert.Zero(t, cfg.FeedWatchInterval)
	assert.Equal(t, time.Minute, cfg.TrafficCacheTTL)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, time.UTC.String(), cfg.Location.String())
	assert.Equal(t, "console", cfg.LogFormat)
	assert.True(t, cfg.LogNATSSubjects)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"PROVIDER_TIMEOUT_MS":     "0",
		"FEED_WATCH_INTERVAL_MIN": "-5",
		"TRAFFIC_CACHE_TTL_SEC":   "soon",
		"REDIS_DB":                "-1",
		"TZ":                      "Mars/Olympus",
		"LOG_FORMAT":              "xml",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
