package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	City              string
	FeedWatchInterval time.Duration
	NATSURL           string
	NATSSubject       string
	NATSEventsSubject string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	TrafficCacheTTL   time.Duration
	TimetableFile     string
	FallbackHub       string
	AirportStop       string
	ProviderTimeout   time.Duration
	MetricsAddr       string
	Location          *time.Location
	LogLevel          string
	LogFormat         string
	LogNATSSubjects   bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}

	// Database is optional: without it only the bundled timetable serves schedules.
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		db := os.Getenv("PGDATABASE")
		if db == "" && cfg.City != "" {
			db = "postgres"
		}
		if db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	// Feed DB watch interval (minutes); 0 disables the watcher
	if v := os.Getenv("FEED_WATCH_INTERVAL_MIN"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min < 0 {
			return nil, fmt.Errorf("invalid FEED_WATCH_INTERVAL_MIN: %q", v)
		}
		cfg.FeedWatchInterval = time.Duration(min) * time.Minute
	} else {
		cfg.FeedWatchInterval = 30 * time.Minute
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSSubject = getenvDefault("NATS_SUBJECT", "transit.plan")
	cfg.NATSEventsSubject = getenvDefault("NATS_EVENTS_SUBJECT", "transit.plans")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}

	// Traffic cache TTL (seconds)
	if v := os.Getenv("TRAFFIC_CACHE_TTL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid TRAFFIC_CACHE_TTL_SEC: %q", v)
		}
		cfg.TrafficCacheTTL = time.Duration(sec) * time.Second
	} else {
		cfg.TrafficCacheTTL = 15 * time.Minute
	}

	cfg.TimetableFile = os.Getenv("TIMETABLE_FILE")
	cfg.FallbackHub = getenvDefault("FALLBACK_HUB", "Galway")
	cfg.AirportStop = getenvDefault("AIRPORT_STOP", "Dublin Airport")

	// Per-provider timeout
	if v := os.Getenv("PROVIDER_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT_MS: %q", v)
		}
		cfg.ProviderTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.ProviderTimeout = 3 * time.Second
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	loc, err := time.LoadLocation(getenvDefault("TZ", "Europe/Dublin"))
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}

	// Debug logging for NATS subjects
	cfg.LogNATSSubjects = truthy(os.Getenv("LOG_NATS_SUBJECTS"))

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
