package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"transit-planner/internal/config"
	"transit-planner/internal/db"
	"transit-planner/internal/matcher"
	"transit-planner/internal/metrics"
	"transit-planner/internal/schedule"
	"transit-planner/internal/traffic"
)

type planner struct {
	matcher   *matcher.Matcher
	timetable *schedule.Timetable
	feed      *feedWatcher // nil without a database
	sources   []string
	cleanup   func()
}

// buildPlanner assembles the schedule sources and traffic estimator from
// cfg. The returned cleanup closes every handle that was opened.
func buildPlanner(ctx context.Context, cfg *config.Config, log *zap.Logger, mcol *metrics.Collector) (*planner, error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	p := &planner{cleanup: cleanup}

	var sources []schedule.Source
	if cfg.DatabaseURL != "" {
		feed, err := newFeedWatcher(ctx, cfg, log, mcol)
		if err != nil {
			return nil, err
		}
		closers = append(closers, feed.Close)
		p.feed = feed
		sources = append(sources, schedule.Source{Name: "gtfs", Provider: feed.gtfs})
	}

	var err error
	if cfg.TimetableFile != "" {
		p.timetable, err = schedule.LoadTimetable(cfg.TimetableFile, cfg.FallbackHub, log)
	} else {
		p.timetable, err = schedule.DefaultTimetable(cfg.FallbackHub, log)
	}
	if err != nil {
		cleanup()
		return nil, err
	}
	sources = append(sources, schedule.Source{Name: "timetable", Provider: p.timetable})

	var est traffic.Estimator = traffic.NewTimeOfDay(cfg.Location)
	if cfg.RedisAddr != "" {
		client, err := traffic.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		est = traffic.NewCached(est, client, cfg.TrafficCacheTTL, cfg.Location, log)
	}

	mc := matcher.Config{Location: cfg.Location, Logger: log}
	var fm schedule.FailureMetrics
	if mcol != nil {
		mc.Metrics = mcol
		fm = mcol
	}
	for _, s := range sources {
		p.sources = append(p.sources, s.Name)
	}
	p.matcher = matcher.New(schedule.NewComposite(cfg.ProviderTimeout, fm, log, sources...), est, mc)
	logStartup(log, cfg, p)
	return p, nil
}

// newFeedWatcher connects to the GTFS database. With a city set, the latest
// import for it is resolved from the cluster's 'postgres' meta database.
func newFeedWatcher(ctx context.Context, cfg *config.Config, log *zap.Logger, mcol *metrics.Collector) (*feedWatcher, error) {
	w := &feedWatcher{
		city:     cfg.City,
		interval: cfg.FeedWatchInterval,
		open: func(ctx context.Context, name string) (*sql.DB, error) {
			return openFeedDB(ctx, cfg.DatabaseURL, name)
		},
		ping: db.Ping,
		log:  log,
	}
	if mcol != nil {
		w.metrics = mcol
	}
	if cfg.City != "" {
		w.resolve = func(ctx context.Context) (string, error) {
			return resolveFeedName(ctx, cfg.DatabaseURL, cfg.City)
		}
		name, err := w.resolve(ctx)
		if err != nil {
			return nil, err
		}
		w.name = name
		log.Info("using feed database", zap.String("db", name), zap.String("city", cfg.City))
	}
	sqlDB, err := w.open(ctx, w.name)
	if err != nil {
		return nil, err
	}
	w.db = sqlDB
	w.gtfs = schedule.NewGTFS(sqlDB, cfg.AirportStop, cfg.FallbackHub, log)
	return w, nil
}

func resolveFeedName(ctx context.Context, baseDSN, city string) (string, error) {
	rootDSN, err := db.WithDBName(baseDSN, "postgres")
	if err != nil {
		return "", fmt.Errorf("invalid base DSN: %w", err)
	}
	metaDB, err := db.Open(rootDSN)
	if err != nil {
		return "", fmt.Errorf("db open (meta): %w", err)
	}
	defer metaDB.Close()
	if err := db.Ping(ctx, metaDB); err != nil {
		return "", fmt.Errorf("db ping (meta): %w", err)
	}
	name, err := db.ResolveFeedDBName(ctx, metaDB, city)
	if err != nil {
		return "", fmt.Errorf("resolve latest import for city %q: %w", city, err)
	}
	return name, nil
}

// openFeedDB opens and pings baseDSN, or the database name on the same
// cluster when name is set.
func openFeedDB(ctx context.Context, baseDSN, name string) (*sql.DB, error) {
	dsn := baseDSN
	if name != "" {
		var err error
		if dsn, err = db.WithDBName(baseDSN, name); err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return sqlDB, nil
}
