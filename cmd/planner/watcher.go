package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"transit-planner/internal/schedule"
)

type switchMetrics interface {
	DBSwitchInc(reason string)
}

// feedWatcher owns the GTFS database handle. Periodically it pings the
// current database and, when a city is configured, re-resolves the latest
// import; on failure or a newer import it opens the target database and
// swaps it into the GTFS source.
type feedWatcher struct {
	gtfs     *schedule.GTFS
	city     string
	interval time.Duration
	resolve  func(ctx context.Context) (string, error) // nil without a city
	open     func(ctx context.Context, name string) (*sql.DB, error)
	ping     func(ctx context.Context, db *sql.DB) error
	metrics  switchMetrics
	log      *zap.Logger

	mu   sync.Mutex
	db   *sql.DB
	name string
}

func (w *feedWatcher) current() (*sql.DB, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db, w.name
}

// Run checks the feed every interval until ctx is cancelled.
func (w *feedWatcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := w.check(ctx); err != nil {
			w.log.Warn("feed database switch failed", zap.String("city", w.city), zap.Error(err))
		}
	}
}

// check reports whether the database was switched.
func (w *feedWatcher) check(ctx context.Context) (bool, error) {
	cur, name := w.current()

	reason := ""
	if err := w.ping(ctx, cur); err != nil {
		w.log.Warn("feed database ping failed, re-resolving", zap.String("db", name), zap.Error(err))
		reason = "ping_failure"
	}

	target := name
	if w.resolve != nil {
		newName, err := w.resolve(ctx)
		switch {
		case err != nil:
			w.log.Warn("resolve latest import failed", zap.String("city", w.city), zap.Error(err))
		case newName != "" && newName != name:
			w.log.Info("detected updated feed database",
				zap.String("city", w.city), zap.String("from", name), zap.String("to", newName))
			reason = "update"
			target = newName
		}
	}
	if reason == "" {
		return false, nil
	}
	if w.metrics != nil {
		w.metrics.DBSwitchInc(reason)
	}

	newDB, err := w.open(ctx, target)
	if err != nil {
		return false, fmt.Errorf("open feed database %q: %w", target, err)
	}
	w.gtfs.Swap(newDB)

	w.mu.Lock()
	old := w.db
	w.db, w.name = newDB, target
	w.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	w.log.Info("switched feed database", zap.String("db", target), zap.String("reason", reason))
	return true, nil
}

func (w *feedWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db != nil {
		_ = w.db.Close()
		w.db = nil
	}
}
