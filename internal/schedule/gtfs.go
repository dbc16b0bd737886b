package schedule

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"transit-planner/internal/db"
	"transit-planner/internal/transit"
)

// GTFS serves legs from a GTFS feed imported into PostgreSQL. The database
// can be replaced while requests are in flight.
type GTFS struct {
	mu      sync.RWMutex
	db      db.Querier
	airport string
	hub     string
	log     *zap.Logger
}

func NewGTFS(q db.Querier, airport, hub string, log *zap.Logger) *GTFS {
	if log == nil {
		log = zap.NewNop()
	}
	return &GTFS{db: q, airport: airport, hub: hub, log: log}
}

// Swap replaces the database queried by subsequent fetches and returns the
// previous one.
func (g *GTFS) Swap(q db.Querier) db.Querier {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.db
	g.db = q
	return old
}

func (g *GTFS) querier() db.Querier {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.db
}

func (g *GTFS) Fetch(ctx context.Context, origin string, date time.Time, dir transit.Direction) (transit.Schedule, error) {
	legs, err := g.legs(ctx, origin, date, dir)
	if err != nil {
		return transit.Schedule{}, err
	}
	if len(legs) > 0 {
		return transit.Schedule{Origin: origin, Legs: legs, Source: "gtfs"}, nil
	}
	if g.hub == "" || strings.EqualFold(g.hub, origin) {
		return transit.Schedule{}, ErrNoData
	}
	legs, err = g.legs(ctx, g.hub, date, dir)
	if err != nil {
		return transit.Schedule{}, err
	}
	if len(legs) == 0 {
		return transit.Schedule{}, ErrNoData
	}
	note := FallbackNote(origin, g.hub)
	g.log.Info("no direct GTFS trips, using hub", zap.String("origin", origin), zap.String("hub", g.hub))
	return transit.Schedule{Origin: g.hub, Legs: annotate(legs, note), Note: note, Source: "gtfs"}, nil
}

// legs keys airport-bound legs to their arrival day and airport departures
// to their departure day, matching the end the matcher anchors.
func (g *GTFS) legs(ctx context.Context, origin string, date time.Time, dir transit.Direction) ([]transit.Leg, error) {
	q := g.querier()
	if dir.IsDeparture() {
		return db.FetchLegs(ctx, q, date, origin, g.airport, db.AnchorAlight)
	}
	return db.FetchLegs(ctx, q, date, g.airport, origin, db.AnchorBoard)
}
