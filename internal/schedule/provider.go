// Package schedule supplies the transit legs the matcher evaluates.
//
// A Provider returns a day's legs between an origin and the airport. When the
// origin has no direct service, providers fall back to a hub's schedule and
// annotate the result with a note; the matcher passes that note through
// without changing its ranking.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transit-planner/internal/transit"
)

// ErrNoData means the provider has nothing at all for the requested date.
// It is distinct from "no direct route", which is a successful fallback.
var ErrNoData = errors.New("no schedule data available")

type Provider interface {
	Fetch(ctx context.Context, origin string, date time.Time, dir transit.Direction) (transit.Schedule, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, origin string, date time.Time, dir transit.Direction) (transit.Schedule, error)

func (f ProviderFunc) Fetch(ctx context.Context, origin string, date time.Time, dir transit.Direction) (transit.Schedule, error) {
	return f(ctx, origin, date, dir)
}

// FallbackNote is the annotation attached when hub legs stand in for origin.
func FallbackNote(origin, hub string) string {
	return fmt.Sprintf("No direct route from %s, showing %s schedules. You'll need to arrange transit to %s first.", origin, hub, hub)
}

func annotate(legs []transit.Leg, note string) []transit.Leg {
	out := make([]transit.Leg, len(legs))
	for i, l := range legs {
		l.Stops = append([]string(nil), l.Stops...)
		l.Note = note
		out[i] = l
	}
	return out
}
