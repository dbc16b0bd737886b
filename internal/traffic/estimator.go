// Package traffic estimates road delay for the airport-bound end of a journey.
package traffic

import (
	"context"
	"time"
)

// Estimator returns the expected delay for travel from location arriving
// around at. A zero delay is valid and means no adjustment.
type Estimator interface {
	Estimate(ctx context.Context, location string, at time.Time) (time.Duration, error)
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(ctx context.Context, location string, at time.Time) (time.Duration, error)

func (f EstimatorFunc) Estimate(ctx context.Context, location string, at time.Time) (time.Duration, error) {
	return f(ctx, location, at)
}

// Fixed always returns the same delay.
type Fixed time.Duration

func (f Fixed) Estimate(context.Context, string, time.Time) (time.Duration, error) {
	return time.Duration(f), nil
}

// Band is a delay applied to instants whose local hour is in [From, To].
type Band struct {
	From, To int
	Delay    time.Duration
}

// TimeOfDay estimates delay from the local hour of the target instant.
type TimeOfDay struct {
	Bands   []Band
	OffPeak time.Duration
	loc     *time.Location
}

// DefaultBands are the corridor's rush-hour windows.
var DefaultBands = []Band{
	{From: 7, To: 9, Delay: 30 * time.Minute},
	{From: 16, To: 18, Delay: 35 * time.Minute},
	{From: 10, To: 15, Delay: 15 * time.Minute},
}

// NewTimeOfDay builds the rush-hour heuristic. Hours are read in loc; nil
// means the instant's own location.
func NewTimeOfDay(loc *time.Location) *TimeOfDay {
	return &TimeOfDay{Bands: DefaultBands, OffPeak: 10 * time.Minute, loc: loc}
}

func (e *TimeOfDay) Estimate(ctx context.Context, _ string, at time.Time) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if e.loc != nil {
		at = at.In(e.loc)
	}
	h := at.Hour()
	for _, b := range e.Bands {
		if h >= b.From && h <= b.To {
			return b.Delay, nil
		}
	}
	return e.OffPeak, nil
}
