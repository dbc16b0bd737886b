// Package matcher plans ground transit around a flight.
//
// Given a flight date and time, the matcher fetches the day's legs for an
// origin, anchors their wall-clock times to the flight's calendar day
// (shifting overnight legs by a day where the rollover heuristics apply),
// penalizes airport-bound arrivals by the estimated traffic delay and ranks
// the qualifying legs by how little time they leave unused.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"transit-planner/internal/clock"
	"transit-planner/internal/schedule"
	"transit-planner/internal/traffic"
	"transit-planner/internal/transit"
)

// Metrics receives per-plan observations.
type Metrics interface {
	PlanObserve(direction, outcome string, d time.Duration, options int)
	ProviderErrInc(source string)
	TrafficDelayObserve(d time.Duration)
}

type Config struct {
	Location *time.Location // zone flight dates and times are read in
	Metrics  Metrics
	Logger   *zap.Logger
}

// Matcher is safe for concurrent use; it holds no per-request state.
type Matcher struct {
	schedules schedule.Provider
	traffic   traffic.Estimator
	loc       *time.Location
	metrics   Metrics
	log       *zap.Logger
}

// New returns a matcher. est may be nil, in which case no traffic delay is
// ever applied.
func New(schedules schedule.Provider, est traffic.Estimator, cfg Config) *Matcher {
	m := &Matcher{
		schedules: schedules,
		traffic:   est,
		loc:       cfg.Location,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

type FlightDetails struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	IsDeparture bool   `json:"is_departure"`
}

// Result is the outcome of one planning request, best option first.
type Result struct {
	RequestID     string                 `json:"request_id"`
	Success       bool                   `json:"success"`
	Origin        string                 `json:"origin,omitempty"`
	FlightDetails *FlightDetails         `json:"flight_details,omitempty"`
	TargetInstant *time.Time             `json:"target_instant,omitempty"`
	Options       []transit.Option       `json:"options"`
	TrafficDelay  int                    `json:"estimated_traffic_delay_minutes"`
	Notes         string                 `json:"notes,omitempty"`
	SourceNote    string                 `json:"source_note,omitempty"`
	Sources       []transit.SourceStatus `json:"sources,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Plan runs one request. The returned error wraps ErrInvalidInput or
// ErrProviderFailure; "no data" and "nothing qualifies" are successful,
// empty results.
func (m *Matcher) Plan(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	dirLabel := transit.DirectionFor(req.IsDeparture).String()

	n, err := req.normalize(m.loc)
	if err != nil {
		m.observe(dirLabel, "invalid_input", start, 0)
		return nil, err
	}
	c := n.constraint
	target := c.Target()

	sched, delay, err := m.fetch(ctx, n, target)
	res := &Result{
		RequestID: uuid.NewString(),
		Success:   true,
		Origin:    n.origin,
		FlightDetails: &FlightDetails{
			Date:        req.FlightDate,
			Time:        req.FlightTime,
			IsDeparture: c.Direction.IsDeparture(),
		},
		TargetInstant: &target,
		Options:       []transit.Option{},
		TrafficDelay:  clock.RoundMinutes(delay),
		Sources:       sched.Status,
	}
	switch {
	case errors.Is(err, schedule.ErrNoData):
		m.log.Info("no schedule data",
			zap.String("request_id", res.RequestID),
			zap.String("origin", n.origin),
			zap.String("date", n.date.Format(clock.DateLayout)))
		res.Notes = NoOptionsNote
		m.observe(dirLabel, "no_data", start, 0)
		return res, nil
	case err != nil:
		m.observe(dirLabel, "provider_failure", start, 0)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	opts := Evaluate(sched.Legs, n.date, c, delay)
	if len(opts) > n.options {
		opts = opts[:n.options]
	}
	res.Options = opts
	res.SourceNote = sched.Note
	if len(opts) > 0 {
		res.Notes = Narrate(opts[0], c.Direction)
	} else {
		res.Notes = NoOptionsNote
	}

	outcome := "ok"
	if len(opts) == 0 {
		outcome = "empty"
	}
	m.observe(dirLabel, outcome, start, len(opts))
	m.log.Debug("plan computed",
		zap.String("request_id", res.RequestID),
		zap.String("origin", n.origin),
		zap.String("direction", dirLabel),
		zap.Time("target", target),
		zap.Int("legs", len(sched.Legs)),
		zap.Int("options", len(opts)),
		zap.Duration("traffic_delay", delay),
		zap.Bool("fallback", sched.IsFallback()))
	return res, nil
}

// Respond is Plan with fatal errors folded into an unsuccessful Result.
func (m *Matcher) Respond(ctx context.Context, req Request) *Result {
	res, err := m.Plan(ctx, req)
	if err != nil {
		m.log.Warn("plan failed",
			zap.String("origin", req.Origin),
			zap.String("flight_date", req.FlightDate),
			zap.String("flight_time", req.FlightTime),
			zap.Error(err))
		return &Result{RequestID: uuid.NewString(), Success: false, Error: err.Error()}
	}
	return res
}

// fetch gets the schedule and, for departures with traffic enabled, the
// delay estimate concurrently. A failed estimate degrades to zero delay.
func (m *Matcher) fetch(ctx context.Context, n normalized, target time.Time) (transit.Schedule, time.Duration, error) {
	var (
		sched    transit.Schedule
		schedErr error
		delay    time.Duration
	)
	var g errgroup.Group
	g.Go(func() error {
		sched, schedErr = m.schedules.Fetch(ctx, n.origin, n.date, n.constraint.Direction)
		return nil
	})
	if n.traffic && n.constraint.Direction.IsDeparture() && m.traffic != nil {
		g.Go(func() error {
			d, err := m.traffic.Estimate(ctx, n.origin, target)
			if err != nil {
				m.log.Warn("traffic estimate failed, assuming no delay",
					zap.String("origin", n.origin), zap.Time("target", target), zap.Error(err))
				if m.metrics != nil {
					m.metrics.ProviderErrInc("traffic")
				}
				return nil
			}
			if d < 0 {
				d = 0
			}
			delay = d
			if m.metrics != nil {
				m.metrics.TrafficDelayObserve(d)
			}
			return nil
		})
	}
	_ = g.Wait()
	return sched, delay, schedErr
}

func (m *Matcher) observe(direction, outcome string, start time.Time, options int) {
	if m.metrics != nil {
		m.metrics.PlanObserve(direction, outcome, time.Since(start), options)
	}
}

// Evaluate anchors every leg to date, keeps those satisfying c and returns
// them ordered by ascending slack (departures) or wait (arrivals). delay is
// added to anchored airport arrivals and ignored for arrivals at the airport.
func Evaluate(legs []transit.Leg, date time.Time, c transit.Constraint, delay time.Duration) []transit.Option {
	target := c.Target()
	flightHour := c.FlightInstant.Hour()
	opts := make([]transit.Option, 0, len(legs))
	for _, leg := range legs {
		dur := time.Duration(leg.DurationMinutes()) * time.Minute
		if c.Direction.IsDeparture() {
			r := clock.SameDay
			if clock.ArrivesAfterMidnight(leg.Arrival, flightHour) {
				r = clock.NextDay
			}
			arr := clock.Anchor(leg.Arrival, date, r)
			adjusted := arr.Add(delay)
			if adjusted.After(target) {
				continue
			}
			slack := clock.RoundMinutes(target.Sub(adjusted))
			opts = append(opts, transit.Option{
				Leg:               leg,
				DurationMinutes:   leg.DurationMinutes(),
				AnchoredDeparture: arr.Add(-dur),
				AnchoredArrival:   arr,
				AdjustedArrival:   &adjusted,
				BufferMinutes:     &slack,
				IncludesTraffic:   delay > 0,
			})
			continue
		}

		r := clock.SameDay
		if clock.DepartsNightBefore(leg.Departure, flightHour) {
			r = clock.PreviousDay
		}
		dep := clock.Anchor(leg.Departure, date, r)
		if dep.Before(target) {
			continue
		}
		wait := clock.RoundMinutes(dep.Sub(target))
		opts = append(opts, transit.Option{
			Leg:               leg,
			DurationMinutes:   leg.DurationMinutes(),
			AnchoredDeparture: dep,
			AnchoredArrival:   dep.Add(dur),
			AdjustedDeparture: &dep,
			WaitMinutes:       &wait,
		})
	}
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Margin() < opts[j].Margin() })
	return opts
}
