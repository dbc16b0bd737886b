package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"transit-planner/internal/fanout"
	"transit-planner/internal/transit"
)

// Source is a named provider taking part in a Composite.
type Source struct {
	Name     string
	Provider Provider
}

// FailureMetrics is notified when a source fails.
type FailureMetrics interface {
	ProviderErrInc(source string)
}

// Composite queries all sources concurrently and keeps the best answer.
// Sources are listed in priority order: the first direct schedule wins,
// otherwise the first fallback schedule.
type Composite struct {
	sources []Source
	timeout time.Duration
	metrics FailureMetrics
	log     *zap.Logger
}

func NewComposite(timeout time.Duration, m FailureMetrics, log *zap.Logger, sources ...Source) *Composite {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composite{sources: sources, timeout: timeout, metrics: m, log: log}
}

func (c *Composite) Fetch(ctx context.Context, origin string, date time.Time, dir transit.Direction) (transit.Schedule, error) {
	tasks := make([]fanout.Task[transit.Schedule], len(c.sources))
	for i, s := range c.sources {
		tasks[i] = fanout.Task[transit.Schedule]{
			Name: s.Name,
			Run: func(ctx context.Context) (transit.Schedule, error) {
				return s.Provider.Fetch(ctx, origin, date, dir)
			},
		}
	}
	outcomes := fanout.Gather(ctx, c.timeout, tasks...)

	status := make([]transit.SourceStatus, len(outcomes))
	var direct, fallback *transit.Schedule
	failures := 0
	var errs []error
	for i, o := range outcomes {
		st := transit.SourceStatus{Name: o.Name, OK: o.OK(), Elapsed: o.Elapsed.String()}
		switch {
		case errors.Is(o.Err, ErrNoData):
			st.OK = true
		case o.Err != nil:
			failures++
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
			st.Error = o.Err.Error()
			if c.metrics != nil {
				c.metrics.ProviderErrInc(o.Name)
			}
			c.log.Warn("schedule source failed",
				zap.String("source", o.Name),
				zap.String("origin", origin),
				zap.Duration("elapsed", o.Elapsed),
				zap.Error(o.Err))
		default:
			st.Legs = len(o.Value.Legs)
			if len(o.Value.Legs) > 0 {
				sched := o.Value
				if sched.Source == "" {
					sched.Source = o.Name
				}
				if !sched.IsFallback() && direct == nil {
					direct = &sched
				} else if sched.IsFallback() && fallback == nil {
					fallback = &sched
				}
			}
		}
		status[i] = st
	}

	best := direct
	if best == nil {
		best = fallback
	}
	if best != nil {
		out := *best
		out.Status = status
		return out, nil
	}
	if len(outcomes) > 0 && failures == len(outcomes) {
		return transit.Schedule{Status: status}, fmt.Errorf("all schedule sources failed: %w", errors.Join(errs...))
	}
	return transit.Schedule{Status: status}, ErrNoData
}
