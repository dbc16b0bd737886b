package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-planner/internal/clock"
	"transit-planner/internal/schedule"
	"transit-planner/internal/traffic"
	"transit-planner/internal/transit"
)

type recordingMetrics struct {
	mu       sync.Mutex
	plans    []string
	failures []string
	delays   []time.Duration
}

func (r *recordingMetrics) PlanObserve(direction, outcome string, _ time.Duration, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, direction+"/"+outcome)
}

func (r *recordingMetrics) ProviderErrInc(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, source)
}

func (r *recordingMetrics) TrafficDelayObserve(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func leg(dep, arr string, stops ...string) transit.Leg {
	if len(stops) == 0 {
		stops = []string{"Tuam", "Galway", "Dublin Airport"}
	}
	return transit.Leg{Departure: clock.MustParse(dep), Arrival: clock.MustParse(arr), Route: "760", Stops: stops}
}

func staticProvider(legs ...transit.Leg) schedule.Provider {
	return schedule.ProviderFunc(func(context.Context, string, time.Time, transit.Direction) (transit.Schedule, error) {
		return transit.Schedule{Origin: "Tuam", Legs: legs}, nil
	})
}

func timetable(t *testing.T) schedule.Provider {
	t.Helper()
	tt, err := schedule.DefaultTimetable("Galway", nil)
	require.NoError(t, err)
	return tt
}

func departure(date, tm string, bufferHours float64, traffic bool) Request {
	r := NewRequest(date, tm)
	r.BufferHours = bufferHours
	r.IncludeTraffic = traffic
	return r
}

func arrival(date, tm string) Request {
	r := NewRequest(date, tm)
	r.IsDeparture = false
	return r
}

func TestScenarioA_SlackAgainstBufferedTarget(t *testing.T) {
	m := New(staticProvider(leg("08:35", "11:45")), nil, Config{Location: time.UTC})

	res, err := m.Plan(context.Background(), departure("2025-06-10", "14:00", 2, false))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), *res.TargetInstant)
	require.Len(t, res.Options, 1)

	o := res.Options[0]
	assert.Equal(t, time.Date(2025, 6, 10, 11, 45, 0, 0, time.UTC), o.AnchoredArrival)
	assert.Equal(t, time.Date(2025, 6, 10, 8, 35, 0, 0, time.UTC), o.AnchoredDeparture)
	require.NotNil(t, o.BufferMinutes)
	assert.Equal(t, 15, *o.BufferMinutes)
	assert.False(t, o.IncludesTraffic)
	assert.Equal(t, 190, o.DurationMinutes)
	assert.Equal(t, 0, res.TrafficDelay)
}

func TestScenarioB_NoShiftForEarlyMorningFlight(t *testing.T) {
	overnight := leg("22:00", "00:45", "Galway", "Dublin Airport")
	assert.Equal(t, 165, overnight.DurationMinutes())

	// Flight at 02:00 with a 1h buffer: target 01:00. The leg must stay on
	// the flight's own date, so it arrives 00:45 and qualifies.
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := transit.Constraint{FlightInstant: date.Add(2 * time.Hour), Direction: transit.ToAirport, Buffer: time.Hour}
	opts := Evaluate([]transit.Leg{overnight}, date, c, 0)
	require.Len(t, opts, 1)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 45, 0, 0, time.UTC), opts[0].AnchoredArrival)
	assert.Equal(t, 15, *opts[0].BufferMinutes)
	assert.Equal(t, 165, opts[0].DurationMinutes)

	// With the default 2h buffer the target is midnight and the leg misses it.
	c.Buffer = 2 * time.Hour
	assert.Empty(t, Evaluate([]transit.Leg{overnight}, date, c, 0))
}

func TestScenarioC_NothingQualifies(t *testing.T) {
	m := New(staticProvider(leg("08:35", "11:45"), leg("09:35", "12:45")), nil, Config{Location: time.UTC})

	res, err := m.Plan(context.Background(), departure("2025-06-10", "06:00", 2, false))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, res.Options)
	assert.Empty(t, res.Options)
	assert.Equal(t, NoOptionsNote, res.Notes)
}

func TestScenarioD_TrafficExcludesTightLeg(t *testing.T) {
	legs := []transit.Leg{leg("08:35", "11:40"), leg("07:35", "10:45")}

	// Without traffic the 11:40 arrival leaves 20 minutes of slack.
	noTraffic := New(staticProvider(legs...), traffic.Fixed(0), Config{Location: time.UTC})
	res, err := noTraffic.Plan(context.Background(), departure("2025-06-10", "14:00", 2, true))
	require.NoError(t, err)
	require.Len(t, res.Options, 2)
	assert.Equal(t, 20, *res.Options[0].BufferMinutes)

	withTraffic := New(staticProvider(legs...), traffic.Fixed(30*time.Minute), Config{Location: time.UTC})
	res, err = withTraffic.Plan(context.Background(), departure("2025-06-10", "14:00", 2, true))
	require.NoError(t, err)
	require.Len(t, res.Options, 1)
	o := res.Options[0]
	assert.Equal(t, clock.MustParse("10:45"), o.Arrival)
	assert.Equal(t, o.AnchoredArrival.Add(30*time.Minute), *o.AdjustedArrival)
	assert.Equal(t, 45, *o.BufferMinutes)
	assert.True(t, o.IncludesTraffic)
	assert.Equal(t, 30, res.TrafficDelay)
}

func TestDepartureRolloverForLateFlight(t *testing.T) {
	m := New(timetable(t), nil, Config{Location: time.UTC})

	// Flight 23:30, 30 minute buffer: target 23:00. The 21:35 leg arrives
	// 00:45 the next day and must not count as arriving early.
	res, err := m.Plan(context.Background(), departure("2025-06-10", "23:30", 0.5, false))
	require.NoError(t, err)
	require.NotEmpty(t, res.Options)
	for _, o := range res.Options {
		assert.NotEqual(t, clock.MustParse("21:35"), o.Departure)
	}
	assert.Equal(t, clock.MustParse("19:35"), res.Options[0].Departure)
	assert.Equal(t, 15, *res.Options[0].BufferMinutes)

	opts := Evaluate([]transit.Leg{leg("21:35", "00:45")},
		time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		transit.Constraint{FlightInstant: time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC), Direction: transit.ToAirport, Buffer: -2 * time.Hour},
		0)
	require.Len(t, opts, 1)
	assert.Equal(t, time.Date(2025, 6, 11, 0, 45, 0, 0, time.UTC), opts[0].AnchoredArrival)
	assert.Equal(t, time.Date(2025, 6, 10, 21, 35, 0, 0, time.UTC), opts[0].AnchoredDeparture)
}

func TestArrivalRanksByWait(t *testing.T) {
	m := New(timetable(t), traffic.Fixed(time.Hour), Config{Location: time.UTC})

	res, err := m.Plan(context.Background(), arrival("2025-06-10", "14:20"))
	require.NoError(t, err)
	require.Len(t, res.Options, 3)
	assert.Equal(t, 0, res.TrafficDelay)

	waits := []int{*res.Options[0].WaitMinutes, *res.Options[1].WaitMinutes, *res.Options[2].WaitMinutes}
	assert.Equal(t, []int{40, 100, 160}, waits)
	assert.Nil(t, res.Options[0].BufferMinutes)
	assert.False(t, res.Options[0].IncludesTraffic)
	assert.Equal(t,
		"After landing, take the 760 bus departing Dublin Airport at 15:00, which will arrive in Tuam at 18:10. You'll have a 40 minute wait at the airport.",
		res.Notes)
}

func TestArrivalIgnoresTrafficEstimator(t *testing.T) {
	calls := 0
	est := traffic.EstimatorFunc(func(context.Context, string, time.Time) (time.Duration, error) {
		calls++
		return time.Hour, nil
	})
	m := New(timetable(t), est, Config{Location: time.UTC})
	_, err := m.Plan(context.Background(), arrival("2025-06-10", "09:00"))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestArrivalRolloverForRedEye(t *testing.T) {
	date := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	c := transit.Constraint{FlightInstant: date.Add(90 * time.Minute), Direction: transit.FromAirport}
	legs := []transit.Leg{
		leg("23:45", "02:55", "Dublin Airport", "Galway", "Tuam"),
		leg("21:30", "00:40", "Dublin Airport", "Galway", "Tuam"),
		leg("05:30", "08:40", "Dublin Airport", "Galway", "Tuam"),
	}

	opts := Evaluate(legs, date, c, 0)
	require.Len(t, opts, 2)
	assert.Equal(t, clock.MustParse("05:30"), opts[0].Departure)
	assert.Equal(t, 240, *opts[0].WaitMinutes)
	assert.Equal(t, clock.MustParse("21:30"), opts[1].Departure)
	assert.Equal(t, 1200, *opts[1].WaitMinutes)
	assert.Equal(t, time.Date(2025, 6, 11, 0, 40, 0, 0, time.UTC), opts[1].AnchoredArrival)
}

func TestDepartureProperties(t *testing.T) {
	m := New(timetable(t), traffic.NewTimeOfDay(time.UTC), Config{Location: time.UTC})
	for h := 0; h < 24; h++ {
		for _, mins := range []int{0, 20, 45} {
			tm := fmt.Sprintf("%02d:%02d", h, mins)
			req := departure("2025-06-10", tm, 2, true)
			req.Options = 50
			res, err := m.Plan(context.Background(), req)
			require.NoError(t, err, tm)
			prev := -1
			for _, o := range res.Options {
				require.NotNil(t, o.AdjustedArrival)
				assert.False(t, o.AdjustedArrival.After(*res.TargetInstant), tm)
				assert.GreaterOrEqual(t, *o.BufferMinutes, 0, tm)
				assert.GreaterOrEqual(t, *o.BufferMinutes, prev, tm)
				prev = *o.BufferMinutes
			}
		}
	}
}

func TestArrivalProperties(t *testing.T) {
	m := New(timetable(t), nil, Config{Location: time.UTC})
	for h := 0; h < 24; h++ {
		tm := fmt.Sprintf("%02d:10", h)
		req := arrival("2025-06-10", tm)
		req.Origin = "Galway"
		req.Options = 50
		res, err := m.Plan(context.Background(), req)
		require.NoError(t, err, tm)
		prev := -1
		for _, o := range res.Options {
			assert.False(t, o.AnchoredDeparture.Before(*res.TargetInstant), tm)
			assert.GreaterOrEqual(t, *o.WaitMinutes, 0, tm)
			assert.GreaterOrEqual(t, *o.WaitMinutes, prev, tm)
			prev = *o.WaitMinutes
		}
	}
}

func TestPlanIsIdempotent(t *testing.T) {
	m := New(timetable(t), traffic.NewTimeOfDay(time.UTC), Config{Location: time.UTC})
	req := departure("2025-06-10", "17:10", 2, true)

	a, err := m.Plan(context.Background(), req)
	require.NoError(t, err)
	b, err := m.Plan(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.Equal(t, a.Options, b.Options)
	assert.Equal(t, a.Notes, b.Notes)
	assert.Equal(t, a.TargetInstant, b.TargetInstant)
}

func TestPlanTruncatesToRequestedCount(t *testing.T) {
	m := New(timetable(t), nil, Config{Location: time.UTC})
	req := departure("2025-06-10", "20:00", 2, false)
	req.Options = 2
	res, err := m.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Options, 2)

	req.Options = 0
	res, err = m.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Options, DefaultOptions)
}

func TestPlanDepartureNarrative(t *testing.T) {
	m := New(timetable(t), traffic.Fixed(15*time.Minute), Config{Location: time.UTC})
	res, err := m.Plan(context.Background(), departure("2025-06-10", "14:30", 2, true))
	require.NoError(t, err)
	require.NotEmpty(t, res.Options)
	assert.Equal(t,
		"Take the 760 bus departing 08:35 to arrive at Dublin Airport at approximately 11:45. With traffic considerations, you should arrive around 12:00, giving you a 30 minute buffer before your ideal airport arrival time.",
		res.Notes)
}

func TestPlanPassesFallbackNoteThrough(t *testing.T) {
	m := New(timetable(t), nil, Config{Location: time.UTC})
	req := departure("2025-06-10", "14:00", 2, false)
	req.Origin = "Athlone"

	res, err := m.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, schedule.FallbackNote("Athlone", "Galway"), res.SourceNote)
	require.NotEmpty(t, res.Options)
	assert.Equal(t, res.SourceNote, res.Options[0].Note)
	// Galway's 09:00 leg arrives 11:45 like Tuam's 08:35: ranking is unchanged.
	assert.Equal(t, 15, *res.Options[0].BufferMinutes)
}

func TestPlanNoDataIsSuccessfulAndEmpty(t *testing.T) {
	rec := &recordingMetrics{}
	empty := schedule.ProviderFunc(func(context.Context, string, time.Time, transit.Direction) (transit.Schedule, error) {
		return transit.Schedule{}, schedule.ErrNoData
	})
	m := New(empty, nil, Config{Location: time.UTC, Metrics: rec})

	res, err := m.Plan(context.Background(), departure("2025-06-10", "14:00", 2, false))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Options)
	assert.Equal(t, NoOptionsNote, res.Notes)
	assert.Equal(t, []string{"to_airport/no_data"}, rec.plans)
}

func TestPlanScheduleFailureIsFatal(t *testing.T) {
	rec := &recordingMetrics{}
	broken := schedule.ProviderFunc(func(context.Context, string, time.Time, transit.Direction) (transit.Schedule, error) {
		return transit.Schedule{}, errors.New("timetable service unreachable")
	})
	m := New(broken, nil, Config{Location: time.UTC, Metrics: rec})

	_, err := m.Plan(context.Background(), departure("2025-06-10", "14:00", 2, false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Contains(t, err.Error(), "timetable service unreachable")

	res := m.Respond(context.Background(), departure("2025-06-10", "14:00", 2, false))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "schedule provider failure")
	assert.Nil(t, res.Options)
	assert.Equal(t, []string{"to_airport/provider_failure", "to_airport/provider_failure"}, rec.plans)
}

func TestPlanTrafficFailureDegradesToZero(t *testing.T) {
	rec := &recordingMetrics{}
	est := traffic.EstimatorFunc(func(context.Context, string, time.Time) (time.Duration, error) {
		return 0, errors.New("traffic api timeout")
	})
	m := New(staticProvider(leg("08:35", "11:45")), est, Config{Location: time.UTC, Metrics: rec})

	res, err := m.Plan(context.Background(), departure("2025-06-10", "14:00", 2, true))
	require.NoError(t, err)
	require.Len(t, res.Options, 1)
	assert.Equal(t, 15, *res.Options[0].BufferMinutes)
	assert.Equal(t, 0, res.TrafficDelay)
	assert.Equal(t, []string{"traffic"}, rec.failures)
}

func TestPlanInvalidInput(t *testing.T) {
	m := New(timetable(t), nil, Config{Location: time.UTC})
	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"missing date", NewRequest("", "14:00"), "flight_date is required"},
		{"missing time", NewRequest("2025-06-10", ""), "flight_time is required"},
		{"bad date", NewRequest("10/06/2025", "14:00"), "flight_date"},
		{"bad time", NewRequest("2025-06-10", "25:00"), "flight_time"},
		{"negative buffer", departure("2025-06-10", "14:00", -1, false), "airport_buffer_hours is out of range"},
		{"negative options", func() Request { r := NewRequest("2025-06-10", "14:00"); r.Options = -1; return r }(), "return_options"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Plan(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)

			res := m.Respond(context.Background(), tt.req)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestPlanDefaultsOrigin(t *testing.T) {
	m := New(timetable(t), nil, Config{Location: time.UTC})
	req := departure("2025-06-10", "14:00", 2, false)
	req.Origin = "  "
	res, err := m.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DefaultOrigin, res.Origin)
	assert.Empty(t, res.SourceNote)
}

func TestPlanFractionalBuffer(t *testing.T) {
	m := New(staticProvider(leg("08:35", "11:45")), nil, Config{Location: time.UTC})
	res, err := m.Plan(context.Background(), departure("2025-06-10", "14:00", 1.5, false))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC), *res.TargetInstant)
	assert.Equal(t, 45, *res.Options[0].BufferMinutes)
}
