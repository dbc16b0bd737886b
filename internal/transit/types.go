package transit

import (
	"time"

	"transit-planner/internal/clock"
)

// Direction tells which way the traveler moves relative to the airport.
type Direction int

const (
	// ToAirport: the flight departs, transit must reach the airport in time.
	ToAirport Direction = iota
	// FromAirport: the flight lands, transit must leave the airport after it.
	FromAirport
)

func DirectionFor(isDeparture bool) Direction {
	if isDeparture {
		return ToAirport
	}
	return FromAirport
}

func (d Direction) IsDeparture() bool { return d == ToAirport }

func (d Direction) String() string {
	if d == FromAirport {
		return "from_airport"
	}
	return "to_airport"
}

// Leg is one scheduled journey of a route on a service day.
type Leg struct {
	Departure  clock.WallClock `json:"departure"`
	Arrival    clock.WallClock `json:"arrival"`
	Route      string          `json:"route"`
	Stops      []string        `json:"stops"`
	BookingURL string          `json:"booking_url,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// DurationMinutes is arrival minus departure, wrapped past midnight.
func (l Leg) DurationMinutes() int { return clock.DurationMinutes(l.Departure, l.Arrival) }

// Destination is the last stop of the leg, or "" if it lists none.
func (l Leg) Destination() string {
	if len(l.Stops) == 0 {
		return ""
	}
	return l.Stops[len(l.Stops)-1]
}

// Constraint is a normalized planning request.
type Constraint struct {
	FlightInstant time.Time
	Direction     Direction
	Buffer        time.Duration // ToAirport only
}

// Target is the instant legs are judged against.
func (c Constraint) Target() time.Time {
	if c.Direction.IsDeparture() {
		return c.FlightInstant.Add(-c.Buffer)
	}
	return c.FlightInstant
}

// Option is a Leg anchored to a calendar day and evaluated against a Constraint.
type Option struct {
	Leg

	DurationMinutes   int        `json:"duration_minutes"`
	AnchoredDeparture time.Time  `json:"anchored_departure"`
	AnchoredArrival   time.Time  `json:"anchored_arrival"`
	AdjustedArrival   *time.Time `json:"adjusted_arrival_time,omitempty"`
	AdjustedDeparture *time.Time `json:"adjusted_departure_time,omitempty"`
	BufferMinutes     *int       `json:"buffer_minutes,omitempty"`
	WaitMinutes       *int       `json:"wait_minutes,omitempty"`
	IncludesTraffic   bool       `json:"includes_traffic_estimate"`
}

// Margin is the ranking key: slack for departures, wait for arrivals.
func (o Option) Margin() int {
	if o.BufferMinutes != nil {
		return *o.BufferMinutes
	}
	if o.WaitMinutes != nil {
		return *o.WaitMinutes
	}
	return 0
}

// SourceStatus records how one schedule source fared for a request.
type SourceStatus struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Legs    int    `json:"legs"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

// Schedule is a day's legs for an origin as returned by a provider.
type Schedule struct {
	Origin string         `json:"origin"`
	Legs   []Leg          `json:"legs"`
	Note   string         `json:"note,omitempty"` // set when a fallback origin was used
	Source string         `json:"source,omitempty"`
	Status []SourceStatus `json:"sources,omitempty"`
}

func (s Schedule) IsFallback() bool { return s.Note != "" }
