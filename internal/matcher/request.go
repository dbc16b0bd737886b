package matcher

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"transit-planner/internal/clock"
	"transit-planner/internal/transit"
)

const (
	DefaultOrigin      = "Tuam"
	DefaultBufferHours = 2.0
	DefaultOptions     = 3
)

var (
	// ErrInvalidInput marks requests with missing or unparsable fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProviderFailure marks requests whose schedule could not be fetched.
	ErrProviderFailure = errors.New("schedule provider failure")
)

// Request is a planning request as callers submit it. Decode JSON into
// NewRequest's result so absent fields keep their defaults.
type Request struct {
	Origin         string  `json:"origin"`
	FlightDate     string  `json:"flight_date" validate:"required"`
	FlightTime     string  `json:"flight_time" validate:"required"`
	IsDeparture    bool    `json:"is_departure"`
	BufferHours    float64 `json:"airport_buffer_hours" validate:"gte=0,lte=24"`
	Options        int     `json:"return_options" validate:"gte=0"`
	IncludeTraffic bool    `json:"include_traffic"`
}

// NewRequest returns a departure request with the default origin, buffer,
// option count and traffic estimation enabled.
func NewRequest(date, tm string) Request {
	return Request{
		Origin:         DefaultOrigin,
		FlightDate:     date,
		FlightTime:     tm,
		IsDeparture:    true,
		BufferHours:    DefaultBufferHours,
		Options:        DefaultOptions,
		IncludeTraffic: true,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalized is a validated request.
type normalized struct {
	origin     string
	date       time.Time
	constraint transit.Constraint
	options    int
	traffic    bool
}

func (r Request) normalize(loc *time.Location) (normalized, error) {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return normalized{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, fe.Field())
			}
			return normalized{}, fmt.Errorf("%w: %s is out of range", ErrInvalidInput, fe.Field())
		}
		return normalized{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	date, err := clock.ParseDate(r.FlightDate, loc)
	if err != nil {
		return normalized{}, fmt.Errorf("%w: flight_date: %v", ErrInvalidInput, err)
	}
	wc, err := clock.ParseWallClock(r.FlightTime)
	if err != nil {
		return normalized{}, fmt.Errorf("%w: flight_time: %v", ErrInvalidInput, err)
	}
	origin := strings.TrimSpace(r.Origin)
	if origin == "" {
		origin = DefaultOrigin
	}
	n := r.Options
	if n == 0 {
		n = DefaultOptions
	}
	dir := transit.DirectionFor(r.IsDeparture)
	c := transit.Constraint{
		FlightInstant: clock.Combine(date, wc),
		Direction:     dir,
	}
	if dir.IsDeparture() {
		c.Buffer = time.Duration(r.BufferHours * float64(time.Hour))
	}
	return normalized{
		origin:     origin,
		date:       date,
		constraint: c,
		options:    n,
		traffic:    r.IncludeTraffic,
	}, nil
}
