package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	secondsPerDay = MinutesPerDay * 60

	DateLayout = "2006-01-02"
)

// Rollover thresholds. Overnight legs are rare outside a narrow
// late-night/pre-dawn window, so the matcher only shifts a leg to the
// adjacent calendar day when both the leg and the flight fall inside it.
const (
	// PreDawnHour: a leg arriving before this hour may belong to the next day.
	PreDawnHour = 3
	// LateFlightHour: flights after this hour pull pre-dawn arrivals forward.
	LateFlightHour = 20
	// LateDepartureHour: a leg departing after this hour may belong to the previous day.
	LateDepartureHour = 21
	// RedEyeHour: landings before this hour pull late departures back.
	RedEyeHour = 3
)

var ErrInvalidTime = errors.New("invalid wall-clock time")

// WallClock is a time of day with no date attached.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock parses "HH:MM" or "HH:MM:SS". Seconds are accepted and dropped.
func ParseWallClock(s string) (WallClock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return WallClock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return WallClock{}, fmt.Errorf("%w: hour in %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return WallClock{}, fmt.Errorf("%w: minute in %q", ErrInvalidTime, s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return WallClock{}, fmt.Errorf("%w: second in %q", ErrInvalidTime, s)
		}
	}
	return WallClock{Hour: h, Minute: m}, nil
}

// MustParse is ParseWallClock for literals known to be valid.
func MustParse(s string) WallClock {
	wc, err := ParseWallClock(s)
	if err != nil {
		panic(err)
	}
	return wc
}

// FromDaySeconds folds GTFS service-day seconds (which may exceed 24h for
// trips running past midnight) into a wall clock.
func FromDaySeconds(sec int) WallClock {
	sec %= secondsPerDay
	if sec < 0 {
		sec += secondsPerDay
	}
	return WallClock{Hour: sec / 3600, Minute: (sec % 3600) / 60}
}

// Minutes returns minutes since midnight.
func (w WallClock) Minutes() int { return w.Hour*60 + w.Minute }

func (w WallClock) String() string { return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute) }

func (w WallClock) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *WallClock) UnmarshalText(b []byte) error {
	wc, err := ParseWallClock(string(b))
	if err != nil {
		return err
	}
	*w = wc
	return nil
}

// DurationMinutes returns the minutes from dep to arr, wrapping past
// midnight when arr is numerically earlier. Always in [0, 1439].
func DurationMinutes(dep, arr WallClock) int {
	d := arr.Minutes() - dep.Minutes()
	if d < 0 {
		d += MinutesPerDay
	}
	return d
}

// Rollover selects the calendar day a wall clock is anchored to, relative
// to the reference day.
type Rollover int

const (
	SameDay Rollover = iota
	NextDay
	PreviousDay
)

func (r Rollover) String() string {
	switch r {
	case NextDay:
		return "next_day"
	case PreviousDay:
		return "previous_day"
	default:
		return "same_day"
	}
}

// Anchor combines w with the calendar date of day (in day's location),
// shifted by r.
func Anchor(w WallClock, day time.Time, r Rollover) time.Time {
	y, m, d := day.Date()
	switch r {
	case NextDay:
		d++
	case PreviousDay:
		d--
	}
	return time.Date(y, m, d, w.Hour, w.Minute, 0, 0, day.Location())
}

// ArrivesAfterMidnight reports whether a leg arriving at arrival belongs to
// the day after a flight at flightHour.
func ArrivesAfterMidnight(arrival WallClock, flightHour int) bool {
	return arrival.Hour < PreDawnHour && flightHour > LateFlightHour
}

// DepartsNightBefore reports whether a leg departing at departure belongs to
// the day before a landing at flightHour.
func DepartsNightBefore(departure WallClock, flightHour int) bool {
	return departure.Hour > LateDepartureHour && flightHour < RedEyeHour
}

// ParseDate parses a YYYY-MM-DD calendar date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Combine returns the absolute instant of w on date.
func Combine(date time.Time, w WallClock) time.Time {
	return Anchor(w, date, SameDay)
}

// RoundMinutes rounds d to whole minutes, half away from zero.
func RoundMinutes(d time.Duration) int {
	return int(d.Round(time.Minute) / time.Minute)
}
