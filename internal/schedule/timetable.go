package schedule

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"transit-planner/internal/clock"
	"transit-planner/internal/transit"
)

//go:embed timetable.yaml
var defaultTimetable []byte

type timetableFile struct {
	Airport string      `yaml:"airport" validate:"required"`
	Routes  []routeFile `yaml:"routes" validate:"required,min=1,dive"`
}

type routeFile struct {
	Route       string     `yaml:"route" validate:"required"`
	Origin      string     `yaml:"origin" validate:"required"`
	Via         []string   `yaml:"via" validate:"dive,required"`
	BookingURL  string     `yaml:"booking_url" validate:"omitempty,url"`
	ToAirport   []tripFile `yaml:"to_airport" validate:"dive"`
	FromAirport []tripFile `yaml:"from_airport" validate:"dive"`
}

type tripFile struct {
	Departure string `yaml:"departure" validate:"required,wallclock"`
	Arrival   string `yaml:"arrival" validate:"required,wallclock"`
}

// Timetable serves legs from a static, day-independent timetable.
type Timetable struct {
	airport string
	hub     string
	to      map[string][]transit.Leg // lower-cased origin -> legs
	from    map[string][]transit.Leg
	origins map[string]string // lower-cased origin -> display name
	log     *zap.Logger
}

// DefaultTimetable returns the embedded Citylink 760 timetable.
func DefaultTimetable(hub string, log *zap.Logger) (*Timetable, error) {
	return ParseTimetable(defaultTimetable, hub, log)
}

// LoadTimetable reads a YAML timetable from path.
func LoadTimetable(path, hub string, log *zap.Logger) (*Timetable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timetable: %w", err)
	}
	return ParseTimetable(data, hub, log)
}

// ParseTimetable decodes and validates a YAML timetable. hub names the
// origin used when a requested origin has no route of its own.
func ParseTimetable(data []byte, hub string, log *zap.Logger) (*Timetable, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var f timetableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	}
	v := validator.New()
	if err := v.RegisterValidation("wallclock", func(fl validator.FieldLevel) bool {
		_, err := clock.ParseWallClock(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, err
	}
	if err := v.Struct(f); err != nil {
		return nil, fmt.Errorf("validate timetable: %w", err)
	}

	tt := &Timetable{
		airport: f.Airport,
		hub:     hub,
		to:      make(map[string][]transit.Leg),
		from:    make(map[string][]transit.Leg),
		origins: make(map[string]string),
		log:     log,
	}
	for _, r := range f.Routes {
		key := strings.ToLower(r.Origin)
		tt.origins[key] = r.Origin

		outbound := append(append([]string{r.Origin}, r.Via...), f.Airport)
		inbound := make([]string, len(outbound))
		for i, s := range outbound {
			inbound[len(outbound)-1-i] = s
		}
		tt.to[key] = append(tt.to[key], buildLegs(r, r.ToAirport, outbound)...)
		tt.from[key] = append(tt.from[key], buildLegs(r, r.FromAirport, inbound)...)
	}
	for _, m := range []map[string][]transit.Leg{tt.to, tt.from} {
		for k := range m {
			legs := m[k]
			sort.SliceStable(legs, func(i, j int) bool {
				return legs[i].Departure.Minutes() < legs[j].Departure.Minutes()
			})
		}
	}
	if hub != "" {
		if _, ok := tt.origins[strings.ToLower(hub)]; !ok {
			return nil, fmt.Errorf("fallback hub %q has no routes in timetable", hub)
		}
	}
	log.Debug("timetable loaded", zap.Int("origins", len(tt.origins)), zap.String("airport", f.Airport))
	return tt, nil
}

func buildLegs(r routeFile, trips []tripFile, stops []string) []transit.Leg {
	legs := make([]transit.Leg, 0, len(trips))
	for _, t := range trips {
		legs = append(legs, transit.Leg{
			Departure:  clock.MustParse(t.Departure),
			Arrival:    clock.MustParse(t.Arrival),
			Route:      r.Route,
			Stops:      append([]string(nil), stops...),
			BookingURL: r.BookingURL,
		})
	}
	return legs
}

// Airport is the airport stop name the timetable serves.
func (t *Timetable) Airport() string { return t.airport }

// Origins lists the origins with a direct route, sorted.
func (t *Timetable) Origins() []string {
	out := make([]string, 0, len(t.origins))
	for _, name := range t.origins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Fetch returns the legs for origin. The timetable does not vary by date.
func (t *Timetable) Fetch(ctx context.Context, origin string, date time.Time, dir transit.Direction) (transit.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return transit.Schedule{}, err
	}
	table := t.to
	if !dir.IsDeparture() {
		table = t.from
	}
	key := strings.ToLower(strings.TrimSpace(origin))
	if legs, ok := table[key]; ok && len(legs) > 0 {
		return transit.Schedule{
			Origin: t.origins[key],
			Legs:   annotate(legs, ""),
			Source: "timetable",
		}, nil
	}
	if t.hub == "" {
		return transit.Schedule{}, ErrNoData
	}
	hubKey := strings.ToLower(t.hub)
	legs := table[hubKey]
	if len(legs) == 0 {
		return transit.Schedule{}, ErrNoData
	}
	note := FallbackNote(origin, t.origins[hubKey])
	t.log.Info("no direct route, using hub",
		zap.String("origin", origin),
		zap.String("hub", t.origins[hubKey]),
		zap.String("direction", dir.String()),
		zap.String("date", date.Format(clock.DateLayout)))
	return transit.Schedule{
		Origin: t.origins[hubKey],
		Legs:   annotate(legs, note),
		Note:   note,
		Source: "timetable",
	}, nil
}
