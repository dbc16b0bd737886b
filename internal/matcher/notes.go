package matcher

import (
	"fmt"

	"transit-planner/internal/transit"
)

const NoOptionsNote = "No suitable transit options found. Consider alternative transportation."

// Narrate summarizes the best option in one sentence.
func Narrate(o transit.Option, dir transit.Direction) string {
	if dir.IsDeparture() {
		airport := o.Destination()
		if airport == "" {
			airport = "the airport"
		}
		slack := o.Margin()
		if o.IncludesTraffic && o.AdjustedArrival != nil {
			return fmt.Sprintf("Take the %s bus departing %s to arrive at %s at approximately %s. With traffic considerations, you should arrive around %s, giving you a %d minute buffer before your ideal airport arrival time.",
				o.Route, o.Departure, airport, o.Arrival, o.AdjustedArrival.Format("15:04"), slack)
		}
		return fmt.Sprintf("Take the %s bus departing %s to arrive at %s at approximately %s, giving you a %d minute buffer before your ideal airport arrival time.",
			o.Route, o.Departure, airport, o.Arrival, slack)
	}
	airport := "the airport"
	if len(o.Stops) > 0 {
		airport = o.Stops[0]
	}
	return fmt.Sprintf("After landing, take the %s bus departing %s at %s, which will arrive in %s at %s. You'll have a %d minute wait at the airport.",
		o.Route, airport, o.Departure, o.Destination(), o.Arrival, o.Margin())
}
