package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"transit-planner/internal/clock"
	"transit-planner/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Querier is the subset of *sql.DB the queries need.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// legsQuery selects, for every trip active on $1 (weekday $2), the boarding
// stop matching $3 and the alighting stop matching $4 that follows it. When
// a name matches several stops of a trip, the last boarding stop and the
// first alighting stop are kept.
//
// calendar has booleans (0/1). calendar_dates has exception_type (1 add, 2 remove).
const legsQuery = `
WITH base AS (
  SELECT service_id
  FROM calendar
  WHERE start_date <= $1::date AND end_date >= $1::date
    AND (
      ($2 = 0 AND (sunday::text IN ('1','t','true','available'))) OR
      ($2 = 1 AND (monday::text IN ('1','t','true','available'))) OR
      ($2 = 2 AND (tuesday::text IN ('1','t','true','available'))) OR
      ($2 = 3 AND (wednesday::text IN ('1','t','true','available'))) OR
      ($2 = 4 AND (thursday::text IN ('1','t','true','available'))) OR
      ($2 = 5 AND (friday::text IN ('1','t','true','available'))) OR
      ($2 = 6 AND (saturday::text IN ('1','t','true','available')))
    )
), add_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('1','added'))
), rm_exc AS (
  SELECT service_id FROM calendar_dates WHERE date = $1::date AND (exception_type::text IN ('2','removed'))
), active AS (
  SELECT service_id FROM base
  UNION
  SELECT service_id FROM add_exc
  EXCEPT
  SELECT service_id FROM rm_exc
)
SELECT DISTINCT ON (t.trip_id)
       t.trip_id,
       COALESCE(NULLIF(r.route_short_name, ''), r.route_id) AS route,
       COALESCE(r.route_url, '') AS route_url,
       bs.stop_name,
       COALESCE(b.departure_time::text, b.arrival_time::text) AS board_time,
       asp.stop_name,
       COALESCE(a.arrival_time::text, a.departure_time::text) AS alight_time
FROM trips t
JOIN active s ON s.service_id = t.service_id
JOIN routes r ON r.route_id = t.route_id
JOIN stop_times b ON b.trip_id = t.trip_id
JOIN stops bs ON bs.stop_id = b.stop_id
JOIN stop_times a ON a.trip_id = t.trip_id AND a.stop_sequence > b.stop_sequence
JOIN stops asp ON asp.stop_id = a.stop_id
WHERE bs.stop_name ILIKE '%' || $3 || '%'
  AND asp.stop_name ILIKE '%' || $4 || '%'
ORDER BY t.trip_id, b.stop_sequence DESC, a.stop_sequence ASC`

// DayAnchor names the end of a leg that decides which calendar day it runs on.
type DayAnchor int

const (
	// AnchorAlight places a leg on the day it reaches the alighting stop.
	AnchorAlight DayAnchor = iota
	// AnchorBoard places a leg on the day it leaves the boarding stop.
	AnchorBoard
)

const daySeconds = 24 * 3600

// FetchLegs returns the legs from a stop named like from to a stop named like
// to whose anchor end falls on the calendar day date, ordered by boarding
// time. GTFS times past 24:00 belong to the previous service day, so trips of
// both date and the day before are read: date's trips anchored before 24:00
// and the previous day's trips anchored at or after it. Times are then
// folded onto the wall clock.
func FetchLegs(ctx context.Context, q Querier, date time.Time, from, to string, anchor DayAnchor) ([]transit.Leg, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("both stop names are required")
	}
	prev := date.AddDate(0, 0, -1)

	var out []legRow
	for _, svc := range []struct {
		day   time.Time
		carry bool
	}{{date, false}, {prev, true}} {
		rows, err := queryLegs(ctx, q, svc.day, from, to)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			at := r.alight
			if anchor == AnchorBoard {
				at = r.board
			}
			if (at >= daySeconds) != svc.carry {
				continue
			}
			if svc.carry {
				r.board -= daySeconds
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].board < out[j].board })
	legs := make([]transit.Leg, len(out))
	for i, r := range out {
		legs[i] = r.leg
	}
	return legs, nil
}

type legRow struct {
	leg           transit.Leg
	board, alight int // seconds after midnight of the service day
}

func queryLegs(ctx context.Context, q Querier, day time.Time, from, to string) ([]legRow, error) {
	rows, err := q.QueryContext(ctx, legsQuery, day.Format(clock.DateLayout), int(day.Weekday()), from, to)
	if err != nil {
		return nil, fmt.Errorf("query legs: %w", err)
	}
	defer rows.Close()

	var out []legRow
	for rows.Next() {
		var tripID, route, url, boardStop, boardT, alightStop, alightT string
		if err := rows.Scan(&tripID, &route, &url, &boardStop, &boardT, &alightStop, &alightT); err != nil {
			return nil, err
		}
		boardSec, ok := parseDaySeconds(boardT)
		if !ok {
			continue
		}
		alightSec, ok := parseDaySeconds(alightT)
		if !ok {
			continue
		}
		out = append(out, legRow{
			board:  boardSec,
			alight: alightSec,
			leg: transit.Leg{
				Departure:  clock.FromDaySeconds(boardSec),
				Arrival:    clock.FromDaySeconds(alightSec),
				Route:      route,
				Stops:      []string{boardStop, alightStop},
				BookingURL: url,
			},
		})
	}
	return out, rows.Err()
}

// parseDaySeconds parses HH:MM[:SS] possibly with hours >= 24.
func parseDaySeconds(s string) (int, bool) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec := 0
	if len(parts) > 2 {
		if sec, err = strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return h*3600 + m*60 + sec, true
}
