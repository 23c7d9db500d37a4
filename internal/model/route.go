package model

import (
	"iter"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
)

// NoActiveWaypoint marks a route that is planned but not being followed.
const NoActiveWaypoint = -1

// Waypoint is a named route position. Heading and SpeedKnots describe the
// outgoing leg and are ignored on the last waypoint.
type Waypoint struct {
	Name       string
	Position   geo.Position
	Heading    geo.HeadingType
	SpeedKnots float64
}

// Leg connects waypoint Index to waypoint Index+1 of its route.
type Leg struct {
	Index      int
	From       Waypoint
	To         Waypoint
	Heading    geo.HeadingType
	SpeedKnots float64
}

// Segment returns the leg as a constant-speed track.
func (l Leg) Segment() geo.Segment {
	return geo.Segment{
		From:       l.From.Position,
		To:         l.To.Position,
		Heading:    l.Heading,
		SpeedKnots: l.SpeedKnots,
	}
}

// Range returns the leg length in nautical miles.
func (l Leg) Range() float64 { return l.Segment().Length() }

// Bearing returns the initial bearing of the leg.
func (l Leg) Bearing() float64 { return l.Segment().Bearing() }

// Duration returns the time to sail the leg at its nominal speed.
func (l Leg) Duration() time.Duration { return l.Segment().Duration() }

// PositionAt returns the position reached elapsed after starting the leg.
func (l Leg) PositionAt(elapsed time.Duration) geo.Position {
	return l.Segment().PositionAt(elapsed)
}

// Route is an ordered list of waypoints sailed from a start time. A Route
// is never modified once built; a new revision is a new Route.
type Route struct {
	Name  string
	Start time.Time

	waypoints []Waypoint
	etas      []time.Time
}

// NewRoute builds a route. The waypoints are copied.
func NewRoute(name string, start time.Time, waypoints []Waypoint) *Route {
	r := &Route{
		Name:      name,
		Start:     start,
		waypoints: append([]Waypoint(nil), waypoints...),
	}

	r.etas = make([]time.Time, len(r.waypoints))
	eta := start
	for i := range r.waypoints {
		if i > 0 {
			eta = eta.Add(r.Leg(i - 1).Duration())
		}
		r.etas[i] = eta
	}
	return r
}

// Len returns the number of waypoints.
func (r *Route) Len() int {
	if r == nil {
		return 0
	}
	return len(r.waypoints)
}

// Waypoint returns waypoint i.
func (r *Route) Waypoint(i int) Waypoint { return r.waypoints[i] }

// Waypoints returns a copy of the route's waypoints.
func (r *Route) Waypoints() []Waypoint {
	return append([]Waypoint(nil), r.waypoints...)
}

// Leg returns the leg from waypoint i to waypoint i+1.
func (r *Route) Leg(i int) Leg {
	from := r.waypoints[i]
	return Leg{
		Index:      i,
		From:       from,
		To:         r.waypoints[i+1],
		Heading:    from.Heading,
		SpeedKnots: from.SpeedKnots,
	}
}

// Legs returns all legs in order.
func (r *Route) Legs() []Leg {
	if r.Len() < 2 {
		return nil
	}
	legs := make([]Leg, 0, len(r.waypoints)-1)
	for i := 0; i < len(r.waypoints)-1; i++ {
		legs = append(legs, r.Leg(i))
	}
	return legs
}

// ETA returns the estimated time of arrival at waypoint i.
func (r *Route) ETA(i int) time.Time { return r.etas[i] }

// ETAs returns the estimated times of arrival at every waypoint.
func (r *Route) ETAs() []time.Time {
	return append([]time.Time(nil), r.etas...)
}

// Valid reports whether the route has at least one waypoint and all of its
// positions are in range.
func (r *Route) Valid() bool {
	if r.Len() == 0 {
		return false
	}
	for _, wp := range r.waypoints {
		if !wp.Position.Valid() {
			return false
		}
	}
	return true
}

// TimedLeg is a leg together with the time it is started.
type TimedLeg struct {
	Leg
	Start time.Time
}

// End returns when the leg is completed.
func (tl TimedLeg) End() time.Time { return tl.Start.Add(tl.Duration()) }

// LegsWithStartTimes yields the legs that are not yet completed at now,
// each with its start time.
func (r *Route) LegsWithStartTimes(now time.Time) iter.Seq[TimedLeg] {
	return r.legsFrom(0, now)
}

func (r *Route) legsFrom(first int, now time.Time) iter.Seq[TimedLeg] {
	return func(yield func(TimedLeg) bool) {
		for i := max(first, 0); i < r.Len()-1; i++ {
			tl := TimedLeg{Leg: r.Leg(i), Start: r.etas[i]}
			if !tl.End().After(now) {
				continue
			}
			if !yield(tl) {
				return
			}
		}
	}
}

// OwnRoute is the local vessel's planned or active route.
type OwnRoute struct {
	*Route
	// ActiveWaypoint is the index of the waypoint the current leg starts
	// from, or NoActiveWaypoint for a planned route.
	ActiveWaypoint int
	Visible        bool
}

// NewOwnRoute returns a visible own route.
func NewOwnRoute(r *Route, activeWaypoint int) *OwnRoute {
	return &OwnRoute{Route: r, ActiveWaypoint: activeWaypoint, Visible: true}
}

// Active reports whether the route is being followed.
func (o *OwnRoute) Active() bool { return o != nil && o.ActiveWaypoint != NoActiveWaypoint }

// RemainingWaypoints returns how many waypoints are left from the active one.
func (o *OwnRoute) RemainingWaypoints() int {
	if o == nil {
		return 0
	}
	return remaining(o.Route, o.ActiveWaypoint)
}

// LegsWithStartTimes yields the legs still ahead of the vessel at now.
func (o *OwnRoute) LegsWithStartTimes(now time.Time) iter.Seq[TimedLeg] {
	return o.Route.legsFrom(firstLeg(o.ActiveWaypoint), now)
}

func firstLeg(activeWaypoint int) int {
	if activeWaypoint == NoActiveWaypoint {
		return 0
	}
	return activeWaypoint
}

func remaining(r *Route, activeWaypoint int) int {
	return r.Len() - firstLeg(activeWaypoint)
}
