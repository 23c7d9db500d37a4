package model

import (
	"iter"
	"time"
)

// MMSI identifies a vessel.
type MMSI int64

// IntendedRoute is one received revision of a remote vessel's route. A new
// revision always replaces the previous one as a whole; use the With*
// methods to derive a changed copy.
type IntendedRoute struct {
	MMSI     MMSI
	Route    *Route
	Received time.Time
	// ActiveWaypoint is the index of the waypoint the vessel's current leg
	// starts from, or NoActiveWaypoint.
	ActiveWaypoint int
	Visible        bool
}

// NewIntendedRoute returns a visible intended route revision.
func NewIntendedRoute(mmsi MMSI, r *Route, activeWaypoint int, received time.Time) *IntendedRoute {
	return &IntendedRoute{
		MMSI:           mmsi,
		Route:          r,
		Received:       received,
		ActiveWaypoint: activeWaypoint,
		Visible:        true,
	}
}

// WithVisible returns a copy with the visibility flag changed.
func (ir *IntendedRoute) WithVisible(visible bool) *IntendedRoute {
	c := *ir
	c.Visible = visible
	return &c
}

// WithReceived returns a copy stamped with a new reception time.
func (ir *IntendedRoute) WithReceived(t time.Time) *IntendedRoute {
	c := *ir
	c.Received = t
	return &c
}

// Active reports whether the remote vessel is following the route.
func (ir *IntendedRoute) Active() bool { return ir.ActiveWaypoint != NoActiveWaypoint }

// RemainingWaypoints returns how many waypoints are left from the active one.
func (ir *IntendedRoute) RemainingWaypoints() int {
	return remaining(ir.Route, ir.ActiveWaypoint)
}

// LegsWithStartTimes yields the legs the vessel has not completed at now.
// Legs before the active waypoint count as completed.
func (ir *IntendedRoute) LegsWithStartTimes(now time.Time) iter.Seq[TimedLeg] {
	return ir.Route.legsFrom(firstLeg(ir.ActiveWaypoint), now)
}

// Age returns how long ago the revision was received.
func (ir *IntendedRoute) Age(now time.Time) time.Duration {
	return now.Sub(ir.Received)
}
