package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
)

// WaypointMessage is the JSON form of a waypoint.
type WaypointMessage struct {
	Name       string          `json:"name,omitempty"`
	Latitude   float64         `json:"lat"`
	Longitude  float64         `json:"lon"`
	SpeedKnots float64         `json:"speed_kn"`
	Heading    geo.HeadingType `json:"heading"`
}

// RouteMessage is the JSON form of a route as exchanged between vessels and
// served by the route manager.
type RouteMessage struct {
	MMSI           MMSI              `json:"mmsi,omitempty"`
	Name           string            `json:"name"`
	Start          time.Time         `json:"start"`
	ActiveWaypoint *int              `json:"active_waypoint,omitempty"`
	Waypoints      []WaypointMessage `json:"waypoints"`
}

var ErrMissingMMSI = errors.New("route message has no mmsi")

// UnmarshalRouteMessage parses a JSON route message.
func UnmarshalRouteMessage(data []byte, m *RouteMessage) error {
	if err := json.Unmarshal(data, m); err != nil {
		return err
	}

	// If the start time is missing, the route starts now
	if m.Start.IsZero() {
		m.Start = time.Now().UTC()
	}

	m.Name = trimName(m.Name)
	for i := range m.Waypoints {
		m.Waypoints[i].Name = trimName(m.Waypoints[i].Name)
	}
	return nil
}

// trimName drops AIS padding ('@' and NUL) and surrounding whitespace.
func trimName(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "@"))
}

// Route converts the message into a Route.
func (m RouteMessage) Route() *Route {
	wps := make([]Waypoint, len(m.Waypoints))
	for i, w := range m.Waypoints {
		wps[i] = Waypoint{
			Name:       w.Name,
			Position:   geo.Position{Latitude: w.Latitude, Longitude: w.Longitude},
			Heading:    w.Heading,
			SpeedKnots: w.SpeedKnots,
		}
	}
	return NewRoute(m.Name, m.Start, wps)
}

// ActiveIndex returns the active waypoint or NoActiveWaypoint.
func (m RouteMessage) ActiveIndex() int {
	if m.ActiveWaypoint == nil {
		return NoActiveWaypoint
	}
	return *m.ActiveWaypoint
}

// IntendedRoute converts the message into an intended route revision.
func (m RouteMessage) IntendedRoute(received time.Time) (*IntendedRoute, error) {
	if m.MMSI == 0 {
		return nil, ErrMissingMMSI
	}
	return NewIntendedRoute(m.MMSI, m.Route(), m.ActiveIndex(), received), nil
}

// NewRouteMessage converts a route back to its JSON form.
func NewRouteMessage(mmsi MMSI, r *Route, activeWaypoint int) RouteMessage {
	m := RouteMessage{MMSI: mmsi, Name: r.Name, Start: r.Start}
	if activeWaypoint != NoActiveWaypoint {
		m.ActiveWaypoint = &activeWaypoint
	}
	for _, wp := range r.waypoints {
		m.Waypoints = append(m.Waypoints, WaypointMessage{
			Name:       wp.Name,
			Latitude:   wp.Position.Latitude,
			Longitude:  wp.Position.Longitude,
			SpeedKnots: wp.SpeedKnots,
			Heading:    wp.Heading,
		})
	}
	return m
}

// Alert is published when a vessel's closest approach needs attention or
// has been acknowledged.
type Alert struct {
	MMSI         MMSI          `json:"mmsi"`
	Message      FilterMessage `json:"message"`
	Acknowledged bool          `json:"acknowledged"`
	Timestamp    int64         `json:"timestamp"`
}
