package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
)

// Severity classifies a close approach against the configured distances.
type Severity int

const (
	// SeverityNotice is within the filter distance but beyond the marker distance.
	SeverityNotice Severity = iota
	// SeverityMarker is within the marker distance; a marker is shown.
	SeverityMarker
	// SeverityAlert is within the alert distance.
	SeverityAlert
)

func (s Severity) String() string {
	switch s {
	case SeverityNotice:
		return "notice"
	case SeverityMarker:
		return "marker"
	case SeverityAlert:
		return "alert"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "notice":
		*s = SeverityNotice
	case "marker":
		*s = SeverityMarker
	case "alert":
		*s = SeverityAlert
	default:
		return fmt.Errorf("%q: unknown severity", b)
	}
	return nil
}

// FilterMessage is a close approach between the own route and one
// intended route.
type FilterMessage struct {
	MMSI MMSI `json:"mmsi"`
	// OwnLeg and TargetLeg identify the pair of legs the approach was
	// found on; together they are the identity of the event.
	OwnLeg    int `json:"own_leg"`
	TargetLeg int `json:"target_leg"`

	OwnPosition    geo.Position `json:"own_position"`
	OwnTime        time.Time    `json:"own_time"`
	TargetPosition geo.Position `json:"target_position"`
	TargetTime     time.Time    `json:"target_time"`

	Distance      float64  `json:"distance_nm"`
	Description   string   `json:"description"`
	Severity      Severity `json:"severity"`
	RoutesVisible bool     `json:"routes_visible"`
	// Ongoing is set when the vessels are as close as they get on these
	// legs right now. Time, positions and distance then follow the clock.
	Ongoing bool `json:"ongoing"`
}

// An approach that moved further than this between two runs is a new event
// even on the same legs.
const (
	EventTimeTolerance       = 10 * time.Minute
	EventPositionToleranceNM = 2.0
)

// IsAlert reports whether the approach is within the alert distance.
func (m FilterMessage) IsAlert() bool { return m.Severity == SeverityAlert }

// NotificationOnly reports whether the message is informational.
func (m FilterMessage) NotificationOnly() bool { return m.Severity != SeverityAlert }

// ShowMarker reports whether a marker should be drawn for the approach.
func (m FilterMessage) ShowMarker() bool { return m.Severity >= SeverityMarker }

func (m FilterMessage) sameLegs(o FilterMessage) bool {
	return m.OwnLeg == o.OwnLeg && m.TargetLeg == o.TargetLeg
}

// SameEvent reports whether both messages describe the same approach: the
// same pair of legs, and either both ongoing or within EventTimeTolerance
// and EventPositionToleranceNM of each other on the own track.
func (m FilterMessage) SameEvent(o FilterMessage) bool {
	if !m.sameLegs(o) {
		return false
	}
	if m.Ongoing && o.Ongoing {
		return true
	}
	return m.OwnTime.Sub(o.OwnTime).Abs() <= EventTimeTolerance &&
		geo.Range(m.OwnPosition, o.OwnPosition, geo.GreatCircle) <= EventPositionToleranceNM
}

// Equal compares every field, using time.Time.Equal for the timestamps.
func (m FilterMessage) Equal(o FilterMessage) bool {
	return m.MMSI == o.MMSI && m.sameLegs(o) &&
		m.OwnPosition == o.OwnPosition && m.OwnTime.Equal(o.OwnTime) &&
		m.TargetPosition == o.TargetPosition && m.TargetTime.Equal(o.TargetTime) &&
		m.Distance == o.Distance && m.Description == o.Description &&
		m.Severity == o.Severity && m.RoutesVisible == o.RoutesVisible &&
		m.Ongoing == o.Ongoing
}

// sameResult is Equal, except that two ongoing messages are compared
// without the fields that follow the clock.
func (m FilterMessage) sameResult(o FilterMessage) bool {
	if !m.Ongoing || !o.Ongoing {
		return m.Equal(o)
	}
	return m.MMSI == o.MMSI && m.sameLegs(o) &&
		m.Severity == o.Severity && m.RoutesVisible == o.RoutesVisible
}

// less orders messages by distance, then by time.
func (m FilterMessage) less(o FilterMessage) bool {
	if m.Distance != o.Distance {
		return m.Distance < o.Distance
	}
	return m.OwnTime.Before(o.OwnTime)
}

// Describe returns the human-readable summary used for Description.
func Describe(mmsi MMSI, distance float64, t time.Time, s Severity) string {
	return fmt.Sprintf("%s: CPA %.2f nm with MMSI %d at %s", s, distance, mmsi,
		t.UTC().Format("2006-01-02 15:04 UTC"))
}

// SortMessages orders messages by the time of approach on the own track.
func SortMessages(msgs []FilterMessage) {
	slices.SortStableFunc(msgs, func(a, b FilterMessage) int {
		if c := a.OwnTime.Compare(b.OwnTime); c != 0 {
			return c
		}
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
}

// MinimumDistance returns the message with the smallest distance; ties go
// to the earliest one.
func MinimumDistance(msgs []FilterMessage) (FilterMessage, bool) {
	if len(msgs) == 0 {
		return FilterMessage{}, false
	}
	lowest := msgs[0]
	for _, m := range msgs[1:] {
		if m.less(lowest) {
			lowest = m
		}
	}
	return lowest, true
}

// FilteredIntendedRoute is the current filter result for one remote vessel.
type FilteredIntendedRoute struct {
	Route        *IntendedRoute  `json:"-"`
	Messages     []FilterMessage `json:"messages"`
	Minimum      *FilterMessage  `json:"minimum,omitempty"`
	Acknowledged bool            `json:"acknowledged"`
}

// NewFilteredIntendedRoute builds an unacknowledged result. msgs is owned by
// the result from here on and must not be modified.
func NewFilteredIntendedRoute(route *IntendedRoute, msgs []FilterMessage) FilteredIntendedRoute {
	fr := FilteredIntendedRoute{Route: route, Messages: msgs}
	if m, ok := MinimumDistance(msgs); ok {
		fr.Minimum = &m
	}
	return fr
}

// MinimumDistanceMessage returns the closest approach, if any.
func (fr FilteredIntendedRoute) MinimumDistanceMessage() (FilterMessage, bool) {
	if fr.Minimum == nil {
		return FilterMessage{}, false
	}
	return *fr.Minimum, true
}

// Include reports whether the vessel has anything to show.
func (fr FilteredIntendedRoute) Include() bool { return len(fr.Messages) > 0 }

// PendingAlert reports whether the minimal approach is a visible alert
// that has not been acknowledged.
func (fr FilteredIntendedRoute) PendingAlert() bool {
	return fr.Minimum != nil && fr.Minimum.IsAlert() && fr.Minimum.RoutesVisible && !fr.Acknowledged
}

// SameResult reports whether two results hold the same route revision,
// messages and acknowledgment. Ongoing approaches drifting with the clock
// between runs do not count as a difference.
func (fr FilteredIntendedRoute) SameResult(o FilteredIntendedRoute) bool {
	if fr.Route != o.Route || fr.Acknowledged != o.Acknowledged {
		return false
	}
	if (fr.Minimum == nil) != (o.Minimum == nil) ||
		fr.Minimum != nil && !fr.Minimum.sameResult(*o.Minimum) {
		return false
	}
	return slices.EqualFunc(fr.Messages, o.Messages, FilterMessage.sameResult)
}
