package collision

import (
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

// Thresholds are the classification distances in nautical miles. They are
// expected to satisfy Alert <= Marker <= Filter, but this is not enforced.
type Thresholds struct {
	AlertNM  float64 `json:"alert_nm"`
	MarkerNM float64 `json:"marker_nm"`
	FilterNM float64 `json:"filter_nm"`
}

// DefaultThresholds returns the distances used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{AlertNM: 0.5, MarkerNM: 1, FilterNM: 2}
}

// Ordered reports whether Alert <= Marker <= Filter.
func (th Thresholds) Ordered() bool {
	return th.AlertNM <= th.MarkerNM && th.MarkerNM <= th.FilterNM
}

// Classify returns the severity of an approach at distance d, or false when
// it lies beyond the filter distance. The comparisons are applied in order
// (filter, alert, marker) exactly as written, whatever the configuration.
func (th Thresholds) Classify(d float64) (model.Severity, bool) {
	switch {
	case d > th.FilterNM:
		return 0, false
	case d <= th.AlertNM:
		return model.SeverityAlert, true
	case d <= th.MarkerNM:
		return model.SeverityMarker, true
	default:
		return model.SeverityNotice, true
	}
}

// Comparable reports whether the own route can take part in detection.
func Comparable(own *model.OwnRoute) bool {
	return own != nil && own.Route != nil && own.RemainingWaypoints() >= 2 && own.Valid()
}

// Detect returns every close approach between the own route and an
// intended route that lies within the filter distance. For each pair of
// legs being sailed at the same time after now, the closest approach is
// computed and classified. Routes that cannot be compared yield no
// messages.
func Detect(own *model.OwnRoute, target *model.IntendedRoute, th Thresholds, now time.Time) []model.FilterMessage {
	if !Comparable(own) || target == nil || target.Route == nil ||
		target.RemainingWaypoints() < 2 || !target.Route.Valid() {
		return nil
	}

	visible := own.Visible && target.Visible

	var msgs []model.FilterMessage
	for ol := range own.LegsWithStartTimes(now) {
		for tl := range target.LegsWithStartTimes(now) {
			// Quick reject on time before doing any geometry.
			if !ol.Start.Before(tl.End()) || !tl.Start.Before(ol.End()) {
				continue
			}

			a, ok := geo.ClosestApproachAfter(ol.Segment(), ol.Start, tl.Segment(), tl.Start, now)
			if !ok {
				continue
			}
			sev, ok := th.Classify(a.Distance)
			if !ok {
				continue
			}

			msgs = append(msgs, model.FilterMessage{
				MMSI:           target.MMSI,
				OwnLeg:         ol.Index,
				TargetLeg:      tl.Index,
				OwnPosition:    a.Own,
				OwnTime:        a.Time,
				TargetPosition: a.Target,
				TargetTime:     a.Time,
				Distance:       a.Distance,
				Description:    model.Describe(target.MMSI, a.Distance, a.Time, sev),
				Severity:       sev,
				RoutesVisible:  visible,
				Ongoing:        a.Time.Equal(now),
			})
		}
	}

	model.SortMessages(msgs)
	return msgs
}
