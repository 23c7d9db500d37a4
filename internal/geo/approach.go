package geo

import (
	"math"
	"time"
)

// Segment is a straight leg sailed at constant speed.
type Segment struct {
	From       Position
	To         Position
	Heading    HeadingType
	SpeedKnots float64
}

// Length returns the leg length in nautical miles.
func (s Segment) Length() float64 {
	return Range(s.From, s.To, s.Heading)
}

// Bearing returns the initial bearing of the leg.
func (s Segment) Bearing() float64 {
	return InitialBearing(s.From, s.To, s.Heading)
}

// Duration returns the time needed to sail the leg. Legs without a
// positive speed have no duration.
func (s Segment) Duration() time.Duration {
	if s.SpeedKnots <= 0 || math.IsNaN(s.SpeedKnots) {
		return 0
	}
	ns := s.Length() / s.SpeedKnots * float64(time.Hour)
	if ns >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

// PositionAt returns where a vessel that started the leg elapsed ago is,
// clamped to the leg's endpoints.
func (s Segment) PositionAt(elapsed time.Duration) Position {
	if elapsed <= 0 || s.SpeedKnots <= 0 {
		return s.From
	}
	if elapsed >= s.Duration() {
		return s.To
	}
	dist := s.SpeedKnots * elapsed.Hours()
	return Destination(s.From, s.Bearing(), dist, s.Heading)
}

// tieToleranceNM is about 2 cm.
const tieToleranceNM = 1e-5

const (
	// sliceNM bounds how far the faster vessel sails within one slice of
	// the overlap, keeping each slice close to flat.
	sliceNM   = 10
	maxSlices = 10000
)

// Approach is the closest point of approach between two moving vessels.
type Approach struct {
	Time     time.Time
	Own      Position
	Target   Position
	Distance float64
}

// ClosestApproach returns the time within the period where both legs are
// being sailed at which the two vessels are nearest each other. The second
// result is false when the legs do not overlap in time.
func ClosestApproach(own Segment, ownStart time.Time, target Segment, targetStart time.Time) (Approach, bool) {
	return ClosestApproachAfter(own, ownStart, target, targetStart, time.Time{})
}

// ClosestApproachAfter is like ClosestApproach but ignores the part of the
// overlap before notBefore.
//
// The overlap is cut into slices short enough to treat as flat. Slices are
// laid out from the start of the overlap, not from notBefore, so the result
// for an approach still ahead does not move as notBefore advances. Ties go
// to the earliest time.
func ClosestApproachAfter(own Segment, ownStart time.Time, target Segment, targetStart time.Time,
	notBefore time.Time) (Approach, bool) {
	base := latest(ownStart, targetStart)
	start := latest(base, notBefore)
	end := ownStart.Add(own.Duration())
	if te := targetStart.Add(target.Duration()); te.Before(end) {
		end = te
	}
	if !end.After(start) {
		return Approach{}, false
	}

	span := end.Sub(base)
	travel := math.Max(own.SpeedKnots, target.SpeedKnots) * span.Hours()
	n := maxSlices
	if travel < sliceNM*maxSlices {
		n = max(1, int(math.Ceil(travel/sliceNM)))
	}

	var best Approach
	found := false
	for i := range n {
		e := end
		if i < n-1 {
			e = base.Add(time.Duration(float64(span) * float64(i+1) / float64(n)))
		}
		if !e.After(start) {
			continue
		}
		s := latest(base.Add(time.Duration(float64(span)*float64(i)/float64(n))), start)
		a := sliceApproach(own, ownStart, target, targetStart, s, e)
		if !found || a.Distance < best.Distance-tieToleranceNM {
			best, found = a, true
		}
	}
	return best, found
}

// sliceApproach finds the closest approach between start and end, treating
// the relative motion as linear over that period.
func sliceApproach(own Segment, ownStart time.Time, target Segment, targetStart time.Time,
	start, end time.Time) Approach {
	o0, t0 := own.PositionAt(start.Sub(ownStart)), target.PositionAt(start.Sub(targetStart))
	o1, t1 := own.PositionAt(end.Sub(ownStart)), target.PositionAt(end.Sub(targetStart))

	// Relative motion is linear in a local flat-earth frame, so the
	// separation is minimised at u = -d0.dv / |dv|^2 along the slice.
	plane := newLocalPlane(o0, t0, o1, t1)
	d0 := sub2(plane.project(t0), plane.project(o0))
	d1 := sub2(plane.project(t1), plane.project(o1))
	dv := sub2(d1, d0)

	u := 0.0
	if vv := dot2(dv, dv); vv > 0 {
		u = math.Max(0, math.Min(1, -dot2(d0, dv)/vv))
		// Separation that barely changes counts as a tie, which goes to the
		// start of the slice.
		dmin := [2]float64{d0[0] + u*dv[0], d0[1] + u*dv[1]}
		if math.Sqrt(dot2(d0, d0))-math.Sqrt(dot2(dmin, dmin)) < tieToleranceNM {
			u = 0
		}
	}

	t := start.Add(time.Duration(u * float64(end.Sub(start))))
	op := own.PositionAt(t.Sub(ownStart))
	tp := target.PositionAt(t.Sub(targetStart))
	return Approach{
		Time:     t,
		Own:      op,
		Target:   tp,
		Distance: Range(op, tp, GreatCircle),
	}
}

func latest(ts ...time.Time) time.Time {
	var l time.Time
	for _, t := range ts {
		if t.After(l) {
			l = t
		}
	}
	return l
}

// localPlane is an equirectangular projection in nautical miles centred on
// a reference position.
type localPlane struct {
	ref            Position
	nmPerLongitude float64
}

func newLocalPlane(a, b, c, d Position) localPlane {
	// Longitudes are averaged relative to a so that legs straddling the
	// antimeridian stay together.
	rel := func(p Position) float64 { return NormalizeLongitude(p.Longitude - a.Longitude) }
	lat := ((a.Latitude + b.Latitude) + (c.Latitude + d.Latitude)) / 4
	lon := a.Longitude + ((rel(a)+rel(b))+(rel(c)+rel(d)))/4
	return localPlane{
		ref:            Position{Latitude: lat, Longitude: NormalizeLongitude(lon)},
		nmPerLongitude: NMPerLatitude * math.Cos(radians(lat)),
	}
}

func (lp localPlane) project(p Position) [2]float64 {
	return [2]float64{
		NormalizeLongitude(p.Longitude-lp.ref.Longitude) * lp.nmPerLongitude,
		(p.Latitude - lp.ref.Latitude) * NMPerLatitude,
	}
}

func sub2(a, b [2]float64) [2]float64 { return [2]float64{a[0] - b[0], a[1] - b[1]} }
func dot2(a, b [2]float64) float64    { return a[0]*b[0] + a[1]*b[1] }
