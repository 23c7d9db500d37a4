// Package geo holds the navigation math used to compare routes: ranges and
// bearings along rhumb lines and great circles, projecting a position along
// a leg, and the closest approach of two vessels moving along straight legs.
//
// Distances are in nautical miles, bearings in degrees true, speeds in knots.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusNM is the mean earth radius (6371 km) expressed in nautical miles.
const EarthRadiusNM = 6371.0 * 0.539957

// NMPerLatitude is the (approximate) number of nautical miles per degree of latitude.
const NMPerLatitude = 60

// Position is a WGS-84 latitude/longitude in decimal degrees.
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Valid reports whether the position lies within [-90, 90] x [-180, 180].
func (p Position) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// String returns the position in decimal degrees, e.g. (55.676100, 12.568300).
func (p Position) String() string {
	return fmt.Sprintf("(%f, %f)", p.Latitude, p.Longitude)
}

// HeadingType selects how a leg is sailed between its waypoints.
type HeadingType int

const (
	RhumbLine HeadingType = iota
	GreatCircle
)

func (h HeadingType) String() string {
	switch h {
	case RhumbLine:
		return "RL"
	case GreatCircle:
		return "GC"
	default:
		return fmt.Sprintf("HeadingType(%d)", int(h))
	}
}

// ParseHeadingType accepts the short (RL/GC) and long forms.
func ParseHeadingType(s string) (HeadingType, error) {
	switch s {
	case "RL", "rl", "rhumb", "RHUMB_LINE", "":
		return RhumbLine, nil
	case "GC", "gc", "great-circle", "GREAT_CIRCLE":
		return GreatCircle, nil
	default:
		return RhumbLine, fmt.Errorf("%s: unknown heading type", s)
	}
}

func (h HeadingType) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HeadingType) UnmarshalText(b []byte) error {
	ht, err := ParseHeadingType(string(b))
	if err != nil {
		return err
	}
	*h = ht
	return nil
}

func radians(d float64) float64 { return d / 180 * math.Pi }
func degrees(r float64) float64 { return r * 180 / math.Pi }

// NormalizeLongitude maps a longitude onto [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// NormalizeBearing maps a bearing onto [0, 360).
func NormalizeBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// Range returns the distance in nautical miles from a to b measured along
// the given kind of track.
func Range(a, b Position, h HeadingType) float64 {
	if a == b {
		return 0
	}
	if h == GreatCircle {
		return greatCircleRange(a, b)
	}
	return rhumbLineRange(a, b)
}

// InitialBearing returns the bearing in degrees true at a for the track
// to b. Identical positions have a bearing of 0.
func InitialBearing(a, b Position, h HeadingType) float64 {
	if a == b {
		return 0
	}
	if h == GreatCircle {
		return greatCircleBearing(a, b)
	}
	return rhumbLineBearing(a, b)
}

// Destination returns the position reached by travelling dist nautical
// miles from p on the given initial bearing.
func Destination(p Position, bearing, dist float64, h HeadingType) Position {
	if dist == 0 {
		return p
	}
	if h == GreatCircle {
		return greatCircleDestination(p, bearing, dist)
	}
	return rhumbLineDestination(p, bearing, dist)
}

// https://www.movable-type.co.uk/scripts/latlong.html
func greatCircleRange(a, b Position) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dlat := lat2 - lat1
	dlon := radians(b.Longitude - a.Longitude)

	x := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(x), math.Sqrt(1-x))
	return EarthRadiusNM * c
}

func greatCircleBearing(a, b Position) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dlon := radians(b.Longitude - a.Longitude)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	return NormalizeBearing(degrees(math.Atan2(y, x)))
}

func greatCircleDestination(p Position, bearing, dist float64) Position {
	lat1, lon1 := radians(p.Latitude), radians(p.Longitude)
	theta := radians(bearing)
	delta := dist / EarthRadiusNM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))

	return Position{Latitude: degrees(lat2), Longitude: NormalizeLongitude(degrees(lon2))}
}

// stretch returns the ratio of latitude difference to projected (Mercator)
// latitude difference; the east-west scale factor of a rhumb line.
func stretch(lat1, lat2 float64) float64 {
	dpsi := math.Log(math.Tan(math.Pi/4+lat2/2) / math.Tan(math.Pi/4+lat1/2))
	if math.Abs(dpsi) > 1e-12 {
		return (lat2 - lat1) / dpsi
	}
	return math.Cos(lat1)
}

// rhumbDeltaLon returns the shortest longitude difference in radians.
func rhumbDeltaLon(a, b Position) float64 {
	return radians(NormalizeLongitude(b.Longitude - a.Longitude))
}

func rhumbLineRange(a, b Position) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dlat := lat2 - lat1
	dlon := rhumbDeltaLon(a, b)
	q := stretch(lat1, lat2)
	return math.Sqrt(dlat*dlat+q*q*dlon*dlon) * EarthRadiusNM
}

func rhumbLineBearing(a, b Position) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dlon := rhumbDeltaLon(a, b)
	dpsi := math.Log(math.Tan(math.Pi/4+lat2/2) / math.Tan(math.Pi/4+lat1/2))
	return NormalizeBearing(degrees(math.Atan2(dlon, dpsi)))
}

func rhumbLineDestination(p Position, bearing, dist float64) Position {
	lat1, lon1 := radians(p.Latitude), radians(p.Longitude)
	theta := radians(bearing)
	delta := dist / EarthRadiusNM

	dlat := delta * math.Cos(theta)
	lat2 := lat1 + dlat
	// Past a pole; fold back.
	if math.Abs(lat2) > math.Pi/2 {
		if lat2 > 0 {
			lat2 = math.Pi - lat2
		} else {
			lat2 = -math.Pi - lat2
		}
	}

	q := stretch(lat1, lat2)
	dlon := 0.0
	if q != 0 {
		dlon = delta * math.Sin(theta) / q
	}

	return Position{Latitude: degrees(lat2), Longitude: NormalizeLongitude(degrees(lon1 + dlon))}
}
