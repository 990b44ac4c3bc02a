package domain

import (
	"math"
	"strings"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// PointInPolygon runs planar ray casting over ring. Rings with fewer than
// three vertices contain nothing.
func PointInPolygon(p Point, ring Ring) bool {
	if len(ring) < 3 {
		return false
	}
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PointInMultiPolygon tests p against each exterior ring. Holes are ignored.
func PointInMultiPolygon(p Point, rings []Ring) bool {
	for _, ring := range rings {
		if PointInPolygon(p, ring) {
			return true
		}
	}
	return false
}

// PointInGeometry dispatches on the geometry type. Unknown types and
// malformed coordinates contain nothing.
func PointInGeometry(p Point, g *Geometry) bool {
	if g == nil {
		return false
	}
	rings := g.Rings()
	switch {
	case strings.EqualFold(g.Type, GeometryPolygon):
		return len(rings) > 0 && PointInPolygon(p, rings[0])
	case strings.EqualFold(g.Type, GeometryMultiPolygon):
		return PointInMultiPolygon(p, rings)
	default:
		return false
	}
}

// FindSubscribersInGeometry returns the subscribers located inside g.
// Subscribers without a location are skipped.
func FindSubscribersInGeometry(g *Geometry, subscribers []Subscriber) []Subscriber {
	out := []Subscriber{}
	if g == nil {
		return out
	}
	for _, s := range subscribers {
		if s.Location == nil {
			continue
		}
		if PointInGeometry(s.Location.Point(), g) {
			out = append(out, s)
		}
	}
	return out
}

// DistanceKm is the haversine great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinKmOfGeometry reports whether p lies within km of any vertex of g.
func WithinKmOfGeometry(p Point, g *Geometry, km float64) bool {
	for _, ring := range g.Rings() {
		for _, v := range ring {
			if DistanceKm(p, v) <= km {
				return true
			}
		}
	}
	return false
}

// FindSubscribersNearGeometry returns subscribers inside g or within km of one
// of its vertices. A non-positive km falls back to exact containment.
func FindSubscribersNearGeometry(g *Geometry, subscribers []Subscriber, km float64) []Subscriber {
	if km <= 0 {
		return FindSubscribersInGeometry(g, subscribers)
	}
	out := []Subscriber{}
	if g == nil {
		return out
	}
	bounds, ok := boundingRect(g, km)
	if !ok {
		return out
	}
	for _, s := range subscribers {
		if s.Location == nil {
			continue
		}
		p := s.Location.Point()
		if !bounds.ContainsLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon)) {
			continue
		}
		if PointInGeometry(p, g) || WithinKmOfGeometry(p, g, km) {
			out = append(out, s)
		}
	}
	return out
}

// boundingRect covers every vertex of g, padded by km on each side.
func boundingRect(g *Geometry, km float64) (s2.Rect, bool) {
	rect := s2.EmptyRect()
	maxAbsLat := 0.0
	for _, ring := range g.Rings() {
		for _, v := range ring {
			rect = rect.AddPoint(s2.LatLngFromDegrees(v.Lat, v.Lon))
			maxAbsLat = math.Max(maxAbsLat, math.Abs(v.Lat))
		}
	}
	if rect.IsEmpty() {
		return rect, false
	}
	latMargin := km / EarthRadiusKm * 180 / math.Pi
	lngMargin := 180.0
	if c := math.Cos(toRadians(math.Min(maxAbsLat+latMargin, 90))); c > 1e-6 {
		lngMargin = math.Min(latMargin/c, 180)
	}
	lat := rect.Lat.Expanded(toRadians(latMargin)).Intersection(s2.FullRect().Lat)
	if lat.IsEmpty() {
		return s2.EmptyRect(), false
	}
	return s2.Rect{Lat: lat, Lng: rect.Lng.Expanded(toRadians(lngMargin))}, true
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
