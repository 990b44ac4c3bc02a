package domain

import (
	"encoding/json"
	"strings"
)

const (
	GeometryPolygon      = "Polygon"
	GeometryMultiPolygon = "MultiPolygon"
)

// Geometry is the GeoJSON-like area attached to an alert. Coordinates are kept
// raw because providers disagree on nesting depth.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Point is a WGS84 position in degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Ring is a closed sequence of vertices.
type Ring []Point

// Rings returns the exterior rings of the geometry. Interior rings are
// discarded. Malformed coordinates yield nil.
func (g *Geometry) Rings() []Ring {
	if g == nil || len(g.Coordinates) == 0 {
		return nil
	}
	switch {
	case strings.EqualFold(g.Type, GeometryPolygon):
		// Accept both a bare ring and a ring list.
		if ring, ok := decodeRing(g.Coordinates); ok {
			return []Ring{ring}
		}
		if rings, ok := decodeRingList(g.Coordinates); ok && len(rings) > 0 {
			return []Ring{rings[0]}
		}
	case strings.EqualFold(g.Type, GeometryMultiPolygon):
		if rings, ok := decodeRingList(g.Coordinates); ok {
			return rings
		}
		var polygons []json.RawMessage
		if err := json.Unmarshal(g.Coordinates, &polygons); err != nil {
			return nil
		}
		out := make([]Ring, 0, len(polygons))
		for _, p := range polygons {
			rings, ok := decodeRingList(p)
			if !ok || len(rings) == 0 {
				return nil
			}
			out = append(out, rings[0])
		}
		return out
	}
	return nil
}

// FirstVertex returns the first vertex of the first exterior ring.
func (g *Geometry) FirstVertex() (Point, bool) {
	rings := g.Rings()
	if len(rings) == 0 || len(rings[0]) == 0 {
		return Point{}, false
	}
	return rings[0][0], true
}

func decodeRing(raw json.RawMessage) (Ring, bool) {
	var pairs [][]float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, false
	}
	ring := make(Ring, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			return nil, false
		}
		ring = append(ring, Point{Lon: p[0], Lat: p[1]})
	}
	return ring, true
}

func decodeRingList(raw json.RawMessage) ([]Ring, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	rings := make([]Ring, 0, len(items))
	for _, item := range items {
		ring, ok := decodeRing(item)
		if !ok {
			return nil, false
		}
		rings = append(rings, ring)
	}
	return rings, true
}
