package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

var square = domain.Ring{{Lon: 0, Lat: 0}, {Lon: 2, Lat: 0}, {Lon: 2, Lat: 2}, {Lon: 0, Lat: 2}, {Lon: 0, Lat: 0}}

func geometry(t *testing.T, typ string, coords any) *domain.Geometry {
	t.Helper()
	raw, err := json.Marshal(coords)
	require.NoError(t, err)
	return &domain.Geometry{Type: typ, Coordinates: raw}
}

func squareCoords() [][]float64 {
	return [][]float64{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
}

func TestPointInPolygon(t *testing.T) {
	assert.True(t, domain.PointInPolygon(domain.Point{Lon: 1, Lat: 1}, square))
	assert.False(t, domain.PointInPolygon(domain.Point{Lon: 3, Lat: 3}, square))
	assert.False(t, domain.PointInPolygon(domain.Point{Lon: -0.5, Lat: 1}, square))
}

func TestPointInPolygon_DegenerateRing(t *testing.T) {
	assert.False(t, domain.PointInPolygon(domain.Point{Lon: 0, Lat: 0}, nil))
	assert.False(t, domain.PointInPolygon(domain.Point{Lon: 1, Lat: 0}, domain.Ring{{Lon: 0, Lat: 0}, {Lon: 2, Lat: 0}}))
}

func TestPointInGeometry_MultiPolygonMatchesPolygon(t *testing.T) {
	poly := geometry(t, "Polygon", squareCoords())
	multi := geometry(t, "MultiPolygon", [][][]float64{squareCoords()})

	for _, p := range []domain.Point{{Lon: 1, Lat: 1}, {Lon: 3, Lat: 3}} {
		assert.Equal(t, domain.PointInGeometry(p, poly), domain.PointInGeometry(p, multi), "point %+v", p)
	}
	assert.True(t, domain.PointInGeometry(domain.Point{Lon: 1, Lat: 1}, multi))
	assert.False(t, domain.PointInGeometry(domain.Point{Lon: 3, Lat: 3}, multi))
}

func TestPointInGeometry_GeoJSONNesting(t *testing.T) {
	hole := [][]float64{{0.5, 0.5}, {1.5, 0.5}, {1.5, 1.5}, {0.5, 1.5}, {0.5, 0.5}}
	poly := geometry(t, "Polygon", [][][]float64{squareCoords(), hole})
	multi := geometry(t, "MultiPolygon", [][][][]float64{{squareCoords(), hole}})

	// Holes are ignored, so the centre stays inside.
	assert.True(t, domain.PointInGeometry(domain.Point{Lon: 1, Lat: 1}, poly))
	assert.True(t, domain.PointInGeometry(domain.Point{Lon: 1, Lat: 1}, multi))
}

func TestPointInGeometry_Malformed(t *testing.T) {
	tests := []struct {
		name string
		geom *domain.Geometry
	}{
		{"nil", nil},
		{"unknown type", geometry(t, "Point", []float64{1, 1})},
		{"bad coordinates", &domain.Geometry{Type: "Polygon", Coordinates: json.RawMessage(`"nope"`)}},
		{"short pairs", geometry(t, "Polygon", [][]float64{{1}, {2}, {3}})},
		{"empty", &domain.Geometry{Type: "MultiPolygon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, domain.PointInGeometry(domain.Point{Lon: 1, Lat: 1}, tt.geom))
		})
	}
}

func TestFindSubscribersInGeometry(t *testing.T) {
	subs := []domain.Subscriber{
		{UserID: "inside", Location: &domain.Location{Lat: 1, Lon: 1}},
		{UserID: "outside", Location: &domain.Location{Lat: 3, Lon: 3}},
		{UserID: "no-location"},
	}

	got := domain.FindSubscribersInGeometry(geometry(t, "Polygon", squareCoords()), subs)
	require.Len(t, got, 1)
	assert.Equal(t, "inside", got[0].UserID)

	assert.Empty(t, domain.FindSubscribersInGeometry(nil, subs))
}

func TestDistanceKm(t *testing.T) {
	assert.InDelta(t, 0, domain.DistanceKm(domain.Point{Lon: 10, Lat: 10}, domain.Point{Lon: 10, Lat: 10}), 1e-9)
	// One degree of latitude.
	assert.InDelta(t, 111.19, domain.DistanceKm(domain.Point{Lon: 0, Lat: 0}, domain.Point{Lon: 0, Lat: 1}), 0.01)
	// Oklahoma City to Tulsa.
	okc := domain.Point{Lon: -97.5164, Lat: 35.4676}
	tulsa := domain.Point{Lon: -95.9928, Lat: 36.1540}
	assert.InDelta(t, 157, domain.DistanceKm(okc, tulsa), 3)
}

func TestFindSubscribersNearGeometry(t *testing.T) {
	g := geometry(t, "Polygon", squareCoords())
	subs := []domain.Subscriber{
		{UserID: "inside", Location: &domain.Location{Lat: 1, Lon: 1}},
		{UserID: "near", Location: &domain.Location{Lat: 2.5, Lon: 2}},
		{UserID: "far", Location: &domain.Location{Lat: 10, Lon: 10}},
		{UserID: "no-location"},
	}

	got := domain.FindSubscribersNearGeometry(g, subs, 60)
	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.UserID)
	}
	assert.Equal(t, []string{"inside", "near"}, ids)

	exact := domain.FindSubscribersNearGeometry(g, subs, 0)
	require.Len(t, exact, 1)
	assert.Equal(t, "inside", exact[0].UserID)
}

func TestWithinKmOfGeometry(t *testing.T) {
	g := geometry(t, "Polygon", squareCoords())
	assert.True(t, domain.WithinKmOfGeometry(domain.Point{Lon: 2, Lat: 2.5}, g, 60))
	assert.False(t, domain.WithinKmOfGeometry(domain.Point{Lon: 2, Lat: 2.5}, g, 50))
	assert.False(t, domain.WithinKmOfGeometry(domain.Point{Lon: 1, Lat: 1}, nil, 1000))
}

func TestFindSubscribersNearGeometry_WrapsAntimeridianAndPoles(t *testing.T) {
	dateline := geometry(t, "Polygon", [][][]float64{{{179, 0}, {179.5, 0}, {179.5, 0.5}, {179, 0.5}, {179, 0}}})
	polar := geometry(t, "Polygon", [][][]float64{{{10, 89.8}, {20, 89.8}, {20, 89.7}, {10, 89.7}, {10, 89.8}}})
	subs := []domain.Subscriber{
		{UserID: "east-of-dateline", Location: &domain.Location{Lat: 0.25, Lon: -179.9}},
		{UserID: "across-the-pole", Location: &domain.Location{Lat: 89.9, Lon: 170}},
		{UserID: "far", Location: &domain.Location{Lat: 0.25, Lon: -170}},
	}

	got := domain.FindSubscribersNearGeometry(dateline, subs, 100)
	require.Len(t, got, 1)
	assert.Equal(t, "east-of-dateline", got[0].UserID)

	got = domain.FindSubscribersNearGeometry(polar, subs, 50)
	require.Len(t, got, 1)
	assert.Equal(t, "across-the-pole", got[0].UserID)
}
