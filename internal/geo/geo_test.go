package geo

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-engine/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineMeters(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	// One degree of arc on a 6,371 km sphere.
	want := EarthRadiusMeters * math.Pi / 180
	assert.InDelta(t, want, HaversineMeters(10, 20, 11, 20), 1e-6)
	assert.InDelta(t, HaversineMeters(11, 20, 10, 20), HaversineMeters(10, 20, 11, 20), 1e-9)
}

func TestDistanceRequiresBothSides(t *testing.T) {
	_, ok := Distance(nil, &models.Coord{Lat: 1, Lon: 1})
	assert.False(t, ok)
	_, ok = Distance(&models.Coord{Lat: math.Inf(1), Lon: 1}, &models.Coord{Lat: 1, Lon: 1})
	assert.False(t, ok)
	d, ok := Distance(&models.Coord{Lat: 1, Lon: 1}, &models.Coord{Lat: 1, Lon: 1})
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestIndexUpsertAndPositions(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, Position{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}}))

	got, err := idx.Positions(ctx, []string{"d1", "d2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 2}, got["d1"].Loc)
	assert.False(t, got["d1"].UpdatedAt.IsZero())
}

func TestEnrichPrefersNewerPositions(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(time.Minute)

	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, Position{DriverID: "a", Loc: models.Coord{Lat: 5, Lon: 5}, UpdatedAt: newer}))
	require.NoError(t, idx.Upsert(ctx, Position{DriverID: "b", Loc: models.Coord{Lat: 6, Lon: 6}, UpdatedAt: old}))
	require.NoError(t, idx.Upsert(ctx, Position{DriverID: "c", Loc: models.Coord{Lat: 7, Lon: 7}, UpdatedAt: old}))

	roster := []models.Driver{
		{ID: "a", Loc: &models.Coord{Lat: 1, Lon: 1}, UpdatedAt: &old},
		{ID: "b", Loc: &models.Coord{Lat: 2, Lon: 2}, UpdatedAt: &newer},
		{ID: "c"},
		{ID: "d"},
	}
	out, err := Enrich(ctx, idx, roster)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out[0].Loc.Lat)
	assert.Equal(t, 2.0, out[1].Loc.Lat)
	assert.Equal(t, 7.0, out[2].Loc.Lat)
	assert.Nil(t, out[3].Loc)
	// the input roster is read-shared and stays untouched
	assert.Equal(t, 1.0, roster[0].Loc.Lat)
	assert.Nil(t, roster[2].Loc)
}
