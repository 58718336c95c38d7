package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/problems"
)

func TestTripAliasesCollapse(t *testing.T) {
	a := Raw{
		"id":           "t1",
		"booking_code": "BK-9",
		"status":       "ENROUTE",
		"town":         " Riverside ",
		"pickup_lat":   1.5,
		"pickup_lng":   "2.5",
		"dropoffLat":   3.0,
		"dropoffLng":   4.0,
		"driverId":     "d7",
		"updatedAt":    "2026-02-01T10:00:00Z",
		"price":        120.4,
	}
	b := Raw{
		"_id":         "t1",
		"bookingCode": "BK-9",
		"state":       "on_the_way",
		"zone":        "Riverside",
		"pickup":      map[string]any{"latitude": 1.5, "lon": 2.5},
		"dropoff":     map[string]any{"lat": 3.0, "lng": 4.0},
		"driver":      map[string]any{"id": "d7"},
		"updated_at":  float64(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC).UnixMilli()),
		"fare":        120.0,
	}
	ta, err := Trip(a)
	require.NoError(t, err)
	tb, err := Trip(b)
	require.NoError(t, err)

	assert.Equal(t, models.StatusOnTheWay, ta.Status)
	assert.Equal(t, "Riverside", ta.Zone)
	assert.Equal(t, "BK-9", ta.Code)
	assert.Equal(t, &models.Coord{Lat: 1.5, Lon: 2.5}, ta.Pickup)
	assert.Equal(t, ta.Pickup, tb.Pickup)
	assert.Equal(t, ta.Dropoff, tb.Dropoff)
	assert.Equal(t, ta.DriverID, tb.DriverID)
	assert.True(t, ta.UpdatedAt.Equal(*tb.UpdatedAt))
	assert.Equal(t, int64(120), ta.Fare)
	assert.Equal(t, ta.Fare, tb.Fare)
}

func TestTripFallsBackToCodeAsID(t *testing.T) {
	tr, err := Trip(Raw{"bookingCode": "BK-1"})
	require.NoError(t, err)
	assert.Equal(t, "BK-1", tr.ID)

	_, err = Trip(Raw{"status": "pending"})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestUnparseableTimestampIsNotReplacedByCreatedAt(t *testing.T) {
	created := time.Now().Add(-5 * time.Minute).UTC().Format(time.RFC3339)
	tr, err := Trip(Raw{"id": "t1", "status": "on_trip", "updated_at": "not-a-date", "created_at": created,
		"pickup_lat": 1.0, "pickup_lng": 1.0, "dropoff_lat": 2.0, "dropoff_lng": 2.0})
	require.NoError(t, err)
	require.NotNil(t, tr.UpdatedAt)
	assert.True(t, tr.UpdatedAt.IsZero())
	require.NotNil(t, tr.CreatedAt)

	reason, flagged := problems.Detect(tr, time.Now())
	assert.True(t, flagged)
	assert.Equal(t, "On trip stale (no timestamp)", reason)
}

func TestEmptyTimestampFallsBackToCreatedAt(t *testing.T) {
	tr, err := Trip(Raw{"id": "t1", "updated_at": "", "created_at": "2026-01-01 08:00:00"})
	require.NoError(t, err)
	assert.Nil(t, tr.UpdatedAt)
	require.NotNil(t, tr.CreatedAt)
	assert.Equal(t, 8, tr.LastTouched().Hour())
}

func TestPartialCoordinatesAreAbsent(t *testing.T) {
	tr, err := Trip(Raw{"id": "t1", "pickup_lat": 1.0})
	require.NoError(t, err)
	assert.Nil(t, tr.Pickup)
}

func TestEpochSeconds(t *testing.T) {
	tr, err := Trip(Raw{"id": "t1", "updated_at": float64(1767225600)})
	require.NoError(t, err)
	require.NotNil(t, tr.UpdatedAt)
	assert.Equal(t, 2026, tr.UpdatedAt.Year())
}

func TestDriverFromLocationMessage(t *testing.T) {
	raw, err := DecodeObject([]byte(`{"id":"d1","loc":{"lat":1,"lon":2},"rating":4.5,"online":true}`))
	require.NoError(t, err)
	d, err := Driver(raw)
	require.NoError(t, err)
	assert.Equal(t, models.DriverOnline, d.Status)
	assert.Equal(t, &models.Coord{Lat: 1, Lon: 2}, d.Loc)
}

func TestDriverRow(t *testing.T) {
	d, err := Driver(Raw{"driverId": "d2", "homeZone": "North", "status": "Available", "lat": 5.0, "longitude": 6.0})
	require.NoError(t, err)
	assert.Equal(t, "North", d.Zone)
	assert.True(t, d.Status.OnlineLike())
	assert.Equal(t, &models.Coord{Lat: 5, Lon: 6}, d.Loc)

	_, err = Driver(Raw{"name": "nobody"})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestZoneRow(t *testing.T) {
	z, err := Zone(Raw{"town": "North", "capacityLimit": "10", "activeDrivers": 10.0})
	require.NoError(t, err)
	assert.Equal(t, "North", z.ID)
	assert.Equal(t, models.ZoneFull, z.Status())
}

func TestDecodeTripsEnvelopes(t *testing.T) {
	bare := []byte(`[{"id":"a","status":"new"},{"status":"pending"}]`)
	trips, skipped, err := DecodeTrips(bare)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, models.StatusPending, trips[0].Status)

	env := []byte(`{"ok":true,"bookings":[{"booking_code":"B1"},{"id":"b"}]}`)
	trips, skipped, err = DecodeTrips(env)
	require.NoError(t, err)
	assert.Len(t, trips, 2)
	assert.Zero(t, skipped)

	trips, _, err = DecodeTrips([]byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Empty(t, trips)

	_, _, err = DecodeTrips([]byte(`not json`))
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestCanonicalTripRoundTripsThroughOwnJSON(t *testing.T) {
	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	in := models.Trip{ID: "t1", Code: "C", Status: models.StatusArrived, Zone: "n", Pickup: &models.Coord{Lat: 1, Lon: 2}, DriverID: "d", UpdatedAt: &ts}
	b, err := json.Marshal([]models.Trip{in})
	require.NoError(t, err)
	out, _, err := DecodeTrips(b)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in.Pickup, out[0].Pickup)
	assert.Equal(t, in.Status, out[0].Status)
	assert.True(t, ts.Equal(*out[0].UpdatedAt))
}
