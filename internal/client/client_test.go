package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-engine/internal/coordinator"
	"github.com/example/dispatch-engine/internal/dispatch"
	"github.com/example/dispatch-engine/internal/engine"
	httpapi "github.com/example/dispatch-engine/internal/http"
	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/storage"
)

func newAPI(t *testing.T) (*httptest.Server, *storage.MemoryStore, *dispatch.WSRegistry) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	st := storage.NewMemoryStore()
	require.NoError(t, st.SaveZone(ctx, models.Zone{ID: "z1", Name: "Downtown", CapacityLimit: 10, ActiveDrivers: 1}))
	require.NoError(t, st.SaveTrip(ctx, models.Trip{
		ID: "t1", Code: "BK-1", Status: models.StatusPending, Zone: "Downtown",
		Pickup: &models.Coord{Lat: 0, Lon: 0}, Dropoff: &models.Coord{Lat: 0.01, Lon: 0.01}, Fare: 100, UpdatedAt: &now,
	}))
	require.NoError(t, st.SaveDriver(ctx, models.Driver{ID: "d1", Name: "Ana", Zone: "Downtown", Status: models.DriverOnline, Loc: &models.Coord{Lat: 0.0175, Lon: 0}}))

	hub := dispatch.NewWSRegistry(zerolog.Nop())
	svc := engine.New(st, zerolog.Nop())
	svc.Events = dispatch.NewFanout(hub, zerolog.Nop())
	ts := httptest.NewServer(httpapi.NewServer(svc, hub, zerolog.Nop()))
	t.Cleanup(ts.Close)
	return ts, st, hub
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", zerolog.Nop())
	assert.Error(t, err)
}

func TestFetchSnapshots(t *testing.T) {
	ts, _, _ := newAPI(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	trips, err := c.FetchTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "BK-1", trips[0].Code)
	require.NotNil(t, trips[0].Pickup)
	assert.NotNil(t, trips[0].UpdatedAt)

	drivers, err := c.FetchDrivers(ctx, "downtown")
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, models.DriverOnline, drivers[0].Status)

	zones, err := c.FetchZones(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, zones[0].CapacityLimit)
}

func TestActionsAndRemoteErrors(t *testing.T) {
	ts, st, _ := newAPI(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	status, err := c.ChangeStatus(ctx, "BK-1", "assigned", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, status)

	_, err = c.ChangeStatus(ctx, "BK-1", "completed", false)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Equal(t, models.CodeInvalidTransition, re.Code)
	assert.True(t, errors.Is(err, models.ErrRequestFailed))

	require.NoError(t, c.AssignDriver(ctx, "t1", "d1", "closest"))
	trip, _ := st.GetTrip(ctx, "t1")
	assert.Equal(t, "d1", trip.DriverID)

	err = c.AssignDriver(ctx, "t1", "ghost", "")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, models.CodeNotFound, re.Code)
}

func TestQueries(t *testing.T) {
	ts, _, _ := newAPI(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	res, err := c.Suggestions(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "d1", res.Suggestions[0].DriverID)

	q, err := c.PickupQuote(ctx, "t1", "d1")
	require.NoError(t, err)
	// ~1.95 km to pickup
	assert.Equal(t, int64(30), q.PickupFee)
	assert.Equal(t, int64(130), q.Total)

	fee, err := c.PickupFee(ctx, 2.01)
	require.NoError(t, err)
	assert.Equal(t, int64(40), fee)
}

func TestOkFalseBodyIsAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"message":"store offline"}`))
	}))
	defer ts.Close()

	err := newClient(t, ts.URL).AssignDriver(context.Background(), "t1", "d1", "")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "store offline", re.Message)
	assert.Equal(t, models.CodeRequestFailed, re.Code)
}

func TestLegacySnapshotShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bookings":[{"bookingCode":"X-9","tripStatus":"ENROUTE","town":"Harbor","assignedDriverId":"d4"}]}`))
	}))
	defer ts.Close()

	trips, err := newClient(t, ts.URL).FetchTrips(context.Background())
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "X-9", trips[0].ID)
	assert.Equal(t, models.StatusOnTheWay, trips[0].Status)
	assert.Equal(t, "Harbor", trips[0].Zone)
	assert.Equal(t, "d4", trips[0].DriverID)
}

func TestLegacyStatusEchoIsCanonical(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"status":"ENROUTE"}`))
	}))
	defer ts.Close()

	got, err := newClient(t, ts.URL).ChangeStatus(context.Background(), "t1", "on_the_way", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnTheWay, got)
}

func TestCoordinatorOverRealAPI(t *testing.T) {
	ts, _, hub := newAPI(t)
	c := newClient(t, ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := coordinator.New(c, c, zerolog.Nop())
	require.NoError(t, coord.Poll(ctx))

	events, err := c.Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	status, err := coord.ChangeStatus(ctx, "BK-1", "assigned", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, status)

	select {
	case e := <-events:
		assert.Equal(t, "t1", e.TripID)
		assert.Equal(t, models.StatusAssigned, e.To)
	case <-time.After(2 * time.Second):
		t.Fatal("no event pushed")
	}

	require.NoError(t, coord.Poll(ctx))
	trip, ok := coord.Trip("t1")
	require.True(t, ok)
	assert.Equal(t, models.StatusAssigned, trip.Status)
}

func TestChangeStatusSendsFlow(t *testing.T) {
	ts, st, _ := newAPI(t)
	ctx := context.Background()
	_, err := st.UpdateStatus(ctx, "t1", models.StatusOnTheWay)
	require.NoError(t, err)
	c := newClient(t, ts.URL)

	_, err = c.ChangeStatus(ctx, "t1", "arrived", false)
	require.Error(t, err)

	c.Flow = lifecycle.FlowPassenger
	got, err := c.ChangeStatus(ctx, "t1", "arrived", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrived, got)
}
