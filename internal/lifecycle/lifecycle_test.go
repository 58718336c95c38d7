package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-engine/internal/models"
)

func TestNormalizeSynonyms(t *testing.T) {
	cases := map[string]models.Status{
		"ENROUTE":    models.StatusOnTheWay,
		"New":        models.StatusPending,
		"requested":  models.StatusPending,
		" ongoing ":  models.StatusOnTrip,
		"On The Way": models.StatusOnTheWay,
		"on-trip":    models.StatusOnTrip,
		"COMPLETED":  models.StatusCompleted,
		"":           models.StatusUnknown,
		"teleported": models.StatusUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "normalize(%q)", in)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []models.Status{models.StatusCompleted, models.StatusCancelled} {
		assert.Empty(t, Allowed(s, FlowDispatch))
		for st := range canonical {
			_, err := RequestTransition(models.Trip{ID: "t1", Status: s}, string(st), Options{})
			assert.ErrorIs(t, err, models.ErrInvalidTransition, "%s -> %s", s, st)
		}
	}
}

func TestReflexiveTransitionsRejected(t *testing.T) {
	for st := range canonical {
		_, err := RequestTransition(models.Trip{ID: "t1", Status: st}, string(st), Options{})
		require.Error(t, err, "reflexive %s", st)
	}
}

func TestUnknownStatusCanOnlyBeCancelled(t *testing.T) {
	trip := models.Trip{ID: "t1", Status: "mystery"}
	assert.Equal(t, []models.Status{models.StatusCancelled}, Allowed(trip.Status, FlowDispatch))

	next, err := RequestTransition(trip, "cancelled", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, next)

	_, err = RequestTransition(trip, "assigned", Options{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestHappyPath(t *testing.T) {
	trip := models.Trip{ID: "t1", Status: "requested"}
	for _, target := range []string{"assigned", "enroute", "on_trip", "completed"} {
		next, err := RequestTransition(trip, target, Options{})
		require.NoError(t, err, target)
		trip.Status = next
	}
	assert.Equal(t, models.StatusCompleted, trip.Status)
}

func TestArrivedOnlyInPassengerFlow(t *testing.T) {
	trip := models.Trip{ID: "t1", Status: models.StatusOnTheWay}

	_, err := RequestTransition(trip, "arrived", Options{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	next, err := RequestTransition(trip, "arrived", Options{Flow: FlowPassenger})
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrived, next)

	next, err = RequestTransition(models.Trip{Status: next}, "completed", Options{Flow: FlowPassenger})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, next)
}

func TestForceBypassesTable(t *testing.T) {
	next, err := RequestTransition(models.Trip{ID: "t1", Status: models.StatusCompleted}, "pending", Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, next)
}

func TestForceStillRequiresCanonicalTarget(t *testing.T) {
	_, err := RequestTransition(models.Trip{ID: "t1", Status: models.StatusPending}, "flying", Options{Force: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.CodeInvalidStatus, te.Code)
}

func TestAssignedWithoutDriverIsNotRejected(t *testing.T) {
	next, err := RequestTransition(models.Trip{ID: "t1", Status: models.StatusPending}, "assigned", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, next)
}

func TestAllowedDoesNotLeakTable(t *testing.T) {
	got := Allowed(models.StatusOnTheWay, FlowPassenger)
	got[0] = models.StatusCompleted
	assert.Equal(t, models.StatusOnTrip, Allowed(models.StatusOnTheWay, FlowDispatch)[0])
}

func TestParseFlow(t *testing.T) {
	assert.Equal(t, FlowPassenger, ParseFlow(" Passenger "))
	assert.Equal(t, FlowDispatch, ParseFlow(""))
	assert.Equal(t, FlowDispatch, ParseFlow("driver"))
	assert.Equal(t, "passenger", FlowPassenger.String())
}
