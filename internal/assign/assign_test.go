package assign

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-engine/internal/models"
)

var pickup = &models.Coord{Lat: 0, Lon: 0}

// north returns a point the given meters due north of the pickup.
func north(meters float64) *models.Coord {
	return &models.Coord{Lat: meters / (6371000.0 * math.Pi / 180), Lon: 0}
}

func zoneStats() []models.Zone {
	return []models.Zone{
		{ID: "z-n", Name: "North", CapacityLimit: 10, ActiveDrivers: 2},
		{ID: "z-s", Name: "South", CapacityLimit: 4, ActiveDrivers: 4},
		{ID: "z-e", Name: "East", CapacityLimit: 0, ActiveDrivers: 0},
	}
}

func tripIn(zone string) models.Trip {
	return models.Trip{ID: "t1", Zone: zone, Status: models.StatusPending, Pickup: pickup, Dropoff: &models.Coord{Lat: 1, Lon: 1}}
}

func ids(r Result) []string {
	out := make([]string, 0, len(r.Suggestions))
	for _, s := range r.Suggestions {
		out = append(out, s.DriverID)
	}
	return out
}

func TestOnlineNearBeatsOfflineNearer(t *testing.T) {
	drivers := []models.Driver{
		{ID: "offline500", Zone: "north", Status: models.DriverOffline, Loc: north(500)},
		{ID: "online1000", Zone: "north", Status: models.DriverOnline, Loc: north(1000)},
	}
	r := Suggest(Request{Trip: tripIn("North"), Drivers: drivers, Zones: zoneStats(), ForceAssign: true})
	require.Equal(t, ModeRanked, r.Mode)
	assert.Equal(t, []string{"online1000", "offline500"}, ids(r))
	assert.InDelta(t, 1000, *r.Suggestions[0].Score, 0.01)
	assert.InDelta(t, 2500, *r.Suggestions[1].Score, 0.01)
}

func TestPenaltyIsFinite(t *testing.T) {
	drivers := []models.Driver{
		{ID: "online3000", Zone: "north", Status: models.DriverAvailable, Loc: north(3000)},
		{ID: "offline500", Zone: "north", Status: models.DriverOffline, Loc: north(500)},
	}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats(), ForceAssign: true})
	assert.Equal(t, []string{"offline500", "online3000"}, ids(r))
}

func TestOfflineExcludedWithoutForce(t *testing.T) {
	drivers := []models.Driver{
		{ID: "off", Zone: "north", Status: models.DriverOffline, Loc: north(10)},
		{ID: "busy", Zone: "north", Status: models.DriverOnTrip, Loc: north(20)},
		{ID: "idle", Zone: "north", Status: "IDLE", Loc: north(900)},
	}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, []string{"idle"}, ids(r))
	assert.True(t, r.Suggestions[0].Online)
	assert.Equal(t, "0.90 km (online)", r.Suggestions[0].Label)
}

func TestNoCrossZoneFallback(t *testing.T) {
	drivers := []models.Driver{
		{ID: "s1", Zone: "south", Status: models.DriverOnline, Loc: north(10)},
	}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats(), ForceAssign: true})
	assert.Equal(t, ModeNone, r.Mode)
	assert.Equal(t, NoteNoZoneDrivers, r.Note)
	assert.Empty(t, r.Suggestions)
	assert.NotNil(t, r.Suggestions)
}

func TestZoneMatchIsTrimmedAndCaseInsensitive(t *testing.T) {
	drivers := []models.Driver{{ID: "d", Zone: "  NORTH ", Status: models.DriverOnline, Loc: north(10)}}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, []string{"d"}, ids(r))
}

func TestFullZoneExcludedEvenWhenForced(t *testing.T) {
	drivers := []models.Driver{{ID: "s1", Zone: "South", Status: models.DriverOnline, Loc: north(10)}}
	r := Suggest(Request{Trip: tripIn("south"), Drivers: drivers, Zones: zoneStats(), ForceAssign: true})
	assert.Equal(t, ModeNone, r.Mode)
	assert.Equal(t, NoteZoneGated, r.Note)
}

func TestUnknownCapacityFailsClosed(t *testing.T) {
	drivers := []models.Driver{
		{ID: "e1", Zone: "east", Status: models.DriverOnline, Loc: north(10)},
		{ID: "w1", Zone: "west", Status: models.DriverOnline, Loc: north(10)},
	}
	r := Suggest(Request{Trip: tripIn("east"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, NoteZoneGated, r.Note)

	// west has no stats at all
	r = Suggest(Request{Trip: tripIn("west"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, NoteZoneGated, r.Note)
}

func TestAllOfflineNote(t *testing.T) {
	drivers := []models.Driver{{ID: "n1", Zone: "north", Status: models.DriverOffline, Loc: north(10)}}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, NoteAllOffline, r.Note)
}

func TestUnrankedWhenTripHasNoPickup(t *testing.T) {
	drivers := make([]models.Driver, 0, 7)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		drivers = append(drivers, models.Driver{ID: id, Zone: "north", Status: models.DriverOnline, Loc: north(10)})
	}
	trip := tripIn("north")
	trip.Pickup = nil
	r := Suggest(Request{Trip: trip, Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, ModeUnranked, r.Mode)
	assert.Equal(t, NoteNoPickup, r.Note)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(r))
	assert.Nil(t, r.Suggestions[0].DistanceMeters)
}

func TestUnrankedWhenNoDriverHasCoords(t *testing.T) {
	drivers := []models.Driver{
		{ID: "b", Zone: "north", Status: models.DriverOnline},
		{ID: "a", Zone: "north", Status: models.DriverOffline},
	}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats(), ForceAssign: true})
	assert.Equal(t, ModeUnranked, r.Mode)
	assert.Equal(t, NoteNoDriverCoord, r.Note)
	assert.Equal(t, []string{"b", "a"}, ids(r))
	assert.Equal(t, "distance unknown (offline)", r.Suggestions[1].Label)
}

func TestCapAndStableTies(t *testing.T) {
	drivers := make([]models.Driver, 0, 8)
	for _, id := range []string{"h", "g", "f", "e", "d", "c", "b", "a"} {
		drivers = append(drivers, models.Driver{ID: id, Zone: "north", Status: models.DriverOnline, Loc: north(100)})
	}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, []string{"h", "g", "f", "e", "d"}, ids(r))
}

func TestSuggestDoesNotMutateRoster(t *testing.T) {
	drivers := []models.Driver{
		{ID: "far", Zone: "north", Status: models.DriverOnline, Loc: north(900)},
		{ID: "near", Zone: "north", Status: models.DriverOnline, Loc: north(100)},
	}
	Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats()})
	assert.Equal(t, "far", drivers[0].ID)
	assert.Equal(t, "near", drivers[1].ID)
}

func TestOfflineLabel(t *testing.T) {
	drivers := []models.Driver{{ID: "o", Zone: "north", Status: models.DriverOffline, Loc: north(1500)}}
	r := Suggest(Request{Trip: tripIn("north"), Drivers: drivers, Zones: zoneStats(), ForceAssign: true})
	require.Len(t, r.Suggestions, 1)
	assert.Equal(t, "1.50 km (offline, +2.0 km penalty)", r.Suggestions[0].Label)
}
