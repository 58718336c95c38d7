// Package assign ranks drivers for a trip. The output is advisory: committing
// a suggestion goes through the same assignment operation as a manual pick.
package assign

import (
	"fmt"
	"sort"

	"github.com/example/dispatch-engine/internal/geo"
	"github.com/example/dispatch-engine/internal/models"
)

const (
	// MaxSuggestions caps every result list.
	MaxSuggestions = 5
	// OfflinePenaltyMeters is added to the distance of drivers that are not online-like.
	OfflinePenaltyMeters = 2000.0
)

// Mode describes how a result was produced.
type Mode string

const (
	ModeRanked   Mode = "ranked"
	ModeUnranked Mode = "unranked"
	ModeNone     Mode = "no_candidates"
)

const (
	NoteNoZoneDrivers = "no eligible drivers in zone"
	NoteZoneGated     = "zone capacity is full or unknown"
	NoteAllOffline    = "no online drivers in zone"
	NoteNoPickup      = "ranking unavailable: trip has no pickup coordinates"
	NoteNoDriverCoord = "ranking unavailable: no candidate has coordinates"
)

// Request is one read-only evaluation input.
type Request struct {
	Trip        models.Trip
	Drivers     []models.Driver
	Zones       []models.Zone
	ForceAssign bool
}

type Suggestion struct {
	DriverID       string   `json:"driver_id"`
	Name           string   `json:"name,omitempty"`
	Online         bool     `json:"online"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	Score          *float64 `json:"score,omitempty"`
	Label          string   `json:"label"`
}

type Result struct {
	Mode        Mode         `json:"mode"`
	Note        string       `json:"note,omitempty"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Suggest filters the roster down to eligible drivers and ranks them by
// distance to pickup plus the offline penalty. Drivers and zones are not
// modified.
func Suggest(req Request) Result {
	zoneKey := models.ZoneKey(req.Trip.Zone)

	inZone := make([]models.Driver, 0)
	for _, d := range req.Drivers {
		if zoneKey != "" && models.ZoneKey(d.Zone) == zoneKey {
			inZone = append(inZone, d)
		}
	}
	if len(inZone) == 0 {
		return empty(NoteNoZoneDrivers)
	}

	zones := indexZones(req.Zones)
	eligible := make([]models.Driver, 0, len(inZone))
	for _, d := range inZone {
		if !zoneOpen(zones, d.Zone) {
			continue
		}
		if !req.ForceAssign && !d.Status.OnlineLike() {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		if !zoneOpen(zones, req.Trip.Zone) {
			return empty(NoteZoneGated)
		}
		return empty(NoteAllOffline)
	}

	if !req.Trip.Pickup.Valid() {
		return unranked(eligible, NoteNoPickup)
	}
	anyCoords := false
	for _, d := range eligible {
		if d.Loc.Valid() {
			anyCoords = true
			break
		}
	}
	if !anyCoords {
		return unranked(eligible, NoteNoDriverCoord)
	}

	type scored struct {
		d     models.Driver
		dist  float64
		score float64
	}
	list := make([]scored, 0, len(eligible))
	for _, d := range eligible {
		dist, ok := geo.Distance(req.Trip.Pickup, d.Loc)
		if !ok {
			continue
		}
		score := dist
		if !d.Status.OnlineLike() {
			score += OfflinePenaltyMeters
		}
		list = append(list, scored{d, dist, score})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score < list[j].score })
	if len(list) > MaxSuggestions {
		list = list[:MaxSuggestions]
	}

	out := make([]Suggestion, 0, len(list))
	for _, s := range list {
		dist, score := s.dist, s.score
		online := s.d.Status.OnlineLike()
		out = append(out, Suggestion{
			DriverID:       s.d.ID,
			Name:           s.d.Name,
			Online:         online,
			DistanceMeters: &dist,
			Score:          &score,
			Label:          rankedLabel(dist, online),
		})
	}
	return Result{Mode: ModeRanked, Suggestions: out}
}

func empty(note string) Result {
	return Result{Mode: ModeNone, Note: note, Suggestions: []Suggestion{}}
}

func unranked(drivers []models.Driver, note string) Result {
	if len(drivers) > MaxSuggestions {
		drivers = drivers[:MaxSuggestions]
	}
	out := make([]Suggestion, 0, len(drivers))
	for _, d := range drivers {
		online := d.Status.OnlineLike()
		out = append(out, Suggestion{
			DriverID: d.ID,
			Name:     d.Name,
			Online:   online,
			Label:    "distance unknown (" + onlineWord(online) + ")",
		})
	}
	return Result{Mode: ModeUnranked, Note: note, Suggestions: out}
}

func rankedLabel(meters float64, online bool) string {
	if online {
		return fmt.Sprintf("%.2f km (online)", meters/1000)
	}
	return fmt.Sprintf("%.2f km (offline, +%.1f km penalty)", meters/1000, OfflinePenaltyMeters/1000)
}

func onlineWord(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func indexZones(zones []models.Zone) map[string]models.Zone {
	out := make(map[string]models.Zone, len(zones)*2)
	for _, z := range zones {
		if k := models.ZoneKey(z.ID); k != "" {
			out[k] = z
		}
		if k := models.ZoneKey(z.Name); k != "" {
			out[k] = z
		}
	}
	return out
}

// zoneOpen fails closed: a zone without stats or with an undecidable
// capacity is treated as unavailable, the same as FULL.
func zoneOpen(zones map[string]models.Zone, label string) bool {
	z, ok := zones[models.ZoneKey(label)]
	if !ok {
		return false
	}
	switch z.Status() {
	case models.ZoneOK, models.ZoneWarn:
		return true
	}
	return false
}
