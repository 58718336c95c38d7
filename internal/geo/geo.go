package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/dispatch-engine/internal/models"
)

// EarthRadiusMeters is the spherical-earth radius used for all ranking.
const EarthRadiusMeters = 6371000.0

// HaversineMeters is the great-circle distance in meters. Ranking uses it as a
// cheap heuristic; it is not a road distance.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Distance returns the meters between two coordinates, or false when either
// side is missing or non-finite.
func Distance(a, b *models.Coord) (float64, bool) {
	if !a.Valid() || !b.Valid() {
		return 0, false
	}
	return HaversineMeters(a.Lat, a.Lon, b.Lat, b.Lon), true
}

// Position is the last reported location of a driver.
type Position struct {
	DriverID  string       `json:"driver_id"`
	Loc       models.Coord `json:"loc"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Locator stores live driver positions.
type Locator interface {
	Upsert(ctx context.Context, p Position) error
	Positions(ctx context.Context, driverIDs []string) (map[string]Position, error)
}

// Index is the in-memory Locator used when Redis is not configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]Position
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]Position)}
}

func (g *Index) Upsert(_ context.Context, p Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	g.drivers[p.DriverID] = p
	return nil
}

func (g *Index) Positions(_ context.Context, driverIDs []string) (map[string]Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Position, len(driverIDs))
	for _, id := range driverIDs {
		if p, ok := g.drivers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Enrich overlays live positions onto a roster. A live position wins when the
// driver has no coordinates or the position is newer than the record.
func Enrich(ctx context.Context, loc Locator, drivers []models.Driver) ([]models.Driver, error) {
	if loc == nil || len(drivers) == 0 {
		return drivers, nil
	}
	ids := make([]string, 0, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID)
	}
	pos, err := loc.Positions(ctx, ids)
	if err != nil {
		return drivers, err
	}
	out := make([]models.Driver, len(drivers))
	copy(out, drivers)
	for i, d := range out {
		p, ok := pos[d.ID]
		if !ok {
			continue
		}
		if !d.Loc.Valid() || d.UpdatedAt == nil || p.UpdatedAt.After(*d.UpdatedAt) {
			c := p.Loc
			ts := p.UpdatedAt
			out[i].Loc = &c
			out[i].UpdatedAt = &ts
		}
	}
	return out, nil
}
