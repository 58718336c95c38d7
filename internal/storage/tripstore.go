package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
)

// TripFilter narrows a trips snapshot. Empty fields match everything.
type TripFilter struct {
	Zone   string
	Status models.Status
}

func (f TripFilter) match(t models.Trip) bool {
	if f.Zone != "" && models.ZoneKey(f.Zone) != models.ZoneKey(t.Zone) {
		return false
	}
	if f.Status != "" && lifecycle.Normalize(string(f.Status)) != t.Status {
		return false
	}
	return true
}

// Store is the system of record for trips, drivers and zones. Updates are
// last-write-wins; there is no version check.
type Store interface {
	ListTrips(ctx context.Context, f TripFilter) ([]models.Trip, error)
	// GetTrip resolves ref as a trip id first, then as a booking code.
	GetTrip(ctx context.Context, ref string) (models.Trip, error)
	SaveTrip(ctx context.Context, t models.Trip) error
	UpdateStatus(ctx context.Context, id string, status models.Status) (models.Trip, error)
	// AssignDriver replaces any prior driver; it never appends.
	AssignDriver(ctx context.Context, id, driverID string) (models.Trip, error)

	ListDrivers(ctx context.Context, zone string) ([]models.Driver, error)
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	SaveDriver(ctx context.Context, d models.Driver) error

	ListZones(ctx context.Context) ([]models.Zone, error)
	SaveZone(ctx context.Context, z models.Zone) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	trips   map[string]models.Trip
	order   []string
	drivers map[string]models.Driver
	dorder  []string
	zones   map[string]models.Zone
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:   make(map[string]models.Trip),
		drivers: make(map[string]models.Driver),
		zones:   make(map[string]models.Zone),
		now:     time.Now,
	}
}

func (m *MemoryStore) ListTrips(_ context.Context, f TripFilter) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Trip, 0, len(m.order))
	for _, id := range m.order {
		if t := m.trips[id]; f.match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTrip(_ context.Context, ref string) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lookup(ref)
	if !ok {
		return models.Trip{}, models.ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) lookup(ref string) (models.Trip, bool) {
	ref = strings.TrimSpace(ref)
	if t, ok := m.trips[ref]; ok {
		return t, true
	}
	for _, id := range m.order {
		if t := m.trips[id]; t.Code != "" && strings.EqualFold(t.Code, ref) {
			return t, true
		}
	}
	return models.Trip{}, false
}

func (m *MemoryStore) SaveTrip(_ context.Context, t models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	m.trips[t.ID] = t
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lookup(id)
	if !ok {
		return models.Trip{}, models.ErrNotFound
	}
	now := m.now()
	t.Status = status
	t.UpdatedAt = &now
	m.trips[t.ID] = t
	return t, nil
}

func (m *MemoryStore) AssignDriver(_ context.Context, id, driverID string) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lookup(id)
	if !ok {
		return models.Trip{}, models.ErrNotFound
	}
	now := m.now()
	t.DriverID = driverID
	t.UpdatedAt = &now
	m.trips[t.ID] = t
	return t, nil
}

func (m *MemoryStore) ListDrivers(_ context.Context, zone string) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.dorder))
	for _, id := range m.dorder {
		d := m.drivers[id]
		if zone != "" && models.ZoneKey(zone) != models.ZoneKey(d.Zone) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, models.ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		m.dorder = append(m.dorder, d.ID)
	}
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) ListZones(_ context.Context) ([]models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveZone(_ context.Context, z models.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[z.ID] = z
	return nil
}
