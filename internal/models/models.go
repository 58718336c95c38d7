package models

import (
	"math"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both components are finite numbers.
func (c *Coord) Valid() bool {
	if c == nil {
		return false
	}
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) && !math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}

// Status is the canonical trip status vocabulary. The empty value means unknown.
type Status string

const (
	StatusUnknown   Status = ""
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusOnTheWay  Status = "on_the_way"
	StatusArrived   Status = "arrived"
	StatusOnTrip    Status = "on_trip"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Trip is the canonical internal record for a booking. Optional values are
// pointers so that "absent" stays distinguishable from a zero value.
type Trip struct {
	ID        string     `json:"id"`
	Code      string     `json:"code,omitempty"`
	Status    Status     `json:"status"`
	Zone      string     `json:"zone"`
	Pickup    *Coord     `json:"pickup,omitempty"`
	Dropoff   *Coord     `json:"dropoff,omitempty"`
	DriverID  string     `json:"driver_id,omitempty"`
	Fare      int64      `json:"fare,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// HasDriver reports whether an assignment relationship exists.
func (t Trip) HasDriver() bool { return strings.TrimSpace(t.DriverID) != "" }

// LastTouched returns updated_at, falling back to created_at.
func (t Trip) LastTouched() *time.Time {
	if t.UpdatedAt != nil {
		return t.UpdatedAt
	}
	return t.CreatedAt
}

// DriverState is the driver's reported availability.
type DriverState string

const (
	DriverOnline    DriverState = "online"
	DriverAvailable DriverState = "available"
	DriverIdle      DriverState = "idle"
	DriverWaiting   DriverState = "waiting"
	DriverOnTrip    DriverState = "on_trip"
	DriverOnTheWay  DriverState = "on_the_way"
	DriverOffline   DriverState = "offline"
)

// OnlineLike reports whether the driver can take a new trip right now.
func (s DriverState) OnlineLike() bool {
	switch DriverState(strings.ToLower(strings.TrimSpace(string(s)))) {
	case DriverOnline, DriverAvailable, DriverIdle, DriverWaiting:
		return true
	}
	return false
}

type Driver struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Zone      string      `json:"zone"`
	Status    DriverState `json:"status"`
	Loc       *Coord      `json:"loc,omitempty"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

// ZoneStatus is the capacity state derived from a zone's counters.
type ZoneStatus string

const (
	ZoneOK      ZoneStatus = "OK"
	ZoneWarn    ZoneStatus = "WARN"
	ZoneFull    ZoneStatus = "FULL"
	ZoneUnknown ZoneStatus = "UNKNOWN"
)

// ZoneWarnRatio is the share of capacity at which a zone turns WARN.
const ZoneWarnRatio = 0.8

type Zone struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CapacityLimit int    `json:"capacity_limit"`
	ActiveDrivers int    `json:"active_drivers"`
}

// Status derives the capacity state. A non-positive limit cannot be judged.
func (z Zone) Status() ZoneStatus {
	if z.CapacityLimit <= 0 || z.ActiveDrivers < 0 {
		return ZoneUnknown
	}
	if z.ActiveDrivers >= z.CapacityLimit {
		return ZoneFull
	}
	if float64(z.ActiveDrivers) >= ZoneWarnRatio*float64(z.CapacityLimit) {
		return ZoneWarn
	}
	return ZoneOK
}

// ZoneKey folds a zone/town label for comparison.
func ZoneKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// EventKind distinguishes trip change events.
type EventKind string

const (
	EventStatusChanged  EventKind = "status_changed"
	EventDriverAssigned EventKind = "driver_assigned"
)

// TripEvent is emitted after the store confirms a change.
type TripEvent struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"kind"`
	TripID   string    `json:"trip_id"`
	From     Status    `json:"from,omitempty"`
	To       Status    `json:"to,omitempty"`
	DriverID string    `json:"driver_id,omitempty"`
	At       time.Time `json:"at"`
}
