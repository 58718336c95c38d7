// Package fare computes the pickup-distance surcharge and fare breakdowns.
// Amounts are whole currency units.
package fare

import (
	"math"

	"github.com/example/dispatch-engine/internal/geo"
	"github.com/example/dispatch-engine/internal/models"
)

// Schedule is the pickup-distance fee rule.
type Schedule struct {
	FreeRadiusKm float64
	BaseFee      int64
	StepKm       float64
	StepFee      int64
}

// DefaultSchedule: free within 1.5 km, then 20 plus 10 per started 0.5 km.
var DefaultSchedule = Schedule{FreeRadiusKm: 1.5, BaseFee: 20, StepKm: 0.5, StepFee: 10}

// Fee returns the surcharge for a driver-to-pickup distance. Non-finite input
// yields 0. Partial steps round up.
func (s Schedule) Fee(km float64) int64 {
	if math.IsNaN(km) || math.IsInf(km, 0) || km <= s.FreeRadiusKm {
		return 0
	}
	steps := int64(math.Ceil((km - s.FreeRadiusKm) / s.StepKm))
	if steps < 0 {
		steps = 0
	}
	return s.BaseFee + steps*s.StepFee
}

// PickupFee applies DefaultSchedule.
func PickupFee(km float64) int64 { return DefaultSchedule.Fee(km) }

// PickupFeePtr treats a nil distance as unknown, which costs nothing.
func PickupFeePtr(km *float64) int64 { return PickupFeePtrWith(DefaultSchedule, km) }

// Quote is a fare breakdown for one trip and driver.
type Quote struct {
	TripID           string   `json:"trip_id"`
	DriverID         string   `json:"driver_id,omitempty"`
	DriverToPickupKm *float64 `json:"driver_to_pickup_km,omitempty"`
	BaseFare         int64    `json:"base_fare"`
	PickupFee        int64    `json:"pickup_fee"`
	Total            int64    `json:"total"`
}

// QuoteFor prices trip with driver d. A missing coordinate on either side
// leaves the distance unknown and the pickup fee at 0.
func (s Schedule) QuoteFor(trip models.Trip, d *models.Driver) Quote {
	q := Quote{TripID: trip.ID, BaseFare: trip.Fare}
	if d != nil {
		q.DriverID = d.ID
		if meters, ok := geo.Distance(d.Loc, trip.Pickup); ok {
			km := kmFromMeters(meters)
			q.DriverToPickupKm = &km
		}
	}
	q.PickupFee = PickupFeePtrWith(s, q.DriverToPickupKm)
	q.Total = q.BaseFare + q.PickupFee
	return q
}

// kmFromMeters rounds to the whole meter first, so Haversine noise around a
// step boundary (1999.9999999 m) prices as the boundary itself.
func kmFromMeters(m float64) float64 { return math.Round(m) / 1000 }

// PickupFeePtrWith is PickupFeePtr for a specific schedule.
func PickupFeePtrWith(s Schedule, km *float64) int64 {
	if km == nil {
		return 0
	}
	return s.Fee(*km)
}
