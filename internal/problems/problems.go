// Package problems flags trips that need operator attention. Flags are
// recomputed from snapshots on every pass and never stored.
package problems

import (
	"fmt"
	"math"
	"time"

	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
)

const (
	ReasonMissingCoords = "Missing pickup/dropoff coordinates"
	ReasonNoDriver      = "Assigned but no driver linked"
)

// Flag is an advisory annotation on one trip.
type Flag struct {
	TripID     string    `json:"trip_id"`
	Code       string    `json:"code,omitempty"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// Thresholds are the stale limits per status.
type Thresholds struct {
	OnTheWay time.Duration
	Arrived  time.Duration
	OnTrip   time.Duration
}

// DefaultThresholds returns the stock stale limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OnTheWay: 15 * time.Minute,
		Arrived:  15 * time.Minute,
		OnTrip:   25 * time.Minute,
	}
}

func (th Thresholds) limit(s models.Status) (time.Duration, string, bool) {
	switch s {
	case models.StatusOnTheWay:
		return th.OnTheWay, "On the way", true
	case models.StatusArrived:
		return th.Arrived, "Arrived", true
	case models.StatusOnTrip:
		return th.OnTrip, "On trip", true
	}
	return 0, "", false
}

var active = map[models.Status]bool{
	models.StatusPending:  true,
	models.StatusAssigned: true,
	models.StatusOnTheWay: true,
	models.StatusArrived:  true,
	models.StatusOnTrip:   true,
}

// Detect evaluates one trip with the default thresholds.
func Detect(trip models.Trip, now time.Time) (string, bool) {
	return DetectWith(trip, now, DefaultThresholds())
}

// DetectWith returns the first problem reason for trip, if any. It is a pure
// function of the trip fields, now and th.
func DetectWith(trip models.Trip, now time.Time, th Thresholds) (string, bool) {
	status := lifecycle.Normalize(string(trip.Status))

	if active[status] && (!trip.Pickup.Valid() || !trip.Dropoff.Valid()) {
		return ReasonMissingCoords, true
	}
	if status == models.StatusAssigned && !trip.HasDriver() {
		return ReasonNoDriver, true
	}
	if limit, label, ok := th.limit(status); ok {
		mins := MinutesSince(trip.LastTouched(), now)
		if mins >= limit.Minutes() {
			if math.IsInf(mins, 1) {
				return fmt.Sprintf("%s stale (no timestamp)", label), true
			}
			return fmt.Sprintf("%s stale (%dm)", label, int(mins)), true
		}
	}
	return "", false
}

// MinutesSince returns whole elapsed minutes. A missing or zero timestamp is
// infinitely old so that it is flagged rather than hidden.
func MinutesSince(t *time.Time, now time.Time) float64 {
	if t == nil || t.IsZero() {
		return math.Inf(1)
	}
	d := now.Sub(*t)
	if d < 0 {
		return 0
	}
	return math.Floor(d.Minutes())
}

// Detector evaluates whole snapshots.
type Detector struct {
	Thresholds Thresholds
	Now        func() time.Time
}

// NewDetector returns a Detector on the wall clock.
func NewDetector(th Thresholds) *Detector {
	return &Detector{Thresholds: th, Now: time.Now}
}

// Evaluate returns one flag per problem trip, in snapshot order.
func (d *Detector) Evaluate(trips []models.Trip) []Flag {
	now := d.now()
	flags := make([]Flag, 0)
	for _, t := range trips {
		if reason, ok := DetectWith(t, now, d.Thresholds); ok {
			flags = append(flags, Flag{TripID: t.ID, Code: t.Code, Reason: reason, DetectedAt: now})
		}
	}
	return flags
}

// Index evaluates trips and keys the reasons by trip id.
func (d *Detector) Index(trips []models.Trip) map[string]string {
	out := make(map[string]string)
	for _, f := range d.Evaluate(trips) {
		out[f.TripID] = f.Reason
	}
	return out
}

func (d *Detector) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}
