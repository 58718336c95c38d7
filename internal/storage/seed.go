package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/dispatch-engine/internal/ingest"
)

// SeedCounts reports what a seed document loaded and how many rows were
// skipped because they could not be identified.
type SeedCounts struct {
	Trips, Drivers, Zones int
	Skipped               int
}

// Seed loads a document of the form {"trips":[...],"drivers":[...],"zones":[...]}
// into s. Each list accepts the same row shapes as the API ingest path.
func Seed(ctx context.Context, s Store, data []byte) (SeedCounts, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return SeedCounts{}, fmt.Errorf("storage.Seed: %w", err)
	}
	var n SeedCounts

	if raw, ok := doc["zones"]; ok {
		zones, skipped, err := ingest.DecodeZones(raw)
		if err != nil {
			return n, fmt.Errorf("storage.Seed zones: %w", err)
		}
		n.Skipped += skipped
		for _, z := range zones {
			if err := s.SaveZone(ctx, z); err != nil {
				return n, fmt.Errorf("storage.Seed zone %s: %w", z.Name, err)
			}
			n.Zones++
		}
	}
	if raw, ok := doc["drivers"]; ok {
		drivers, skipped, err := ingest.DecodeDrivers(raw)
		if err != nil {
			return n, fmt.Errorf("storage.Seed drivers: %w", err)
		}
		n.Skipped += skipped
		for _, d := range drivers {
			if err := s.SaveDriver(ctx, d); err != nil {
				return n, fmt.Errorf("storage.Seed driver %s: %w", d.ID, err)
			}
			n.Drivers++
		}
	}
	if raw, ok := doc["trips"]; ok {
		trips, skipped, err := ingest.DecodeTrips(raw)
		if err != nil {
			return n, fmt.Errorf("storage.Seed trips: %w", err)
		}
		n.Skipped += skipped
		for _, t := range trips {
			if err := s.SaveTrip(ctx, t); err != nil {
				return n, fmt.Errorf("storage.Seed trip %s: %w", t.ID, err)
			}
			n.Trips++
		}
	}
	return n, nil
}
