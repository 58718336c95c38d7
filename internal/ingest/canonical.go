package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
)

// Producers disagree on field names. Every alias is resolved here, once, and
// the rest of the code only sees the canonical records.
var (
	tripIDKeys      = []string{"id", "_id", "trip_id", "tripId", "booking_id", "bookingId"}
	tripCodeKeys    = []string{"code", "booking_code", "bookingCode"}
	statusKeys      = []string{"status", "trip_status", "tripStatus", "state"}
	zoneKeys        = []string{"zone", "town", "zone_name", "zoneName", "home_zone", "homeZone"}
	driverRefKeys   = []string{"driver_id", "driverId", "assigned_driver_id", "assignedDriverId", "driver"}
	fareKeys        = []string{"fare", "price", "amount"}
	updatedKeys     = []string{"updated_at", "updatedAt", "updated", "last_update", "lastUpdate"}
	createdKeys     = []string{"created_at", "createdAt"}
	driverIDKeys    = []string{"id", "_id", "driver_id", "driverId"}
	driverNameKeys  = []string{"name", "full_name", "fullName", "display_name"}
	latKeys         = []string{"lat", "latitude"}
	lonKeys         = []string{"lng", "lon", "long", "longitude"}
	capacityKeys    = []string{"capacity_limit", "capacityLimit", "capacity"}
	activeKeys      = []string{"active_drivers", "activeDrivers", "active"}
	tripListKeys    = []string{"trips", "bookings", "data", "items"}
	driverListKeys  = []string{"drivers", "data", "items"}
	zoneListKeys    = []string{"zones", "towns", "data", "items"}
	timestampLayout = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
)

// Raw is one decoded JSON object of unknown shape.
type Raw map[string]any

// Trip canonicalizes a raw trip row.
func Trip(raw Raw) (models.Trip, error) {
	t := models.Trip{
		ID:        str(raw, tripIDKeys...),
		Code:      str(raw, tripCodeKeys...),
		Status:    lifecycle.Normalize(str(raw, statusKeys...)),
		Zone:      strings.TrimSpace(str(raw, zoneKeys...)),
		Pickup:    coord(raw, "pickup"),
		Dropoff:   coord(raw, "dropoff"),
		DriverID:  ref(raw, driverRefKeys...),
		UpdatedAt: timestamp(raw, updatedKeys...),
		CreatedAt: timestamp(raw, createdKeys...),
	}
	if f, ok := num(raw, fareKeys...); ok {
		t.Fare = int64(math.Round(f))
	}
	if t.ID == "" {
		t.ID = t.Code
	}
	if t.ID == "" {
		return models.Trip{}, fmt.Errorf("%w: trip without id or booking code", models.ErrBadRequest)
	}
	return t, nil
}

// Driver canonicalizes a raw driver row or location message.
func Driver(raw Raw) (models.Driver, error) {
	d := models.Driver{
		ID:        str(raw, driverIDKeys...),
		Name:      str(raw, driverNameKeys...),
		Zone:      strings.TrimSpace(str(raw, zoneKeys...)),
		Status:    models.DriverState(strings.ToLower(strings.TrimSpace(str(raw, statusKeys...)))),
		UpdatedAt: timestamp(raw, updatedKeys...),
	}
	for _, prefix := range []string{"loc", "location", "position", "current"} {
		if c := coord(raw, prefix); c != nil {
			d.Loc = c
			break
		}
	}
	if d.Loc == nil {
		d.Loc = latLon(raw)
	}
	if d.Status == "" {
		// The location stream only carries a boolean.
		if b, ok := raw["online"].(bool); ok {
			d.Status = models.DriverOffline
			if b {
				d.Status = models.DriverOnline
			}
		}
	}
	if d.ID == "" {
		return models.Driver{}, fmt.Errorf("%w: driver without id", models.ErrBadRequest)
	}
	return d, nil
}

// Zone canonicalizes a raw zone stats row.
func Zone(raw Raw) (models.Zone, error) {
	z := models.Zone{
		ID:   str(raw, "id", "_id", "zone_id", "zoneId"),
		Name: str(raw, "name", "zone", "town", "display_name"),
	}
	if v, ok := num(raw, capacityKeys...); ok {
		z.CapacityLimit = int(v)
	}
	if v, ok := num(raw, activeKeys...); ok {
		z.ActiveDrivers = int(v)
	}
	if z.ID == "" {
		z.ID = z.Name
	}
	if z.ID == "" {
		return models.Zone{}, fmt.Errorf("%w: zone without id or name", models.ErrBadRequest)
	}
	return z, nil
}

// DecodeTrips accepts a bare array or an envelope and canonicalizes every row.
// Rows that cannot be identified are skipped and reported in the error count.
func DecodeTrips(data []byte) ([]models.Trip, int, error) {
	rows, err := decodeList(data, tripListKeys)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Trip, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		t, err := Trip(r)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out, skipped, nil
}

func DecodeDrivers(data []byte) ([]models.Driver, int, error) {
	rows, err := decodeList(data, driverListKeys)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Driver, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		d, err := Driver(r)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, d)
	}
	return out, skipped, nil
}

func DecodeZones(data []byte) ([]models.Zone, int, error) {
	rows, err := decodeList(data, zoneListKeys)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Zone, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		z, err := Zone(r)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, z)
	}
	return out, skipped, nil
}

// DecodeObject canonicalizes a single JSON object.
func DecodeObject(data []byte) (Raw, error) {
	var r Raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}
	return r, nil
}

func decodeList(data []byte, envelopeKeys []string) ([]Raw, error) {
	var list []Raw
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}
	for _, k := range envelopeKeys {
		if v, ok := env[k]; ok {
			if err := json.Unmarshal(v, &list); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", models.ErrBadRequest, k, err)
			}
			return list, nil
		}
	}
	return []Raw{}, nil
}

func str(raw Raw, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// ref reads an id that may be inlined as a nested object ({"driver": {"id": ...}}).
func ref(raw Raw, keys ...string) string {
	if s := str(raw, keys...); s != "" {
		return s
	}
	for _, k := range keys {
		if m, ok := raw[k].(map[string]any); ok {
			if s := str(Raw(m), "id", "_id"); s != "" {
				return s
			}
		}
	}
	return ""
}

func num(raw Raw, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return v, true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// coord reads either a nested {prefix: {lat, lng}} object or flat
// prefix_lat / prefixLat style fields. Partial or non-finite pairs are absent.
func coord(raw Raw, prefix string) *models.Coord {
	if m, ok := raw[prefix].(map[string]any); ok {
		if c := latLon(Raw(m)); c != nil {
			return c
		}
	}
	lats := make([]string, 0, len(latKeys)*2)
	lons := make([]string, 0, len(lonKeys)*2)
	for _, k := range latKeys {
		lats = append(lats, prefix+"_"+k, prefix+title(k))
	}
	for _, k := range lonKeys {
		lons = append(lons, prefix+"_"+k, prefix+title(k))
	}
	lat, okLat := num(raw, lats...)
	lon, okLon := num(raw, lons...)
	if !okLat || !okLon {
		return nil
	}
	c := &models.Coord{Lat: lat, Lon: lon}
	if !c.Valid() {
		return nil
	}
	return c
}

func latLon(raw Raw) *models.Coord {
	lat, okLat := num(raw, latKeys...)
	lon, okLon := num(raw, lonKeys...)
	if !okLat || !okLon {
		return nil
	}
	c := &models.Coord{Lat: lat, Lon: lon}
	if !c.Valid() {
		return nil
	}
	return c
}

func title(s string) string { return strings.ToUpper(s[:1]) + s[1:] }

// timestamp parses RFC 3339 strings or unix epochs (seconds or milliseconds)
// from the first key that carries a value. Absent, null or empty values yield
// nil so the caller can fall back to another field. A value that is present
// but unparseable yields the zero time, which reads as infinitely old.
func timestamp(raw Raw, keys ...string) *time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch v := v.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			for _, layout := range timestampLayout {
				if ts, err := time.Parse(layout, s); err == nil {
					return &ts
				}
			}
		case float64:
			if ts := epoch(v); ts != nil {
				return ts
			}
		case json.Number:
			if f, err := v.Float64(); err == nil {
				if ts := epoch(f); ts != nil {
					return ts
				}
			}
		}
		return &time.Time{}
	}
	return nil
}

func epoch(v float64) *time.Time {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	var ts time.Time
	if v >= 1e12 {
		ts = time.UnixMilli(int64(v)).UTC()
	} else {
		ts = time.Unix(int64(v), 0).UTC()
	}
	return &ts
}
