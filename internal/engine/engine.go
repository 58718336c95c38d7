// Package engine is the authoritative side of the dispatch workflow. It gates
// status changes, records assignments, answers suggestion and fee queries and
// emits an event for every committed change.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/assign"
	"github.com/example/dispatch-engine/internal/fare"
	"github.com/example/dispatch-engine/internal/geo"
	"github.com/example/dispatch-engine/internal/ingest"
	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/observability"
	"github.com/example/dispatch-engine/internal/problems"
	"github.com/example/dispatch-engine/internal/storage"
)

// Notifier receives events after the store has confirmed a change.
type Notifier interface {
	Notify(ctx context.Context, e models.TripEvent)
}

// LocationPublisher forwards accepted driver positions, e.g. to Kafka.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, p geo.Position) error
}

type Service struct {
	Store     storage.Store
	Locator   geo.Locator       // optional live positions
	Detector  *problems.Detector
	Fares     fare.Schedule
	Events    Notifier          // optional
	Locations LocationPublisher // optional
	Logger    zerolog.Logger
	Now       func() time.Time
}

// New wires a Service with the default detector thresholds and fee schedule.
func New(store storage.Store, logger zerolog.Logger) *Service {
	return &Service{
		Store:    store,
		Detector: problems.NewDetector(problems.DefaultThresholds()),
		Fares:    fare.DefaultSchedule,
		Logger:   logger,
		Now:      time.Now,
	}
}

// TripView is a trip annotated with its current problem, if any.
type TripView struct {
	models.Trip
	Problem string `json:"problem,omitempty"`
}

// Assignment echoes a committed driver assignment.
type Assignment struct {
	DriverID string `json:"driver_id"`
	Note     string `json:"note,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) GetTrip(ctx context.Context, ref string) (models.Trip, error) {
	if strings.TrimSpace(ref) == "" {
		return models.Trip{}, fmt.Errorf("%w: empty trip reference", models.ErrBadRequest)
	}
	return s.Store.GetTrip(ctx, ref)
}

// Trip returns one trip with its current problem annotation.
func (s *Service) Trip(ctx context.Context, ref string) (TripView, error) {
	t, err := s.GetTrip(ctx, ref)
	if err != nil {
		return TripView{}, err
	}
	return TripView{Trip: t, Problem: s.Detector.Index([]models.Trip{t})[t.ID]}, nil
}

// ChangeStatus validates the move against the lifecycle table and persists
// it. Rejected requests never reach the store.
func (s *Service) ChangeStatus(ctx context.Context, ref, target string, opts lifecycle.Options) (models.Trip, error) {
	trip, err := s.GetTrip(ctx, ref)
	if err != nil {
		observability.TransitionsTotal.WithLabelValues("not_found").Inc()
		return models.Trip{}, err
	}
	next, err := lifecycle.RequestTransition(trip, target, opts)
	if err != nil {
		observability.TransitionsTotal.WithLabelValues("rejected").Inc()
		s.Logger.Debug().Err(err).Str("trip_id", trip.ID).Str("from", string(trip.Status)).Str("to", target).Msg("transition rejected")
		return models.Trip{}, err
	}

	updated, err := s.Store.UpdateStatus(ctx, trip.ID, next)
	if err != nil {
		observability.TransitionsTotal.WithLabelValues("error").Inc()
		return models.Trip{}, fmt.Errorf("update status: %w", err)
	}
	result, ev := "ok", s.Logger.Info()
	if opts.Force && !lifecycle.CanTransition(trip.Status, next, opts.Flow) {
		result, ev = "forced", s.Logger.Warn()
	}
	observability.TransitionsTotal.WithLabelValues(result).Inc()
	ev.
		Str("trip_id", trip.ID).
		Str("from", string(trip.Status)).
		Str("to", string(next)).
		Bool("force", opts.Force).
		Msg("trip status changed")

	s.emit(ctx, models.TripEvent{Kind: models.EventStatusChanged, TripID: trip.ID, From: trip.Status, To: next, DriverID: updated.DriverID})
	return updated, nil
}

// AssignDriver links driverID to the trip, replacing any previous driver.
// Status is left untouched; moving to assigned is a separate transition.
func (s *Service) AssignDriver(ctx context.Context, ref, driverID, note string) (Assignment, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		observability.AssignmentsTotal.WithLabelValues("rejected").Inc()
		return Assignment{}, fmt.Errorf("%w: driver_id is required", models.ErrBadRequest)
	}
	trip, err := s.GetTrip(ctx, ref)
	if err != nil {
		observability.AssignmentsTotal.WithLabelValues("not_found").Inc()
		return Assignment{}, err
	}
	if _, err := s.Store.GetDriver(ctx, driverID); err != nil {
		observability.AssignmentsTotal.WithLabelValues("not_found").Inc()
		return Assignment{}, fmt.Errorf("driver %s: %w", driverID, err)
	}

	updated, err := s.Store.AssignDriver(ctx, trip.ID, driverID)
	if err != nil {
		observability.AssignmentsTotal.WithLabelValues("error").Inc()
		return Assignment{}, fmt.Errorf("assign driver: %w", err)
	}
	observability.AssignmentsTotal.WithLabelValues("ok").Inc()
	ev := s.Logger.Info().Str("trip_id", trip.ID).Str("driver_id", driverID)
	if trip.HasDriver() && trip.DriverID != driverID {
		ev = ev.Str("replaced", trip.DriverID)
	}
	ev.Msg("driver assigned")

	s.emit(ctx, models.TripEvent{Kind: models.EventDriverAssigned, TripID: trip.ID, From: updated.Status, To: updated.Status, DriverID: driverID})
	return Assignment{DriverID: driverID, Note: strings.TrimSpace(note)}, nil
}

// Suggestions ranks drivers of the trip's zone using stored records
// overlaid with live positions.
func (s *Service) Suggestions(ctx context.Context, ref string, force bool) (assign.Result, error) {
	trip, err := s.GetTrip(ctx, ref)
	if err != nil {
		return assign.Result{}, err
	}
	drivers, err := s.roster(ctx, trip.Zone)
	if err != nil {
		return assign.Result{}, err
	}
	zones, err := s.Store.ListZones(ctx)
	if err != nil {
		return assign.Result{}, fmt.Errorf("list zones: %w", err)
	}
	res := assign.Suggest(assign.Request{Trip: trip, Drivers: drivers, Zones: zones, ForceAssign: force})
	observability.SuggestionsTotal.WithLabelValues(string(res.Mode)).Inc()
	return res, nil
}

// Drivers returns the zone roster with live positions applied.
func (s *Service) Drivers(ctx context.Context, zone string) ([]models.Driver, error) {
	return s.roster(ctx, zone)
}

func (s *Service) roster(ctx context.Context, zone string) ([]models.Driver, error) {
	drivers, err := s.Store.ListDrivers(ctx, zone)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	if s.Locator == nil {
		return drivers, nil
	}
	enriched, err := geo.Enrich(ctx, s.Locator, drivers)
	if err != nil {
		// stored coordinates are still usable
		s.Logger.Warn().Err(err).Msg("live positions unavailable")
		return drivers, nil
	}
	return enriched, nil
}

// ZoneView is a zone with its derived capacity status.
type ZoneView struct {
	models.Zone
	Status models.ZoneStatus `json:"status"`
}

func (s *Service) Zones(ctx context.Context) ([]ZoneView, error) {
	zones, err := s.Store.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	out := make([]ZoneView, 0, len(zones))
	for _, z := range zones {
		out = append(out, ZoneView{Zone: z, Status: z.Status()})
	}
	return out, nil
}

// ListTrips returns trips with problem annotations. With onlyProblems set,
// healthy trips are left out.
func (s *Service) ListTrips(ctx context.Context, f storage.TripFilter, onlyProblems bool) ([]TripView, error) {
	trips, err := s.Store.ListTrips(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	reasons := s.Detector.Index(trips)
	out := make([]TripView, 0, len(trips))
	for _, t := range trips {
		reason := reasons[t.ID]
		if onlyProblems && reason == "" {
			continue
		}
		out = append(out, TripView{Trip: t, Problem: reason})
	}
	return out, nil
}

// Problems evaluates the current snapshot. Flags are derived on every call
// and never stored.
func (s *Service) Problems(ctx context.Context, f storage.TripFilter) ([]problems.Flag, error) {
	trips, err := s.Store.ListTrips(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	flags := s.Detector.Evaluate(trips)
	if f == (storage.TripFilter{}) {
		observability.ProblemTrips.Set(float64(len(flags)))
	}
	return flags, nil
}

// PickupQuote prices the trip for driverID, or for the assigned driver when
// driverID is empty.
func (s *Service) PickupQuote(ctx context.Context, ref, driverID string) (fare.Quote, error) {
	trip, err := s.GetTrip(ctx, ref)
	if err != nil {
		return fare.Quote{}, err
	}
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		driverID = trip.DriverID
	}
	if driverID == "" {
		return s.Fares.QuoteFor(trip, nil), nil
	}
	d, err := s.Store.GetDriver(ctx, driverID)
	if err != nil {
		return fare.Quote{}, fmt.Errorf("driver %s: %w", driverID, err)
	}
	if s.Locator != nil {
		if enriched, err := geo.Enrich(ctx, s.Locator, []models.Driver{d}); err == nil {
			d = enriched[0]
		}
	}
	return s.Fares.QuoteFor(trip, &d), nil
}

// IngestLocation accepts one raw driver location message, records the
// position and merges it into the driver record.
func (s *Service) IngestLocation(ctx context.Context, raw ingest.Raw) (models.Driver, error) {
	d, err := ingest.Driver(raw)
	if err != nil {
		return models.Driver{}, err
	}
	if !d.Loc.Valid() {
		return models.Driver{}, fmt.Errorf("%w: driver %s has no usable coordinates", models.ErrBadRequest, d.ID)
	}
	// an unreadable position time is replaced by receipt time
	at := s.now()
	if d.UpdatedAt != nil && !d.UpdatedAt.IsZero() {
		at = *d.UpdatedAt
	}
	pos := geo.Position{DriverID: d.ID, Loc: *d.Loc, UpdatedAt: at}

	if s.Locator != nil {
		if err := s.Locator.Upsert(ctx, pos); err != nil {
			return models.Driver{}, fmt.Errorf("upsert position: %w", err)
		}
	}

	merged, err := s.Store.GetDriver(ctx, d.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		merged = d
	case err != nil:
		return models.Driver{}, fmt.Errorf("get driver: %w", err)
	default:
		merged.Loc = d.Loc
		if d.Status != "" {
			merged.Status = d.Status
		}
		if d.Zone != "" {
			merged.Zone = d.Zone
		}
		if d.Name != "" {
			merged.Name = d.Name
		}
	}
	merged.UpdatedAt = &at
	if err := s.Store.SaveDriver(ctx, merged); err != nil {
		return models.Driver{}, fmt.Errorf("save driver: %w", err)
	}
	observability.LocationsIngested.Inc()

	if s.Locations != nil {
		if err := s.Locations.PublishLocation(ctx, pos); err != nil {
			s.Logger.Warn().Err(err).Str("driver_id", d.ID).Msg("forward location failed")
		}
	}
	return merged, nil
}

func (s *Service) emit(ctx context.Context, e models.TripEvent) {
	if s.Events == nil {
		return
	}
	e.ID = uuid.NewString()
	e.At = s.now().UTC()
	s.Events.Notify(ctx, e)
}
