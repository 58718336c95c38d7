// Package coordinator keeps a dispatcher's local view of trips. Operator
// actions patch the view optimistically; every applied snapshot replaces it
// wholesale, so the server's answer always wins over local guesses.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/observability"
	"github.com/example/dispatch-engine/internal/problems"
)

// Source returns the authoritative trips snapshot.
type Source interface {
	FetchTrips(ctx context.Context) ([]models.Trip, error)
}

// Remote executes operator actions against the store.
type Remote interface {
	ChangeStatus(ctx context.Context, ref, status string, force bool) (models.Status, error)
	AssignDriver(ctx context.Context, ref, driverID, note string) error
}

type Coordinator struct {
	src      Source
	remote   Remote
	logger   zerolog.Logger
	detector *problems.Detector
	flow     lifecycle.Flow
	now      func() time.Time

	mu       sync.Mutex
	snapshot []models.Trip
	overlay  map[string]models.Trip
	commands *CommandStore
	issued   uint64
	applied  uint64
	lastSync time.Time

	changed chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Coordinator)

func WithDetector(d *problems.Detector) Option { return func(c *Coordinator) { c.detector = d } }

// WithFlow selects the lifecycle table used for pre-flight checks.
func WithFlow(f lifecycle.Flow) Option { return func(c *Coordinator) { c.flow = f } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func New(src Source, remote Remote, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		src:      src,
		remote:   remote,
		logger:   logger,
		detector: problems.NewDetector(problems.DefaultThresholds()),
		now:      time.Now,
		overlay:  make(map[string]models.Trip),
		changed:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	c.commands = NewCommandStore(c.now)
	return c
}

// Changed signals after every snapshot or optimistic patch. Signals are
// coalesced; readers call View to get the current state.
func (c *Coordinator) Changed() <-chan struct{} { return c.changed }

func (c *Coordinator) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Commands exposes the per-trip command state.
func (c *Coordinator) Commands() *CommandStore { return c.commands }

// Poll fetches one snapshot and applies it unless a newer poll's result has
// already been applied.
func (c *Coordinator) Poll(ctx context.Context) error {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	trips, err := c.src.FetchTrips(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("seq", seq).Msg("snapshot poll failed")
		return fmt.Errorf("poll: %w", err)
	}
	c.Apply(seq, trips)
	return nil
}

// Apply replaces the view with trips, which is the result of poll number
// seq. Results are taken in receipt order; a result older than the last one
// applied is dropped. Apply reports whether the snapshot was used.
func (c *Coordinator) Apply(seq uint64, trips []models.Trip) bool {
	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		observability.SnapshotsDiscarded.Inc()
		c.logger.Debug().Uint64("seq", seq).Uint64("applied", c.applied).Msg("stale snapshot discarded")
		return false
	}
	c.applied = seq
	c.snapshot = append([]models.Trip(nil), trips...)
	dropped := len(c.overlay)
	c.overlay = make(map[string]models.Trip)
	c.lastSync = c.now()
	ids := make(map[string]struct{}, len(trips))
	for _, t := range trips {
		ids[t.ID] = struct{}{}
	}
	c.mu.Unlock()

	c.commands.settle(ids)
	observability.SnapshotsApplied.Inc()
	if dropped > 0 {
		c.logger.Debug().Int("overlay", dropped).Msg("optimistic patches replaced by snapshot")
	}
	c.notify()
	return true
}

// View returns the snapshot with optimistic patches applied.
func (c *Coordinator) View() []models.Trip {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Trip, len(c.snapshot))
	for i, t := range c.snapshot {
		if p, ok := c.overlay[t.ID]; ok {
			t = p
		}
		out[i] = t
	}
	return out
}

// LastSync is the time the last snapshot was applied.
func (c *Coordinator) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Trip resolves ref as id or booking code in the current view.
func (c *Coordinator) Trip(ref string) (models.Trip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(ref)
}

func (c *Coordinator) lookup(ref string) (models.Trip, bool) {
	ref = strings.TrimSpace(ref)
	for _, t := range c.snapshot {
		if t.ID == ref || (t.Code != "" && strings.EqualFold(t.Code, ref)) {
			if p, ok := c.overlay[t.ID]; ok {
				return p, true
			}
			return t, true
		}
	}
	return models.Trip{}, false
}

// patch applies fn to the trip in the view and returns the sequence of the
// snapshot it was applied over.
func (c *Coordinator) patch(ref string, fn func(*models.Trip)) (models.Trip, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lookup(ref)
	if !ok {
		return models.Trip{}, c.applied, false
	}
	fn(&t)
	c.overlay[t.ID] = t
	return t, c.applied, true
}

// patchOver is patch restricted to the snapshot numbered seq. Once a newer
// snapshot has been applied the patch is dropped.
func (c *Coordinator) patchOver(seq uint64, ref string, fn func(*models.Trip)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied != seq {
		return false
	}
	t, ok := c.lookup(ref)
	if !ok {
		return false
	}
	fn(&t)
	c.overlay[t.ID] = t
	return true
}

// ChangeStatus runs the local pre-flight check, patches the view and sends
// the request. A rejected pre-flight is never sent. A failed request leaves
// the patch in place until the next snapshot replaces it.
func (c *Coordinator) ChangeStatus(ctx context.Context, ref, target string, force bool) (models.Status, error) {
	trip, ok := c.Trip(ref)
	if !ok {
		return models.StatusUnknown, fmt.Errorf("trip %s: %w", ref, models.ErrNotFound)
	}
	next, err := lifecycle.RequestTransition(trip, target, lifecycle.Options{Force: force, Flow: c.flow})
	if err != nil {
		return models.StatusUnknown, err
	}

	_, seq, _ := c.patch(trip.ID, func(t *models.Trip) { t.Status = next })
	c.commands.begin(trip.ID, string(next))
	c.notify()

	confirmed, err := c.remote.ChangeStatus(ctx, trip.ID, string(next), force)
	if err != nil {
		err = remoteFailure(err)
		c.commands.fail(trip.ID, err)
		c.logger.Warn().Err(err).Str("trip_id", trip.ID).Str("to", string(next)).Msg("status change failed")
		return models.StatusUnknown, err
	}
	if confirmed == models.StatusUnknown {
		confirmed = next
	}
	if !c.patchOver(seq, trip.ID, func(t *models.Trip) { t.Status = confirmed }) {
		c.logger.Debug().Str("trip_id", trip.ID).Msg("snapshot arrived during request, keeping snapshot")
	}
	c.commands.succeed(trip.ID)
	c.notify()
	return confirmed, nil
}

// AssignDriver patches the driver link and sends the assignment.
func (c *Coordinator) AssignDriver(ctx context.Context, ref, driverID, note string) error {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return fmt.Errorf("%w: driver id is required", models.ErrBadRequest)
	}
	trip, _, ok := c.patch(ref, func(t *models.Trip) { t.DriverID = driverID })
	if !ok {
		return fmt.Errorf("trip %s: %w", ref, models.ErrNotFound)
	}
	c.commands.begin(trip.ID, "driver:"+driverID)
	c.notify()

	if err := c.remote.AssignDriver(ctx, trip.ID, driverID, note); err != nil {
		err = remoteFailure(err)
		c.commands.fail(trip.ID, err)
		c.logger.Warn().Err(err).Str("trip_id", trip.ID).Str("driver_id", driverID).Msg("assignment failed")
		return err
	}
	c.commands.succeed(trip.ID)
	return nil
}

// Problems evaluates the current view. Acknowledged trips are left out
// unless includeAcked is set.
func (c *Coordinator) Problems(includeAcked bool) []problems.Flag {
	flags := c.detector.Evaluate(c.View())
	if includeAcked {
		return flags
	}
	out := flags[:0]
	for _, f := range flags {
		if st, ok := c.commands.Get(f.TripID); ok && st.Acknowledged {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Run polls immediately and then every interval until ctx ends. A slow poll
// never delays the next one.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			c.trigger(ctx)
		}
	}
}

// Follow triggers an extra poll for every pushed event. Events only say that
// something changed; the state itself still comes from the snapshot.
func (c *Coordinator) Follow(ctx context.Context, events <-chan models.TripEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.logger.Debug().Str("trip_id", e.TripID).Str("kind", string(e.Kind)).Msg("push event, reconciling")
			c.trigger(ctx)
		}
	}
}

func (c *Coordinator) trigger(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Poll(ctx)
	}()
}

func remoteFailure(err error) error {
	if errors.Is(err, models.ErrRequestFailed) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrRequestFailed, err)
}
