package coordinator

import (
	"sync"
	"time"
)

// CommandState is the operator-side memory for one trip.
type CommandState struct {
	Acknowledged    bool      `json:"acknowledged"`
	PendingOverride string    `json:"pending_override,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CommandStore maps trip id to CommandState. Entries for trips that leave the
// snapshot are pruned when the next snapshot is applied.
type CommandStore struct {
	mu     sync.RWMutex
	states map[string]CommandState
	now    func() time.Time
}

func NewCommandStore(now func() time.Time) *CommandStore {
	if now == nil {
		now = time.Now
	}
	return &CommandStore{states: make(map[string]CommandState), now: now}
}

func (s *CommandStore) Get(tripID string) (CommandState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[tripID]
	return st, ok
}

// Acknowledge marks the trip's current problem as seen by the operator.
func (s *CommandStore) Acknowledge(tripID string) {
	s.update(tripID, func(st *CommandState) { st.Acknowledged = true })
}

func (s *CommandStore) Unacknowledge(tripID string) {
	s.update(tripID, func(st *CommandState) { st.Acknowledged = false })
}

func (s *CommandStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *CommandStore) begin(tripID, intent string) {
	s.update(tripID, func(st *CommandState) {
		st.PendingOverride = intent
		st.LastError = ""
	})
}

func (s *CommandStore) succeed(tripID string) {
	s.update(tripID, func(st *CommandState) { st.PendingOverride = "" })
}

func (s *CommandStore) fail(tripID string, err error) {
	s.update(tripID, func(st *CommandState) { st.LastError = err.Error() })
}

func (s *CommandStore) update(tripID string, fn func(*CommandState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[tripID]
	fn(&st)
	st.UpdatedAt = s.now()
	s.states[tripID] = st
}

// settle runs after a snapshot: pending intents are resolved by the snapshot
// and trips no longer present are forgotten. Errors and acknowledgements stay
// visible until the operator acts again.
func (s *CommandStore) settle(present map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.states {
		if _, ok := present[id]; !ok {
			delete(s.states, id)
			continue
		}
		if st.PendingOverride != "" {
			st.PendingOverride = ""
			s.states[id] = st
		}
	}
}
