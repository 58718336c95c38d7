// Package dispatch pushes trip change events to connected dispatcher consoles.
package dispatch

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/models"
)

// Conn is the part of *websocket.Conn the registry writes through.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// WSSession represents a connected console
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e models.TripEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// WSRegistry holds console sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   zerolog.Logger
}

func NewWSRegistry(logger zerolog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

// Add registers conn under id, closing any previous session with that id.
func (r *WSRegistry) Add(id string, conn Conn) {
	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = &WSSession{conn: conn}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
}

func (r *WSRegistry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends e to every session and drops the ones that fail. Delivery
// is best effort; consoles reconcile on their next poll anyway.
func (r *WSRegistry) Broadcast(e models.TripEvent) int {
	r.mu.RLock()
	targets := make(map[string]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()

	sent := 0
	for id, s := range targets {
		if err := s.Send(e); err != nil {
			r.logger.Warn().Err(err).Str("session", id).Msg("ws send failed, dropping session")
			r.Remove(id)
			continue
		}
		sent++
	}
	return sent
}
