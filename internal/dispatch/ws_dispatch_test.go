package dispatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/example/dispatch-engine/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	fail   bool
	got    []any
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestBroadcastDropsBrokenSessions(t *testing.T) {
	reg := NewWSRegistry(zerolog.Nop())
	ok := &fakeConn{}
	bad := &fakeConn{fail: true}
	reg.Add("ok", ok)
	reg.Add("bad", bad)

	sent := reg.Broadcast(models.TripEvent{TripID: "t1", Kind: models.EventStatusChanged})
	assert.Equal(t, 1, sent)
	assert.Len(t, ok.got, 1)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, reg.Len())
}

func TestAddReplacesSession(t *testing.T) {
	reg := NewWSRegistry(zerolog.Nop())
	first := &fakeConn{}
	reg.Add("c", first)
	reg.Add("c", &fakeConn{})
	assert.True(t, first.closed)
	assert.Equal(t, 1, reg.Len())

	reg.Remove("c")
	assert.Zero(t, reg.Len())
}
