package service

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/realtime/internal/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type emittedEvent struct {
	event   string
	roomID  string
	payload any
}

// fakePush implements PushChannel for engine tests: it records joins,
// leaves and emits, and lets tests deliver inbound events to the
// registered handlers.
type fakePush struct {
	mu       sync.Mutex
	joined   []string
	left     []string
	emits    []emittedEvent
	handlers map[string]transport.Handler
}

func newFakePush() *fakePush {
	return &fakePush{handlers: make(map[string]transport.Handler)}
}

func (p *fakePush) JoinRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, roomID)
}

func (p *fakePush) LeaveRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, roomID)
}

func (p *fakePush) Emit(event, roomID string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emits = append(p.emits, emittedEvent{event: event, roomID: roomID, payload: payload})
}

func (p *fakePush) On(event string, handler transport.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[event] = handler
}

func (p *fakePush) Off(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, event)
}

// deliver simulates an inbound push event.
func (p *fakePush) deliver(t *testing.T, event string, payload any) {
	t.Helper()

	p.mu.Lock()
	handler := p.handlers[event]
	p.mu.Unlock()

	if handler == nil {
		return
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	handler(raw)
}

func (p *fakePush) emitted(event string) []emittedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []emittedEvent
	for _, e := range p.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}
