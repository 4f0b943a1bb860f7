package orchestrator

import (
	"context"
	"sync"
	"time"
)

// EventType identifies an Event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventFinished EventType = "finished"
)

// Event is a snapshot of an operation at a point in its life.
type Event struct {
	Type      EventType
	Operation Operation
	Time      time.Time
}

// Subscribe returns a channel receiving events of every operation, and a
// function that unsubscribes and closes it. Events that do not fit in the
// buffer are dropped; the worker never waits for a subscriber.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

// emit fans ev out to subscribers and returns it for the handle.
func (m *Manager) emit(ev Event) Event {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropped event for slow subscriber", "type", ev.Type, "id", ev.Operation.ID)
		}
	}
	return ev
}

// handleBuffer is the per-handle event buffer.
const handleBuffer = 64

// Handle follows one operation started by StartSync.
type Handle struct {
	id     string
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu    sync.Mutex
	final Operation
}

func newHandle(id string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:     id,
		cancel: cancel,
		events: make(chan Event, handleBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the operation ID.
func (h *Handle) ID() string {
	return h.id
}

// Events returns the operation's own event stream. It is closed after the
// finished event. Events are dropped if the buffer is full.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed once the operation is terminal and its completion
// handler has run.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel asks the operation to stop before its next step.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the operation finished and returns its final state.
// The error is nil for a succeeded operation, ErrCancelled (wrapped) for a
// cancelled one and the step error for a failed one.
func (h *Handle) Wait(ctx context.Context) (Operation, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return Operation{}, ctx.Err()
	}

	h.mu.Lock()
	op := h.final
	h.mu.Unlock()
	return op, op.Err
}

func (h *Handle) send(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

func (h *Handle) finish(op Operation, ev Event) {
	h.mu.Lock()
	h.final = op
	h.mu.Unlock()

	h.send(ev)
	close(h.events)
	h.cancel()
	close(h.done)
}
