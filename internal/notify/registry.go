package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/timmy/vidflow/internal/logger"
)

// Event is one named server-sent event.
type Event struct {
	Name string
	Data interface{}
}

// Stream is a registered push connection for one owner.
// Done is closed when the stream is unregistered or replaced.
type Stream struct {
	id      uint64
	ownerID string
	events  chan Event
	done    chan struct{}
	once    sync.Once
}

// Events returns the channel the transport drains.
func (s *Stream) Events() <-chan Event { return s.events }

// Done is closed once the stream has been released.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) close() {
	s.once.Do(func() { close(s.done) })
}

// Registry maps owners to their single active stream. A newer connection
// replaces an older one for the same owner.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	buffer  int
	nextID  atomic.Uint64
}

// NewRegistry creates a registry whose streams buffer up to buffer events.
func NewRegistry(buffer int) *Registry {
	if buffer < 1 {
		buffer = 16
	}
	return &Registry{
		streams: make(map[string]*Stream),
		buffer:  buffer,
	}
}

// Register opens a stream for ownerID. Callers must Unregister it on every exit path.
func (r *Registry) Register(ownerID string) *Stream {
	s := &Stream{
		id:      r.nextID.Add(1),
		ownerID: ownerID,
		events:  make(chan Event, r.buffer),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	old := r.streams[ownerID]
	r.streams[ownerID] = s
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	return s
}

// Unregister releases s. It is a no-op if s has already been replaced.
func (r *Registry) Unregister(ownerID string, s *Stream) {
	r.mu.Lock()
	if cur, ok := r.streams[ownerID]; ok && cur == s {
		delete(r.streams, ownerID)
	}
	r.mu.Unlock()
	s.close()
}

// Send delivers an event to the owner's active stream. It never blocks:
// without a stream it is a no-op, and a stream that cannot accept the event
// is treated as broken and invalidated.
// Returns true if the event was queued for delivery.
func (r *Registry) Send(ownerID, event string, payload interface{}) bool {
	r.mu.RLock()
	s, ok := r.streams[ownerID]
	r.mu.RUnlock()
	if !ok {
		logger.With(logger.Fields{
			logger.FieldComponent: "notify",
			logger.FieldOwnerID:   ownerID,
		}).Debug(context.Background(), "No active stream, dropping event %s", event)
		return false
	}

	select {
	case <-s.done:
		return false
	case s.events <- Event{Name: event, Data: payload}:
		return true
	default:
		logger.With(logger.Fields{
			logger.FieldComponent: "notify",
			logger.FieldOwnerID:   ownerID,
		}).Warn(context.Background(), "Stream backlog full, invalidating stream")
		r.Unregister(ownerID, s)
		return false
	}
}

// Active returns the number of registered streams.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
