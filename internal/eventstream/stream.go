package eventstream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscriber receives events published to a Stream. Implementations should
// be fast and non-blocking; the stream itself already buffers, so a
// subscriber that blocks delays delivery of every later event on its stream.
type Subscriber func(Event)

// defaultBufferSize bounds how many events can be queued for a slow
// subscriber before the stream starts discarding agent_thinking events.
const defaultBufferSize = 256

// Stream publishes ordered, typed events for a single workflow run to one
// external subscriber. Safe for concurrent Publish calls from the
// supervisor, nodes, and the tool bus's progress dispatcher.
type Stream struct {
	sessionID  string
	subscriber Subscriber

	mu       sync.Mutex
	buf      []Event
	closed   bool
	sequence atomic.Uint64

	// cond wakes the delivery goroutine when new events land in buf.
	cond *sync.Cond
	once sync.Once
}

// New creates a Stream for one workflow run and starts its delivery loop.
// Publish is non-blocking; delivery to the subscriber happens on a
// dedicated goroutine so a slow subscriber never stalls a node.
func New(sessionID string, subscriber Subscriber) *Stream {
	s := &Stream{sessionID: sessionID, subscriber: subscriber}
	s.cond = sync.NewCond(&s.mu)
	go s.deliverLoop()
	return s
}

// Publish enqueues an event. If the buffer is full and the event's type is
// droppable, the oldest droppable buffered event is discarded to make room;
// terminal and non-droppable events are never discarded — the buffer simply
// grows past defaultBufferSize in the rare case the subscriber is this far
// behind, trading memory for the correctness invariant that terminal events
// are never lost (spec §8.1).
func (s *Stream) Publish(ctx context.Context, e Event) {
	e.SessionID = s.sessionID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Sequence must be assigned under the lock, in the same order events are
	// appended to buf, or two concurrent Publish calls can land their event
	// in the buffer in one order while carrying sequence numbers in the
	// other.
	e.Sequence = s.sequence.Add(1)

	if len(s.buf) >= defaultBufferSize && e.Type.droppable() {
		if idx := s.findOldestDroppable(); idx >= 0 {
			s.buf = append(s.buf[:idx], s.buf[idx+1:]...)
		}
	}
	s.buf = append(s.buf, e)
	s.cond.Signal()
}

func (s *Stream) findOldestDroppable() int {
	for i, e := range s.buf {
		if e.Type.droppable() {
			return i
		}
	}
	return -1
}

// deliverLoop drains buf in FIFO order, calling the subscriber for each
// event. It exits once Close has been called and the buffer is drained.
func (s *Stream) deliverLoop() {
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.buf) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()

		if s.subscriber != nil {
			s.subscriber(e)
		}
	}
}

// Close stops the delivery loop once any buffered events have drained.
// Callers must not Publish after Close.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Signal()
		s.mu.Unlock()
	})
}
