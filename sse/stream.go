package sse

import (
	"context"
	"sync"
)

// liveEvent is broadcast to attached live-mode subscribers as it is
// produced, decoupling the producer from however many consumers are
// currently following the stream.
type liveEvent struct {
	event    StoredEvent
	terminal bool
}

// Stream is a single producer's handle on one draft-graph run: it
// appends events to a Buffer and fans them out to any attached live
// subscribers. The producer and its consumers are decoupled per §4.9 -
// producing an event appends to the buffer and signals any attached
// consumer; multiple concurrent resumers are permitted and each sees the
// same ordered sequence.
type Stream struct {
	id     string
	buffer Buffer

	mu          sync.Mutex
	subscribers map[int]chan liveEvent
	nextSubID   int
	closed      bool
}

// NewStream creates a producer handle for streamID over buffer.
func NewStream(streamID string, buffer Buffer) *Stream {
	return &Stream{id: streamID, buffer: buffer, subscribers: make(map[int]chan liveEvent)}
}

// Emit appends an event to the buffer and broadcasts it to live
// subscribers, returning the event's assigned seq.
func (s *Stream) Emit(ctx context.Context, eventType string, payload interface{}) (int, error) {
	seq, err := s.buffer.Append(ctx, s.id, eventType, payload)
	if err != nil {
		return 0, err
	}
	s.broadcast(StoredEvent{Seq: seq, Type: eventType}, false, payload)
	return seq, nil
}

// EmitTerminal emits a terminal event (stage COMPLETE or complete),
// marks the stream terminal, and closes every live subscriber channel
// after delivering the event.
func (s *Stream) EmitTerminal(ctx context.Context, eventType string, payload interface{}) (int, error) {
	seq, err := s.buffer.Append(ctx, s.id, eventType, payload)
	if err != nil {
		return 0, err
	}
	if err := s.buffer.MarkTerminal(ctx, s.id); err != nil {
		return seq, err
	}
	s.broadcast(StoredEvent{Seq: seq, Type: eventType}, true, payload)
	return seq, nil
}

func (s *Stream) broadcast(ev StoredEvent, terminal bool, payload interface{}) {
	encoded, err := marshalPayload(payload)
	if err == nil {
		ev.Payload = encoded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- liveEvent{event: ev, terminal: terminal}:
		default:
			close(ch)
			delete(s.subscribers, id)
		}
	}
	if terminal {
		s.closed = true
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

// subscribe attaches a new live consumer, returning its channel and a
// detach function. The channel is buffered so a slow consumer never
// blocks the producer for long; a full channel drops the subscriber
// rather than stalling Emit, since a dropped live-follow consumer can
// always fall back to /resume.
func (s *Stream) subscribe() (<-chan liveEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan liveEvent, 32)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subscribers[id] = ch

	detach := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			close(existing)
			delete(s.subscribers, id)
		}
	}
	return ch, detach
}

// Manager holds the in-flight producer Streams for the process, keyed
// by stream id, so a resume handshake can find the live Stream to
// attach a subscriber to (when one exists) in addition to reading
// already-buffered events from the shared Buffer.
type Manager struct {
	mu      sync.Mutex
	streams map[string]*Stream
	buffer  Buffer
}

// NewManager builds a Manager over buffer.
func NewManager(buffer Buffer) *Manager {
	return &Manager{streams: make(map[string]*Stream), buffer: buffer}
}

// Buffer returns the Manager's underlying Buffer.
func (m *Manager) Buffer() Buffer { return m.buffer }

// New starts a new producer Stream for streamID.
func (m *Manager) New(streamID string) *Stream {
	s := NewStream(streamID, m.buffer)
	m.mu.Lock()
	m.streams[streamID] = s
	m.mu.Unlock()
	return s
}

// Live returns the in-flight producer Stream for streamID, if this
// process is the one running it.
func (m *Manager) Live(streamID string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamID]
	return s, ok
}

// Forget drops the bookkeeping entry for a finished stream.
func (m *Manager) Forget(streamID string) {
	m.mu.Lock()
	delete(m.streams, streamID)
	m.mu.Unlock()
}
