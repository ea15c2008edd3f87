// Package events defines the conversation event stream and its per-task sink.
package events

import (
	"sync"
	"time"
)

// Kind tags a ConversationEvent.
type Kind string

const (
	KindInfo              Kind = "info"
	KindAgentMessage      Kind = "agent_message"
	KindVerifierResult    Kind = "verifier_result"
	KindCredentialRequest Kind = "credential_request"
	KindActionResult      Kind = "action_result"
	KindError             Kind = "error"
	KindFinished          Kind = "finished"
)

// Event is one entry in a task's ordered event stream.
type Event struct {
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"ts"`
	Payload   map[string]interface{} `json:"payload"`
}

// New builds an event stamped with the current time.
func New(kind Kind, payload map[string]interface{}) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Event{Kind: kind, Timestamp: time.Now().UTC(), Payload: payload}
}

// Mirror receives a copy of every published event, e.g. for NATS fan-out.
// Implementations must not block.
type Mirror interface {
	Publish(Event)
}

// Sink is a per-task, append-only, bounded event buffer with live
// subscription. Producer is the task runner alone; consumers either Drain
// the backlog or Subscribe for delivery as events arrive. Beyond the bound
// the oldest events are dropped (best-effort delivery, not exactly-once).
type Sink struct {
	mu      sync.Mutex
	buf     []Event
	limit   int
	dropped int
	subs    map[int]chan Event
	nextSub int
	closed  bool
	mirrors []Mirror
}

// DefaultBufferSize bounds retained events when no limit is configured.
const DefaultBufferSize = 100

// NewSink creates a sink retaining at most limit events.
func NewSink(limit int) *Sink {
	if limit <= 0 {
		limit = DefaultBufferSize
	}
	return &Sink{
		limit: limit,
		subs:  make(map[int]chan Event),
	}
}

// AddMirror attaches a mirror that sees every subsequent event.
func (s *Sink) AddMirror(m Mirror) {
	s.mu.Lock()
	s.mirrors = append(s.mirrors, m)
	s.mu.Unlock()
}

// Publish appends an event, retains it for late consumers, and fans it out
// to live subscribers. A subscriber that cannot keep up loses events rather
// than stalling the producer.
func (s *Sink) Publish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, ev)
	if len(s.buf) > s.limit {
		over := len(s.buf) - s.limit
		s.buf = append([]Event(nil), s.buf[over:]...)
		s.dropped += over
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	mirrors := s.mirrors
	s.mu.Unlock()

	for _, m := range mirrors {
		m.Publish(ev)
	}
}

// Drain removes and returns all currently buffered events in emission order.
func (s *Sink) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	return out
}

// Dropped reports how many events were discarded to stay within the bound.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Subscribe returns a channel that first replays the retained backlog, then
// delivers new events in order. The cancel function detaches the subscriber
// and closes the channel.
func (s *Sink) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	backlog := s.buf
	s.buf = nil
	ch := make(chan Event, s.limit+len(backlog))
	for _, ev := range backlog {
		ch <- ev
	}
	id := s.nextSub
	s.nextSub++
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close marks the stream complete and closes all subscriber channels.
// Further publishes are dropped.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
