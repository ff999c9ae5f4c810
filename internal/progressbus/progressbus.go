// Package progressbus fans out ingestion/chat progress events to interested
// subscribers, keyed by client id. One Bus is shared process-wide
// (cmd/ragd constructs it once and hands it to every component) because
// every ingestion/chat call site needs the same registry regardless of
// which component constructed it.
package progressbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventType tags the kind of payload carried by an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
	EventPing     EventType = "ping"
	EventPong     EventType = "pong"
)

// Event is the wire-shape contract an eventual transport layer frames and
// sends to a client; this package only moves it from publisher to sink.
type Event struct {
	Type    EventType      `json:"type"`
	KBID    string         `json:"kb_id,omitempty"`
	Stage   string         `json:"stage,omitempty"`
	Percent int            `json:"progress,omitempty"`
	Message string         `json:"message,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Sink receives events for one subscriber. Send must not block for long;
// implementations backed by a network connection should use their own
// write deadline.
type Sink interface {
	Send(Event) error
}

// Bus is a fan-out registry: client id -> set of sinks. Delivery is
// best-effort and unordered across subscribers, but ordered within a given
// sink since Publish holds the bus lock only long enough to snapshot the
// sink set, then calls Send sequentially per sink.
type Bus struct {
	mu    sync.RWMutex
	sinks map[string]map[Sink]struct{}
	log   zerolog.Logger
}

// New constructs an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		sinks: make(map[string]map[Sink]struct{}),
		log:   log,
	}
}

// Subscribe registers sink under clientID.
func (b *Bus) Subscribe(clientID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sinks[clientID]
	if !ok {
		set = make(map[Sink]struct{})
		b.sinks[clientID] = set
	}
	set[sink] = struct{}{}
}

// Unsubscribe removes sink from clientID's set, deleting the client entry
// entirely once its last sink is gone.
func (b *Bus) Unsubscribe(clientID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sinks[clientID]
	if !ok {
		return
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(b.sinks, clientID)
	}
}

// Publish sends ev to every sink registered under clientID. A sink whose
// Send fails is removed from the registry; Publish itself never returns an
// error since no single subscriber failure should block ingestion progress.
func (b *Bus) Publish(clientID string, ev Event) {
	b.mu.RLock()
	set, ok := b.sinks[clientID]
	if !ok {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]Sink, 0, len(set))
	for s := range set {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	var dead []Sink
	for _, s := range snapshot {
		if err := s.Send(ev); err != nil {
			b.log.Debug().Err(err).Str("client_id", clientID).Msg("progressbus: dropping dead sink")
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, s := range dead {
		if set, ok := b.sinks[clientID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.sinks, clientID)
			}
		}
	}
	b.mu.Unlock()
}

// Broadcast sends ev to every subscriber of every client.
func (b *Bus) Broadcast(ev Event) {
	b.mu.RLock()
	clients := make([]string, 0, len(b.sinks))
	for id := range b.sinks {
		clients = append(clients, id)
	}
	b.mu.RUnlock()
	for _, id := range clients {
		b.Publish(id, ev)
	}
}

// ClientCount returns the number of distinct client ids with at least one
// live sink.
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// IsConnected reports whether clientID has any live sink.
func (b *Bus) IsConnected(clientID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.sinks[clientID]
	return ok && len(set) > 0
}
