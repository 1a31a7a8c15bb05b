// Package events is the outbound notification channel the application
// shell subscribes to. Kinds are a closed enum; slow subscribers drop
// events rather than block relay paths.
package events

import (
	"sync"
	"time"

	"github.com/Lumiport-Network/relay/internal/logger"
	"go.uber.org/zap"
)

// Kind identifies the event class.
type Kind string

const (
	RelayStarted        Kind = "relay-started"
	RelayStopped        Kind = "relay-stopped"
	SessionCreated      Kind = "session-created"
	SessionClosed       Kind = "session-closed"
	PeerJoined          Kind = "peer-joined"
	PeerLeft            Kind = "peer-left"
	ServerHealthChanged Kind = "server-health-changed"
	HostReported        Kind = "host-reported"
	HostBanned          Kind = "host-banned"
	AdminAlert          Kind = "admin-alert"
)

// Event carries one notification. Only the fields relevant to the kind
// are populated.
type Event struct {
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
	PeerID    string    `json:"peer_id,omitempty"`
	ServerURL string    `json:"server_url,omitempty"`
	Status    string    `json:"status,omitempty"`
	Host      string    `json:"host,omitempty"`
	Count     int       `json:"count,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Bus fans events out to subscribers over buffered channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	log  *zap.Logger
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
		log:  logger.New("events"),
	}
}

// Subscribe registers a subscriber and returns its channel.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs[id] = ch
	b.log.Debug("Subscriber added", zap.String("subscriber_id", id))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
		b.log.Debug("Subscriber removed", zap.String("subscriber_id", id))
	}
}

// Publish delivers an event to every subscriber. Full buffers drop.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.log.Warn("Dropped event for subscriber - buffer full",
				zap.String("subscriber_id", id),
				zap.String("kind", string(evt.Kind)))
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
