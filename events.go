package recall

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the cache. Subscribe filters on these names.
const (
	// EventItemCached fires after every successful Set.
	// Fields: size, priority, semantic; tags when present.
	EventItemCached = "item:cached"

	// EventItemEvicted fires when a single entry is removed by Delete or
	// by an eviction pass. Fields: reason ("deleted" or "evicted"); score
	// for evictions.
	EventItemEvicted = "item:evicted"

	// EventSemanticMatch fires when a Get is answered by the similarity
	// stage. Fields: query, similarity.
	EventSemanticMatch = "semantic:match"

	// EventPredictiveMatch fires when a Get is answered by the
	// access-pattern stage. Fields: query, confidence, overlap.
	EventPredictiveMatch = "predictive:match"

	// EventEvictionCompleted fires after an eviction pass.
	// Fields: count, freedBytes.
	EventEvictionCompleted = "eviction:completed"

	// EventCleanupCompleted fires after a TTL sweep that removed at least
	// one entry. Fields: count.
	EventCleanupCompleted = "cleanup:completed"

	// EventPreloadSuggested fires for each confidently predicted key that
	// is not resident. Fields: confidence, reason, expectedIn.
	EventPreloadSuggested = "preload:suggested"

	// EventCacheError fires when an internal failure was absorbed, such as
	// a degraded serialization or an undecodable payload. Fields: error.
	EventCacheError = "cache:error"

	// EventPersistenceError fires when a snapshot write or restore fails.
	// Persistence is best-effort; these errors never reach callers.
	// Fields: error.
	EventPersistenceError = "persistence:error"

	// EventCacheCleared fires after Clear. Fields: count.
	EventCacheCleared = "cache:cleared"
)

// Event is a single cache notification.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Key is the cache key the event concerns, when applicable.
	Key string `json:"key,omitempty"`

	// At is when the event was emitted.
	At time.Time `json:"at"`

	// Fields carries event-specific payload values.
	Fields map[string]any `json:"fields,omitempty"`
}

// Subscribe registers an observer for the given event types; with no types
// it receives every event. Events are delivered on a buffered channel and
// never block cache operations: when the buffer is full, the oldest
// undelivered event is dropped. The returned cancel function releases the
// subscription; after the cache closes, the channel is closed.
func (c *Cache) Subscribe(types ...string) (<-chan Event, func()) {
	return c.bus.subscribe(types...)
}

// subscriberBuffer is the channel capacity for each subscriber.
const subscriberBuffer = 64

// subscription is one observer's registration. A nil type set matches
// every event.
type subscription struct {
	types map[string]struct{}
	ch    chan Event
}

// eventBus fans events out to subscribers. Publish happens with the cache
// mutex held, so delivery must never wait on a consumer.
type eventBus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[uint64]*subscription)}
}

// subscribe registers an observer. On a closed bus it returns a closed
// channel. The cancel function is idempotent.
func (b *eventBus) subscribe(types ...string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	sub := &subscription{ch: ch}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}

	return ch, cancel
}

// publish delivers the event to matching subscribers. When a subscriber's
// buffer is full, the oldest buffered event is dropped to make room.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.types != nil {
			if _, ok := sub.types[ev.Type]; !ok {
				continue
			}
		}

		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// close terminates all subscriptions. Further publishes are discarded.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// newEvent stamps a notification with identity and time.
func newEvent(eventType, key string, at time.Time, fields map[string]any) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Key:    key,
		At:     at,
		Fields: fields,
	}
}
