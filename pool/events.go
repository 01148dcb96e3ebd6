package pool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/types"
)

// EventKind is the closed set of pool lifecycle notifications.
type EventKind string

const (
	EventConnectionCreated   EventKind = "connection_created"
	EventConnectionAcquired  EventKind = "connection_acquired"
	EventConnectionReleased  EventKind = "connection_released"
	EventConnectionDestroyed EventKind = "connection_destroyed"
	EventConnectionError     EventKind = "connection_error"
	EventPoolInitialized     EventKind = "pool_initialized"
	EventPoolClosed          EventKind = "pool_closed"
	EventPoolEmpty           EventKind = "pool_empty"
	EventPoolOptimized       EventKind = "pool_optimized"
	EventQueueTimeout        EventKind = "queue_timeout"
	EventIdleCleanup         EventKind = "idle_cleanup"
)

// Event is the typed payload delivered to subscribers.
type Event struct {
	Kind         EventKind          `json:"kind"`
	Database     types.DatabaseType `json:"database"`
	ConnectionID string             `json:"connection_id,omitempty"`
	Err          error              `json:"-"`
	Payload      map[string]any     `json:"payload,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Handler receives events. Handlers run synchronously on the publishing
// goroutine and must not call back into the pool while holding their own
// locks; panics are recovered and logged.
type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id  uint64
	bus *eventBus
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.id)
}

type subscriber struct {
	kind     EventKind          // "" matches every kind
	database types.DatabaseType // "" matches every database type
	fn       Handler
}

// eventBus dispatches pool lifecycle events to subscribers, filtered by
// event kind and database type.
type eventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscriber
	logger *zap.Logger
}

func newEventBus(logger *zap.Logger) *eventBus {
	return &eventBus{
		subs:   make(map[uint64]subscriber),
		logger: logger.With(zap.String("component", "pool_events")),
	}
}

func (b *eventBus) subscribe(kind EventKind, database types.DatabaseType, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscriber{kind: kind, database: database, fn: fn}
	return &Subscription{id: id, bus: b}
}

func (b *eventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// publish delivers e to every matching subscriber. Callers must not hold
// any pool lock.
func (b *eventBus) publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind != "" && s.kind != e.Kind {
			continue
		}
		if s.database != "" && s.database != e.Database {
			continue
		}
		matched = append(matched, s.fn)
	}
	b.mu.RUnlock()

	for _, fn := range matched {
		b.safeCall(fn, e)
	}
}

func (b *eventBus) safeCall(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(e.Kind)),
				zap.String("database", string(e.Database)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(e)
}
