package connection

import (
	"log/slog"
	"sync"
)

// Handler receives events. Handlers run on the emitting goroutine and must
// not block for long.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus fans events out to subscribers keyed by EventKey.
type EventBus struct {
	logger       *slog.Logger
	maxListeners int

	mu     sync.RWMutex
	nextID uint64
	byKey  map[EventKey][]subscription
	all    []subscription
	warned map[EventKey]bool
}

// NewEventBus creates an EventBus. maxListeners <= 0 disables the leak warning.
func NewEventBus(maxListeners int, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		logger:       logger,
		maxListeners: maxListeners,
		byKey:        make(map[EventKey][]subscription),
		warned:       make(map[EventKey]bool),
	}
}

// Subscribe registers h for key and returns a func that removes it.
func (b *EventBus) Subscribe(key EventKey, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byKey[key] = append(b.byKey[key], subscription{id: id, handler: h})

	if n := len(b.byKey[key]); b.maxListeners > 0 && n > b.maxListeners && !b.warned[key] {
		b.warned[key] = true
		b.logger.Warn("possible listener leak",
			"event", key.String(),
			"listeners", n,
			"max", b.maxListeners,
		)
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(key, id) })
	}
}

// SubscribeAll registers h for every event.
func (b *EventBus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.all = without(b.all, id)
		})
	}
}

// Emit delivers ev to the key's subscribers, then to SubscribeAll handlers,
// in registration order.
func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byKey[ev.Key])+len(b.all))
	for _, s := range b.byKey[ev.Key] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.all {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// ListenerCount returns the number of handlers registered for key.
func (b *EventBus) ListenerCount(key EventKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byKey[key])
}

func (b *EventBus) remove(key EventKey, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := without(b.byKey[key], id)
	if len(subs) == 0 {
		delete(b.byKey, key)
		delete(b.warned, key)
		return
	}
	b.byKey[key] = subs
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
