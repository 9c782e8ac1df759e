package bus

import (
	"log/slog"
	"sync"
)

// MessageBus is the in-process event bus connecting the subsystems.
// Handlers run on the publisher's goroutine; they must not block.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers a handler under an id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers the event to every subscriber. Panics in handlers are
// recovered so one misbehaving listener cannot take down the publisher.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	subs := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		subs = append(subs, h)
	}
	b.mu.RUnlock()

	for _, h := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("bus handler panic", "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
