package runtime

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of turn event.
type EventType string

const (
	EventTurnStart    EventType = "turn_start"
	EventTransition   EventType = "transition"
	EventToolCall     EventType = "tool_call"
	EventSummarized   EventType = "summarized"
	EventCheckpointed EventType = "checkpointed"
	EventTurnComplete EventType = "turn_complete"
	EventTurnError    EventType = "turn_error"
)

// Event represents a turn event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	ThreadID  string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus fans turn events out to subscribers such as the chat UI.
// Handlers run synchronously on the publishing goroutine.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers. A nil bus drops it.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Snapshot so handlers may subscribe without deadlocking.
	eb.mu.RLock()
	handlers := append([]EventHandler(nil), eb.handlers[event.Type]...)
	handlers = append(handlers, eb.allHandlers...)
	eb.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// PublishSimple is a convenience method for publishing events without additional data.
func (eb *EventBus) PublishSimple(eventType EventType, threadID string) {
	eb.Publish(Event{
		Type:     eventType,
		ThreadID: threadID,
	})
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, threadID string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:     eventType,
		ThreadID: threadID,
		Data:     data,
	})
}

type threadKey struct{}

// WithThread tags ctx with the thread a turn is running for.
func WithThread(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadKey{}, threadID)
}

// ThreadFromContext returns the thread id set by WithThread.
func ThreadFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadKey{}).(string)
	return id
}
