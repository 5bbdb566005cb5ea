package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Topics emitted by the forecast core.
const (
	TopicFeedbackIngested = "feedback_ingested"
	TopicDriftDetected    = "drift_detected"
	TopicForecastApproved = "forecast_approved"
	TopicForecastRejected = "forecast_rejected"
)

// Event is one published notification.
type Event struct {
	Topic     string                 `json:"topic"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler processes one event. Handlers must not block; slow consumers
// should hand off internally.
type Handler func(ctx context.Context, ev Event)

// EventBus is the notification capability handed to components. Emission
// is best-effort; the core never fails an operation because a subscriber
// misbehaved.
type EventBus interface {
	Emit(ctx context.Context, topic string, payload map[string]interface{})
	Subscribe(topic string, handler Handler)
}

// InMemoryBus delivers events synchronously to in-process subscribers.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	published   map[string]int
}

// NewInMemoryBus creates an empty in-process bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string][]Handler),
		published:   make(map[string]int),
	}
}

// Emit delivers the event to every subscriber of the topic. Panicking
// subscribers are contained so one bad handler cannot take down a poll
// loop.
func (b *InMemoryBus) Emit(ctx context.Context, topic string, payload map[string]interface{}) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	b.published[topic]++
	handlers := make([]Handler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("topic", topic).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			h(ctx, ev)
		}()
	}
}

// Subscribe registers a handler for a topic.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// PublishedCount reports how many events were emitted on a topic.
func (b *InMemoryBus) PublishedCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published[topic]
}
