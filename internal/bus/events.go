// Package bus is a minimal fire-and-forget pub/sub used to surface the
// agent subprocess's tool-announcement markers to an observer without
// coupling the streaming parser to any particular consumer.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
)

// Event is a notification broadcast to subscribers of a topic.
type Event struct {
	Topic     string    // e.g. agent.ToolEventTopic
	Data      any       // payload, e.g. a parsed tool-announcement marker
	Timestamp time.Time // when the event was published
	Source    string    // origin, defaults to "system"
}

// EventHandler processes an event. No return value: fire and forget.
type EventHandler func(Event)

// SubscriptionID identifies a subscription, reserved for future
// unsubscription support; clawdis's subscribers currently live for the
// process lifetime.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

var (
	eventSubscriptions   = make(map[string][]subscription)
	eventSubscriptionsMu sync.RWMutex

	nextSubscriptionID uint64
)

// SubscribeEvent registers a handler for an event topic.
func SubscribeEvent(topic string, handler EventHandler) SubscriptionID {
	id := SubscriptionID(atomic.AddUint64(&nextSubscriptionID, 1))

	eventSubscriptionsMu.Lock()
	defer eventSubscriptionsMu.Unlock()

	eventSubscriptions[topic] = append(eventSubscriptions[topic], subscription{
		id:      id,
		handler: handler,
	})

	L_debug("bus: event subscribed", "topic", topic, "subscriptionID", id)
	return id
}

// PublishEvent broadcasts an event to all subscribers of topic. Handlers
// run asynchronously, each in its own goroutine, and a handler panic is
// recovered and logged rather than propagated.
func PublishEvent(topic string, data any) {
	event := Event{
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "system",
	}

	eventSubscriptionsMu.RLock()
	subs := eventSubscriptions[topic]
	subsCopy := make([]subscription, len(subs))
	copy(subsCopy, subs)
	eventSubscriptionsMu.RUnlock()

	if len(subsCopy) == 0 {
		L_debug("bus: event published (no subscribers)", "topic", topic)
		return
	}

	L_info("bus: event published", "topic", topic, "subscribers", len(subsCopy))

	for _, sub := range subsCopy {
		go func(s subscription) {
			defer func() {
				if r := recover(); r != nil {
					L_error("bus: event handler panic", "topic", topic, "subscriptionID", s.id, "panic", r)
				}
			}()
			s.handler(event)
		}(sub)
	}
}
