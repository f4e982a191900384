// Package events provides an in-process publish/subscribe bus connecting the
// watchdog to notifications and the dashboard API.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of event published on the bus.
type EventType string

const (
	EventStopUpdated      EventType = "STOP_UPDATED"
	EventStopTriggered    EventType = "STOP_TRIGGERED"
	EventExitQueued       EventType = "EXIT_QUEUED"
	EventExitFilled       EventType = "EXIT_FILLED"
	EventExitRejected     EventType = "EXIT_REJECTED"
	EventExitCancelled    EventType = "EXIT_CANCELLED"
	EventPositionAdded    EventType = "POSITION_ADDED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventPositionVanished EventType = "POSITION_VANISHED"
	EventRegimeChanged    EventType = "REGIME_CHANGED"
	EventVSRSpike         EventType = "VSR_SPIKE"
	EventBreakerTripped   EventType = "BREAKER_TRIPPED"
	EventBreakerReset     EventType = "BREAKER_RESET"
	EventWatchdogStarted  EventType = "WATCHDOG_STARTED"
	EventWatchdogStopped  EventType = "WATCHDOG_STOPPED"
)

// Event is one bus message. Data carries event-specific fields.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles delivered events. Handlers run on their own goroutine
// and must not assume ordering across event types.
type Subscriber func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to subscribers. Delivery is asynchronous so a
// slow notifier can never stall the watchdog loop.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishStopUpdated publishes a stop tightening.
func (b *Bus) PublishStopUpdated(ticker, source string, oldStop, newStop float64) {
	b.Publish(Event{
		Type: EventStopUpdated,
		Data: map[string]interface{}{
			"ticker":   ticker,
			"source":   source,
			"old_stop": oldStop,
			"new_stop": newStop,
		},
	})
}

// PublishStopTriggered publishes a stop breach.
func (b *Bus) PublishStopTriggered(ticker, source string, stop, price float64) {
	b.Publish(Event{
		Type: EventStopTriggered,
		Data: map[string]interface{}{
			"ticker": ticker,
			"source": source,
			"stop":   stop,
			"price":  price,
		},
	})
}

// PublishExit publishes an exit order lifecycle event.
func (b *Bus) PublishExit(eventType EventType, ticker, orderID, reason string, quantity int64, price float64) {
	b.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"ticker":   ticker,
			"order_id": orderID,
			"reason":   reason,
			"quantity": quantity,
			"price":    price,
		},
	})
}

// PublishRegimeChanged publishes a regime label transition.
func (b *Bus) PublishRegimeChanged(previous, current string, confidence float64) {
	b.Publish(Event{
		Type: EventRegimeChanged,
		Data: map[string]interface{}{
			"previous":   previous,
			"current":    current,
			"confidence": confidence,
		},
	})
}

// PublishVSRSpike publishes a volume-spread spike.
func (b *Bus) PublishVSRSpike(ticker string, vsr, mean float64, persistence int) {
	b.Publish(Event{
		Type: EventVSRSpike,
		Data: map[string]interface{}{
			"ticker":      ticker,
			"vsr":         vsr,
			"mean":        mean,
			"persistence": persistence,
		},
	})
}
