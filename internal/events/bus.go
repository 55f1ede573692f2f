package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventKeysIssued       EventType = "KEYS_ISSUED"
	EventKeyRevoked       EventType = "KEY_REVOKED"
	EventKeyDeleted       EventType = "KEY_DELETED"
	EventDeviceRegistered EventType = "DEVICE_REGISTERED"
	EventDeviceRemoved    EventType = "DEVICE_REMOVED"
	EventCreditsAdjusted  EventType = "CREDITS_ADJUSTED"
	EventResellerCreated  EventType = "RESELLER_CREATED"
	EventResellerToggled  EventType = "RESELLER_TOGGLED"
	EventUpdatePublished  EventType = "UPDATE_PUBLISHED"
	EventUpdateDeleted    EventType = "UPDATE_DELETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
	wg          sync.WaitGroup
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers without waiting for them
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, sub := range eb.subscribers[event.Type] {
		eb.dispatch(sub, event)
	}
	for _, sub := range eb.allSubs {
		eb.dispatch(sub, event)
	}
}

func (eb *EventBus) dispatch(sub Subscriber, event Event) {
	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		sub(event)
	}()
}

// Wait blocks until every dispatched subscriber call has returned
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// KeysIssued builds a keys issued event
func KeysIssued(resellerID int64, game string, keys []string, remaining int64) Event {
	return Event{
		Type: EventKeysIssued,
		Data: map[string]interface{}{
			"reseller_id":       resellerID,
			"game":              game,
			"keys":              keys,
			"count":             len(keys),
			"remaining_credits": remaining,
		},
	}
}

// UpdatePublished builds an update broadcast event
func UpdatePublished(id int64, message string, createdAt time.Time) Event {
	return Event{
		Type: EventUpdatePublished,
		Data: map[string]interface{}{
			"id":         id,
			"message":    message,
			"created_at": createdAt,
		},
	}
}
