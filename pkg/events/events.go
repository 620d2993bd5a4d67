package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventGridCreated       EventType = "grid.created"
	EventGridInitialized   EventType = "grid.initialized"
	EventGridActivated     EventType = "grid.activated"
	EventGridPaused        EventType = "grid.paused"
	EventGridTerminated    EventType = "grid.terminated"
	EventGridError         EventType = "grid.error"
	EventWorkerCreated     EventType = "worker.created"
	EventWorkerOnline      EventType = "worker.online"
	EventWorkerOffline     EventType = "worker.offline"
	EventWorkerDown        EventType = "worker.down"
	EventWorkerDeleted     EventType = "worker.deleted"
	EventFunctionCreated   EventType = "function.created"
	EventFunctionStarted   EventType = "function.started"
	EventFunctionCompleted EventType = "function.completed"
	EventFunctionFailed    EventType = "function.failed"
	EventFunctionCancelled EventType = "function.cancelled"
	EventFunctionDeleted   EventType = "function.deleted"
	EventTaskClaimed       EventType = "task.claimed"
	EventTaskCompleted     EventType = "task.completed"
	EventTaskFailed        EventType = "task.failed"
	EventTaskTimedOut      EventType = "task.timed_out"
	EventDeployFailed      EventType = "deploy.failed"
	EventDeployDeadLetter  EventType = "deploy.dead_letter"
)

// Event represents an engine event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// New builds an event with the timestamp stamped. Metadata key/value pairs
// alternate; an odd trailing key is dropped.
func New(eventType EventType, message string, kv ...string) *Event {
	md := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		md[kv[i]] = kv[i+1]
	}
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  md,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
