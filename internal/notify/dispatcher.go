// Package notify fans out lifecycle notifications to designated recipients.
// Delivery is log-backed pub/sub: transports are out of scope, but ordering
// guarantees hold — a lifecycle manager publishes no later than its audit
// write.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType classifies lifecycle notifications
type EventType string

const (
	// NotifyOverrideActivated fires when an emergency override is activated
	NotifyOverrideActivated EventType = "override.activated"
	// NotifyOverrideDeactivated fires when an emergency override ends
	NotifyOverrideDeactivated EventType = "override.deactivated"
	// NotifyDelegationCreated fires when a delegation is created
	NotifyDelegationCreated EventType = "delegation.created"
	// NotifyDelegationApproved fires when a delegation is approved
	NotifyDelegationApproved EventType = "delegation.approved"
	// NotifyDelegationRevoked fires when a delegation is revoked
	NotifyDelegationRevoked EventType = "delegation.revoked"
)

// Event is one notification
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Subject    string
	Actor      string
	Recipients []string
	Message    string
	Data       map[string]interface{}
}

// Handler processes one notification
type Handler func(event Event)

// Dispatcher manages notification fan-out using a pub/sub pattern. Publish
// never blocks; a full queue drops the event rather than stalling a
// lifecycle transition.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	eventQueue chan Event
	done       chan struct{}
	wg         sync.WaitGroup

	logger *zap.Logger
}

// NewDispatcher creates a dispatcher; Start must be called before Publish
// delivers anything.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		handlers:   make(map[EventType][]Handler),
		eventQueue: make(chan Event, 100),
		done:       make(chan struct{}),
		logger:     logger,
	}

	// Every event is at least logged, regardless of subscribers
	d.Subscribe(NotifyOverrideActivated, d.logEvent)
	d.Subscribe(NotifyOverrideDeactivated, d.logEvent)
	d.Subscribe(NotifyDelegationCreated, d.logEvent)
	d.Subscribe(NotifyDelegationApproved, d.logEvent)
	d.Subscribe(NotifyDelegationRevoked, d.logEvent)

	return d
}

// Subscribe registers a handler for one event type
func (d *Dispatcher) Subscribe(eventType EventType, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Publish queues an event for asynchronous fan-out (non-blocking)
func (d *Dispatcher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case d.eventQueue <- event:
	default:
		d.logger.Warn("notification queue full, event dropped",
			zap.String("type", string(event.Type)),
			zap.String("subject", event.Subject))
	}
}

// PublishSync delivers an event to all handlers before returning
func (d *Dispatcher) PublishSync(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	d.mu.RLock()
	handlers := d.handlers[event.Type]
	d.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Start begins processing queued events
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.processEvents()
}

// Stop drains the queue and stops processing
func (d *Dispatcher) Stop() {
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) processEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			for len(d.eventQueue) > 0 {
				d.deliver(<-d.eventQueue)
			}
			return
		case event := <-d.eventQueue:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.mu.RLock()
	handlers := d.handlers[event.Type]
	d.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (d *Dispatcher) logEvent(event Event) {
	d.logger.Info("notification dispatched",
		zap.String("type", string(event.Type)),
		zap.String("subject", event.Subject),
		zap.String("actor", event.Actor),
		zap.Strings("recipients", event.Recipients),
		zap.String("message", event.Message))
}

// SubscriberCount returns the number of handlers for an event type
func (d *Dispatcher) SubscriberCount(eventType EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}
