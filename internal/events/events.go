package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingConfirmed  = "booking.confirmed"
	EventBookingWaitlisted = "booking.waitlisted"
	EventBookingCancelled  = "booking.cancelled"
	EventBookingCheckedIn  = "booking.checked_in"
	EventBookingCompleted  = "booking.completed"
	EventBookingNoShow     = "booking.no_show"

	EventWaitlistJoined        = "waitlist.joined"
	EventWaitlistLeft          = "waitlist.left"
	EventWaitlistSpotAvailable = "waitlist.spot_available"
	EventWaitlistHoldExpired   = "waitlist.hold_expired"
	EventWaitlistSpotAccepted  = "waitlist.spot_accepted"

	EventRescheduleRequested = "reschedule.requested"
	EventRescheduleApproved  = "reschedule.approved"
	EventRescheduleRejected  = "reschedule.rejected"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID         int64     `json:"booking_id"`
	UserID            int64     `json:"user_id"`
	ClassID           int64     `json:"class_id"`
	Status            string    `json:"status"`
	ClassStartsAt     time.Time `json:"class_starts_at"`
	Reason            string    `json:"reason,omitempty"`
	PenaltyPercentage float64   `json:"penalty_percentage,omitempty"`
	ChangedBy         string    `json:"changed_by,omitempty"`
	ChangedByID       int64     `json:"changed_by_id,omitempty"`
}

// SpotAvailablePayload is emitted once per promotion, after commit.
type SpotAvailablePayload struct {
	UserID    int64     `json:"user_id"`
	ClassID   int64     `json:"class_id"`
	ClassName string    `json:"class_name"`
	StartsAt  time.Time `json:"starts_at"`
	BookingID int64     `json:"booking_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type WaitlistEventPayload struct {
	ClassID  int64  `json:"class_id"`
	UserID   int64  `json:"user_id"`
	Position int    `json:"position,omitempty"`
	Status   string `json:"status"`
}

type ReschedulePayload struct {
	RequestID       int64  `json:"request_id"`
	BookingID       int64  `json:"booking_id"`
	UserID          int64  `json:"user_id"`
	OriginalClassID int64  `json:"original_class_id"`
	TargetClassID   int64  `json:"target_class_id"`
	Status          string `json:"status"`
	AutoApproved    bool   `json:"auto_approved,omitempty"`
	ProcessedBy     *int64 `json:"processed_by,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets a callback for handler failures. Failures never reach the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
