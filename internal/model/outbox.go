package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// BookingEventType names a booking state change published to other services.
type BookingEventType string

const (
	BookingEventConfirmed BookingEventType = "booking.confirmed"
	BookingEventCancelled BookingEventType = "booking.cancelled"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// BookingEvent is the payload of an outbox message.
type BookingEvent struct {
	ID         string           `json:"id"`
	Type       BookingEventType `json:"type"`
	BookingID  int64            `json:"booking_id"`
	EventID    int64            `json:"event_id"`
	UserID     string           `json:"user_id"`
	Items      []BookingItem    `json:"items"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// OutboxMessage is a row of booking_outbox.
type OutboxMessage struct {
	ID           uuid.UUID
	AggregateID  int64
	EventType    BookingEventType
	Topic        string
	PartitionKey string
	Payload      []byte
	Status       OutboxStatus
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
	PublishedAt  *time.Time
}

// NewBookingOutboxMessage builds the outbox message describing b entering the
// state named by eventType. Messages are keyed by event id so that all changes
// of one event's inventory land on one partition. Delivery is at-least-once;
// order per key holds until a message exhausts its retries and is parked.
func NewBookingOutboxMessage(eventType BookingEventType, b *Booking, topic string, now time.Time) (*OutboxMessage, error) {
	id := uuid.New()
	payload, err := json.Marshal(BookingEvent{
		ID:         id.String(),
		Type:       eventType,
		BookingID:  b.ID,
		EventID:    b.EventID,
		UserID:     b.UserID,
		Items:      b.Items,
		OccurredAt: now,
	})
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		ID:           id,
		AggregateID:  b.ID,
		EventType:    eventType,
		Topic:        topic,
		PartitionKey: strconv.FormatInt(b.EventID, 10),
		Payload:      payload,
		Status:       OutboxStatusPending,
		CreatedAt:    now,
	}, nil
}
