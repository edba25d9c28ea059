// Package model defines the core domain types for the booking and inventory engine.
package model

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Role is the role carried by an authenticated actor.
type Role string

const (
	RoleAttendee  Role = "attendee"
	RoleOrganizer Role = "organizer"
)

// Actor is the authenticated identity issued by the external identity provider.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Event is the capacity-bearing parent of a set of ticket types.
// Event metadata is owned elsewhere; the engine only reads capacity.
type Event struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// TicketType is one inventory row. QuantityAvailable and QuantitySold are
// mutated only inside a locked transaction.
type TicketType struct {
	ID                int64           `json:"id"`
	EventID           int64           `json:"event_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantity_available"`
	QuantitySold      int             `json:"quantity_sold"`
	IsActive          bool            `json:"is_active"`
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// IsValid reports whether s is a known status.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled:
		return true
	}
	return false
}

func (s BookingStatus) String() string {
	return string(s)
}

// CheckCancellable returns nil when a booking in status s may be cancelled.
func (s BookingStatus) CheckCancellable() error {
	switch s {
	case BookingStatusConfirmed:
		return nil
	case BookingStatusCancelled:
		return ErrAlreadyCancelled
	default:
		return fmt.Errorf("%w: booking is %s", ErrInvalidState, s)
	}
}

// Booking is a user's reservation for one event.
type Booking struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	EventID     int64         `json:"event_id"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
	Items       []BookingItem `json:"items"`
}

// BookingItem is an immutable line of a booking.
type BookingItem struct {
	ID           int64 `json:"id"`
	BookingID    int64 `json:"booking_id"`
	TicketTypeID int64 `json:"ticket_type_id"`
	Quantity     int   `json:"quantity"`
}

// TicketTypeIDs returns the ticket type ids referenced by the booking's items.
func (b *Booking) TicketTypeIDs() []int64 {
	return lo.Map(b.Items, func(it BookingItem, _ int) int64 { return it.TicketTypeID })
}

// LineItem is one requested (ticket type, quantity) pair.
type LineItem struct {
	TicketTypeID int64 `json:"ticket_type_id"`
	Quantity     int   `json:"quantity"`
}

// CreateBookingRequest is the payload for reserving tickets.
type CreateBookingRequest struct {
	EventID int64      `json:"event_id"`
	Items   []LineItem `json:"items"`
}

// Validate checks the shape preconditions of the request. It does not touch
// the store. Duplicate ticket types are reported by CheckDuplicates, after
// the ticket type checks.
func (r *CreateBookingRequest) Validate() error {
	if r.EventID <= 0 {
		return fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrInvalidRequest)
	}
	for i, it := range r.Items {
		if it.TicketTypeID <= 0 {
			return fmt.Errorf("%w: items[%d].ticket_type_id is required", ErrInvalidRequest, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be a positive integer", ErrInvalidRequest, i)
		}
	}
	return nil
}

// CheckDuplicates fails with *DuplicateLineItemError naming the first ticket
// type that appears in more than one line item.
func (r *CreateBookingRequest) CheckDuplicates() error {
	if dups := lo.FindDuplicates(r.TicketTypeIDs()); len(dups) > 0 {
		return &DuplicateLineItemError{TicketTypeID: dups[0]}
	}
	return nil
}

// TicketTypeIDs returns the requested ticket type ids in request order.
func (r *CreateBookingRequest) TicketTypeIDs() []int64 {
	return lo.Map(r.Items, func(it LineItem, _ int) int64 { return it.TicketTypeID })
}

// TotalQuantity is the sum of all requested quantities.
func (r *CreateBookingRequest) TotalQuantity() int {
	return lo.SumBy(r.Items, func(it LineItem) int { return it.Quantity })
}

// CreateBookingResponse is returned after a successful reservation.
type CreateBookingResponse struct {
	BookingID int64         `json:"booking_id"`
	Status    BookingStatus `json:"status"`
	Items     []BookingItem `json:"items"`
}

// CancelBookingResponse acknowledges a cancellation.
type CancelBookingResponse struct {
	Detail    string        `json:"detail"`
	BookingID int64         `json:"booking_id"`
	Status    BookingStatus `json:"status"`
}

// BookingDetail is the read model for one booking.
type BookingDetail struct {
	ID          int64               `json:"id"`
	EventID     int64               `json:"event_id"`
	EventName   string              `json:"event_name"`
	Status      BookingStatus       `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
	Items       []BookingItemDetail `json:"items"`
	Total       decimal.Decimal     `json:"total"`
}

// BookingItemDetail is one line of a BookingDetail.
type BookingItemDetail struct {
	ID             int64           `json:"id"`
	TicketTypeID   int64           `json:"ticket_type_id"`
	TicketTypeName string          `json:"ticket_type_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// ComputeTotal sets Total from the item lines.
func (d *BookingDetail) ComputeTotal() {
	total := decimal.Zero
	for _, it := range d.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	d.Total = total
}

// BookingFilter narrows an owner's booking list. Nil fields are ignored.
type BookingFilter struct {
	Status        *BookingStatus
	EventID       *int64
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// EventInventory is a read-only snapshot of an event's stock.
type EventInventory struct {
	EventID     int64        `json:"event_id"`
	Capacity    int          `json:"capacity"`
	TotalSold   int          `json:"total_sold"`
	Remaining   int          `json:"remaining"`
	TicketTypes []TicketType `json:"ticket_types"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code   string   `json:"code"`
	Errors []string `json:"errors"`
}
