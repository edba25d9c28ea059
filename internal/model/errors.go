package model

import (
	"errors"
	"fmt"
)

// Error kinds produced by the reservation and cancellation engines.
var (
	ErrInvalidRequest        = errors.New("invalid booking request")
	ErrInvalidTicketType     = errors.New("one or more ticket types are invalid")
	ErrCrossEventMismatch    = errors.New("all ticket types must belong to the same event")
	ErrDuplicateLineItem     = errors.New("ticket type referenced more than once")
	ErrInsufficientInventory = errors.New("not enough tickets available")
	ErrCapacityExceeded      = errors.New("booking exceeds event capacity")
	ErrEventNotFound         = errors.New("event not found")

	// ErrNotFound is returned both for missing bookings and for bookings owned
	// by another actor.
	ErrNotFound         = errors.New("booking not found")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrInvalidState     = errors.New("booking is not in a cancellable state")

	// ErrBusy means the store could not grant the row locks in time. The
	// request can be retried as-is.
	ErrBusy = errors.New("inventory is busy, please retry")
)

// InsufficientInventoryError names the ticket type that ran short.
type InsufficientInventoryError struct {
	TicketTypeID int64
	Name         string
	Requested    int
	Available    int
}

func (e *InsufficientInventoryError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("ticket type %d", e.TicketTypeID)
	}
	return fmt.Sprintf("not enough tickets available for %s: requested %d, available %d",
		name, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// DuplicateLineItemError names the ticket type that appeared twice.
type DuplicateLineItemError struct {
	TicketTypeID int64
}

func (e *DuplicateLineItemError) Error() string {
	return fmt.Sprintf("ticket type %d referenced more than once", e.TicketTypeID)
}

func (e *DuplicateLineItemError) Unwrap() error { return ErrDuplicateLineItem }

// Code returns the stable machine code for err. Unknown errors map to
// INTERNAL_ERROR and nil maps to OK.
func Code(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrInvalidTicketType):
		return "INVALID_TICKET_TYPE"
	case errors.Is(err, ErrCrossEventMismatch):
		return "CROSS_EVENT_MISMATCH"
	case errors.Is(err, ErrDuplicateLineItem):
		return "DUPLICATE_LINE_ITEM"
	case errors.Is(err, ErrInsufficientInventory):
		return "INSUFFICIENT_INVENTORY"
	case errors.Is(err, ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrEventNotFound):
		return "EVENT_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyCancelled):
		return "ALREADY_CANCELLED"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrBusy):
		return "BUSY"
	}
	return "INTERNAL_ERROR"
}

// IsValidationError reports whether err is a request-level rejection.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTicketType) ||
		errors.Is(err, ErrCrossEventMismatch) ||
		errors.Is(err, ErrDuplicateLineItem)
}

// IsConflictError reports whether err is a rejection caused by current
// inventory or booking state.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFoundError reports whether err is a not-found rejection.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEventNotFound)
}
