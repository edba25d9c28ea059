package service

import (
	"fmt"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
)

// checkAdvisory is the fail-fast validation done before any lock is taken.
// types holds the referenced ticket types as read without locks, keyed by
// id. Unknown or inactive types fail first, then types of another event, then
// duplicate line items, then availability. Passing here guarantees nothing
// about the locked phase.
func checkAdvisory(req *model.CreateBookingRequest, types map[int64]model.TicketType) error {
	for _, it := range req.Items {
		tt, ok := types[it.TicketTypeID]
		if !ok || !tt.IsActive {
			return fmt.Errorf("%w: ticket type %d", model.ErrInvalidTicketType, it.TicketTypeID)
		}
	}
	for _, it := range req.Items {
		if tt := types[it.TicketTypeID]; tt.EventID != req.EventID {
			return fmt.Errorf("%w: ticket type %d belongs to event %d, not %d",
				model.ErrCrossEventMismatch, tt.ID, tt.EventID, req.EventID)
		}
	}
	if err := req.CheckDuplicates(); err != nil {
		return err
	}
	return checkAvailability(req, types)
}

// checkLocked re-validates the request against state read under lock:
// the locked ticket type rows, the locked event and the event's current
// total sold. Capacity is checked before per-type availability.
func checkLocked(req *model.CreateBookingRequest, ev *model.Event, totalSold int, locked map[int64]model.TicketType) error {
	for _, it := range req.Items {
		tt, ok := locked[it.TicketTypeID]
		if !ok || !tt.IsActive {
			return fmt.Errorf("%w: ticket type %d", model.ErrInvalidTicketType, it.TicketTypeID)
		}
		if tt.EventID != ev.ID {
			return fmt.Errorf("%w: ticket type %d belongs to event %d, not %d",
				model.ErrCrossEventMismatch, tt.ID, tt.EventID, ev.ID)
		}
	}

	if requested := req.TotalQuantity(); totalSold+requested > ev.Capacity {
		return fmt.Errorf("%w: %d sold, %d requested, capacity %d",
			model.ErrCapacityExceeded, totalSold, requested, ev.Capacity)
	}
	return checkAvailability(req, locked)
}

func checkAvailability(req *model.CreateBookingRequest, types map[int64]model.TicketType) error {
	for _, it := range req.Items {
		tt := types[it.TicketTypeID]
		if it.Quantity > tt.QuantityAvailable {
			return &model.InsufficientInventoryError{
				TicketTypeID: tt.ID,
				Name:         tt.Name,
				Requested:    it.Quantity,
				Available:    tt.QuantityAvailable,
			}
		}
	}
	return nil
}
