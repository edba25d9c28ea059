package service

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/telemetry"
)

// BookingService is the entry point the HTTP layer talks to. Writes go
// through the engines; reads are plain queries over committed state.
type BookingService struct {
	reservations  *ReservationEngine
	cancellations *CancellationEngine
	repos         Repositories
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(repos Repositories, reservations *ReservationEngine, cancellations *CancellationEngine) *BookingService {
	return &BookingService{
		reservations:  reservations,
		cancellations: cancellations,
		repos:         repos,
	}
}

// Reserve creates a confirmed booking.
func (s *BookingService) Reserve(ctx context.Context, actor model.Actor, req model.CreateBookingRequest) (*model.Booking, error) {
	return s.reservations.Reserve(ctx, actor, req)
}

// Cancel cancels one of actor's bookings.
func (s *BookingService) Cancel(ctx context.Context, actor model.Actor, bookingID int64) (*model.Booking, error) {
	return s.cancellations.Cancel(ctx, actor, bookingID)
}

// ListOwn returns actor's bookings, newest first.
func (s *BookingService) ListOwn(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]model.BookingDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "bookings.list_own")
	defer span.End()

	if f.Status != nil && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidRequest, *f.Status)
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return nil, fmt.Errorf("%w: created_after must not be later than created_before", model.ErrInvalidRequest)
	}
	out, err := s.repos.Bookings.ListDetailsForOwner(ctx, actor.ID, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if out == nil {
		out = []model.BookingDetail{}
	}
	return out, nil
}

// GetOwn returns one of actor's bookings. Bookings of other actors are
// reported as model.ErrNotFound.
func (s *BookingService) GetOwn(ctx context.Context, actor model.Actor, bookingID int64) (*model.BookingDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "bookings.get_own")
	defer span.End()

	if bookingID <= 0 {
		return nil, model.ErrNotFound
	}
	return s.repos.Bookings.GetDetailForOwner(ctx, bookingID, actor.ID)
}

// EventInventory returns a read-only snapshot of an event's stock.
func (s *BookingService) EventInventory(ctx context.Context, eventID int64) (*model.EventInventory, error) {
	ctx, span := telemetry.StartSpan(ctx, "inventory.snapshot")
	defer span.End()

	ev, err := s.repos.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	types, err := s.repos.TicketTypes.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event inventory: %w", err)
	}
	sold, err := s.repos.Events.TotalSold(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event inventory: %w", err)
	}
	if types == nil {
		types = []model.TicketType{}
	}
	return &model.EventInventory{
		EventID:     ev.ID,
		Capacity:    ev.Capacity,
		TotalSold:   sold,
		Remaining:   max(ev.Capacity-sold, 0),
		TicketTypes: types,
	}, nil
}
