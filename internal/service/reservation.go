// Package service implements the booking engines: reservation, cancellation
// and the read models over the booking ledger.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/lockorder"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Repositories bundles the stores the engines work on.
type Repositories struct {
	Store       *repository.Store
	Events      *repository.EventRepository
	TicketTypes *repository.TicketTypeRepository
	Bookings    *repository.BookingRepository
	// Outbox is optional. When nil no booking events are recorded.
	Outbox *repository.OutboxRepository
}

// ReservationEngine turns a booking request into a confirmed booking, or
// rejects it without touching inventory.
type ReservationEngine struct {
	repos   Repositories
	topic   string
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewReservationEngine constructs a ReservationEngine. topic names the
// outbox topic for booking.confirmed events.
func NewReservationEngine(repos Repositories, topic string, m *metrics.Metrics, log *zap.Logger) *ReservationEngine {
	return &ReservationEngine{
		repos:   repos,
		topic:   topic,
		metrics: m,
		log:     log.Named("reservation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve books req for actor.
//
// Phase one validates the request against an unlocked read and fails fast.
// Phase two runs in one transaction: it locks the ticket type rows in
// canonical order, then the event row, re-reads the event's total sold,
// re-validates capacity and availability, and applies the inventory deltas
// together with the booking rows. Any failure rolls the whole transaction
// back.
func (e *ReservationEngine) Reserve(ctx context.Context, actor model.Actor, req model.CreateBookingRequest) (booking *model.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "reservation.reserve", trace.WithAttributes(
		attribute.Int64("event.id", req.EventID),
		attribute.Int("items", len(req.Items)),
	))
	defer func() {
		e.metrics.ObserveBooking(metrics.OpReserve, model.Code(err))
		telemetry.EndSpan(span, err)
	}()

	if actor.ID == "" {
		return nil, fmt.Errorf("%w: actor is required", model.ErrInvalidRequest)
	}
	if err = req.Validate(); err != nil {
		return nil, e.handleErr(actor, req, err)
	}

	// Phase one: advisory, no locks. The event is judged through its ticket
	// types; an unknown event_id surfaces as a cross-event mismatch.
	types, err := e.repos.TicketTypes.GetByIDs(ctx, req.TicketTypeIDs())
	if err != nil {
		return nil, e.handleErr(actor, req, err)
	}
	if err = checkAdvisory(&req, types); err != nil {
		return nil, e.handleErr(actor, req, err)
	}
	// Only reachable when the event was deleted after its ticket types were read.
	if _, err = e.repos.Events.GetByID(ctx, req.EventID); err != nil {
		return nil, e.handleErr(actor, req, err)
	}

	// Phase two: locked critical section.
	lockIDs := lockorder.Canonical(req.TicketTypeIDs())
	start := time.Now()
	err = e.repos.Store.InTx(ctx, func(tx pgx.Tx) error {
		locked, err := e.repos.TicketTypes.LockByIDsTx(ctx, tx, lockIDs)
		if err != nil {
			return err
		}
		ev, err := e.repos.Events.LockTx(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		sold, err := e.repos.Events.TotalSoldTx(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if err := checkLocked(&req, ev, sold, locked); err != nil {
			return err
		}

		quantities := make(map[int64]int, len(req.Items))
		for _, it := range req.Items {
			quantities[it.TicketTypeID] = it.Quantity
		}
		for _, id := range lockIDs {
			if err := e.repos.TicketTypes.AdjustTx(ctx, tx, id, quantities[id]); err != nil {
				return err
			}
		}

		b := &model.Booking{
			UserID:  actor.ID,
			EventID: req.EventID,
			Status:  model.BookingStatusConfirmed,
			Items:   make([]model.BookingItem, 0, len(req.Items)),
		}
		for _, it := range req.Items {
			b.Items = append(b.Items, model.BookingItem{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity})
		}
		if err := e.repos.Bookings.CreateTx(ctx, tx, b); err != nil {
			return err
		}
		if err := e.recordEvent(ctx, tx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	e.metrics.ObserveCriticalSection(metrics.OpReserve, time.Since(start))
	if err != nil {
		return nil, e.handleErr(actor, req, err)
	}

	e.metrics.AddTicketsSold(req.TotalQuantity())
	e.log.Info("booking confirmed",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("event_id", booking.EventID),
		zap.String("user_id", actor.ID),
		zap.Int("quantity", req.TotalQuantity()),
	)
	return booking, nil
}

func (e *ReservationEngine) recordEvent(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
	if e.repos.Outbox == nil {
		return nil
	}
	msg, err := model.NewBookingOutboxMessage(model.BookingEventConfirmed, b, e.topic, e.now())
	if err != nil {
		return fmt.Errorf("build outbox message: %w", err)
	}
	return e.repos.Outbox.CreateTx(ctx, tx, msg)
}

// handleErr logs err by kind. Rejections are returned unchanged, store
// failures are wrapped.
func (e *ReservationEngine) handleErr(actor model.Actor, req model.CreateBookingRequest, err error) error {
	fields := []zap.Field{
		zap.String("user_id", actor.ID),
		zap.Int64("event_id", req.EventID),
		zap.Error(err),
	}
	switch code := model.Code(err); code {
	case "INTERNAL_ERROR":
		e.log.Error("reservation failed", fields...)
		return fmt.Errorf("reserve tickets: %w", err)
	case "BUSY":
		e.log.Warn("reservation busy", fields...)
	default:
		e.log.Debug("reservation rejected", append(fields, zap.String("code", code))...)
	}
	return err
}
