package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/lockorder"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CancellationEngine reverses a confirmed booking's effect on inventory.
type CancellationEngine struct {
	repos   Repositories
	topic   string
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewCancellationEngine constructs a CancellationEngine. topic names the
// outbox topic for booking.cancelled events.
func NewCancellationEngine(repos Repositories, topic string, m *metrics.Metrics, log *zap.Logger) *CancellationEngine {
	return &CancellationEngine{
		repos:   repos,
		topic:   topic,
		metrics: m,
		log:     log.Named("cancellation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Cancel cancels actor's booking bookingID and releases its tickets.
//
// The booking row is locked first, so concurrent cancels of one booking
// serialize and the later one sees the cancelled status. The ticket type
// rows are then locked in the same canonical order reservations use and
// every item is released with a relative delta.
func (e *CancellationEngine) Cancel(ctx context.Context, actor model.Actor, bookingID int64) (booking *model.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "cancellation.cancel", trace.WithAttributes(
		attribute.Int64("booking.id", bookingID),
	))
	defer func() {
		e.metrics.ObserveBooking(metrics.OpCancel, model.Code(err))
		telemetry.EndSpan(span, err)
	}()

	if actor.ID == "" {
		return nil, fmt.Errorf("%w: actor is required", model.ErrInvalidRequest)
	}
	if bookingID <= 0 {
		return nil, model.ErrNotFound
	}

	start := time.Now()
	err = e.repos.Store.InTx(ctx, func(tx pgx.Tx) error {
		b, err := e.repos.Bookings.LockForOwnerTx(ctx, tx, bookingID, actor.ID)
		if err != nil {
			return err
		}
		if err := b.Status.CheckCancellable(); err != nil {
			return err
		}

		lockIDs := lockorder.Canonical(b.TicketTypeIDs())
		locked, err := e.repos.TicketTypes.LockByIDsTx(ctx, tx, lockIDs)
		if err != nil {
			return err
		}
		if missing, _ := lo.Difference(lockIDs, lo.Keys(locked)); len(missing) > 0 {
			return fmt.Errorf("booking %d references missing ticket types %v", b.ID, missing)
		}

		at := e.now()
		if err := e.repos.Bookings.MarkCancelledTx(ctx, tx, b.ID, at); err != nil {
			return err
		}

		released := make(map[int64]int, len(b.Items))
		for _, it := range b.Items {
			released[it.TicketTypeID] += it.Quantity
		}
		for _, id := range lockIDs {
			if err := e.repos.TicketTypes.AdjustTx(ctx, tx, id, -released[id]); err != nil {
				return err
			}
		}

		b.Status = model.BookingStatusCancelled
		b.CancelledAt = &at
		if err := e.recordEvent(ctx, tx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	e.metrics.ObserveCriticalSection(metrics.OpCancel, time.Since(start))

	switch code := model.Code(err); code {
	case "OK":
	case "INTERNAL_ERROR":
		e.log.Error("cancellation failed",
			zap.String("user_id", actor.ID),
			zap.Int64("booking_id", bookingID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("cancel booking: %w", err)
	default:
		e.log.Debug("cancellation rejected",
			zap.String("code", code),
			zap.String("user_id", actor.ID),
			zap.Int64("booking_id", bookingID),
			zap.Error(err),
		)
		return nil, err
	}

	quantity := lo.SumBy(booking.Items, func(it model.BookingItem) int { return it.Quantity })
	e.metrics.AddTicketsReleased(quantity)
	e.log.Info("booking cancelled",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("event_id", booking.EventID),
		zap.String("user_id", actor.ID),
		zap.Int("quantity", quantity),
	)
	return booking, nil
}

func (e *CancellationEngine) recordEvent(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
	if e.repos.Outbox == nil {
		return nil
	}
	msg, err := model.NewBookingOutboxMessage(model.BookingEventCancelled, b, e.topic, e.now())
	if err != nil {
		return fmt.Errorf("build outbox message: %w", err)
	}
	return e.repos.Outbox.CreateTx(ctx, tx, msg)
}
