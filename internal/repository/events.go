package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository reads event capacity and aggregates sold counts.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts an event.
func (r *EventRepository) Create(ctx context.Context, e *model.Event) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO events (name, capacity) VALUES ($1, $2) RETURNING id`,
		e.Name, e.Capacity,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID returns a single event or model.ErrEventNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, name, capacity FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// LockTx acquires an exclusive lock on the event row. Reservations for the
// same event serialize on this lock, which is what makes the capacity check
// hold across different ticket types.
func (r *EventRepository) LockTx(ctx context.Context, tx pgx.Tx, id int64) (*model.Event, error) {
	var e model.Event
	err := tx.QueryRow(ctx,
		`SELECT id, name, capacity FROM events WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&e.ID, &e.Name, &e.Capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrEventNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	return &e, nil
}

// TotalSoldTx is the capacity aggregator: the sum of quantity_sold across
// the event's ticket types, read inside tx. Called after the event lock is
// held it observes every committed reservation.
func (r *EventRepository) TotalSoldTx(ctx context.Context, tx pgx.Tx, eventID int64) (int, error) {
	return totalSold(ctx, tx, eventID)
}

// TotalSold is TotalSoldTx outside a transaction, for read models.
func (r *EventRepository) TotalSold(ctx context.Context, eventID int64) (int, error) {
	return totalSold(ctx, r.db, eventID)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func totalSold(ctx context.Context, q rowQuerier, eventID int64) (int, error) {
	var sold int
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity_sold), 0) FROM ticket_types WHERE event_id = $1`,
		eventID,
	).Scan(&sold)
	if err != nil {
		return 0, fmt.Errorf("sum sold tickets: %w", err)
	}
	return sold, nil
}
