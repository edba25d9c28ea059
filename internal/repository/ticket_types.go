package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/lockorder"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const ticketTypeColumns = `id, event_id, name, price::text, quantity_available, quantity_sold, is_active`

// TicketTypeRepository is the inventory store: ticket type rows and their
// available/sold counters.
type TicketTypeRepository struct {
	db *pgxpool.Pool
}

// NewTicketTypeRepository constructs a TicketTypeRepository.
func NewTicketTypeRepository(db *pgxpool.Pool) *TicketTypeRepository {
	return &TicketTypeRepository{db: db}
}

// Create inserts a ticket type with no tickets sold.
func (r *TicketTypeRepository) Create(ctx context.Context, t *model.TicketType) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO ticket_types (event_id, name, price, quantity_available, quantity_sold, is_active)
		 VALUES ($1, $2, $3::numeric, $4, 0, $5)
		 RETURNING id`,
		t.EventID, t.Name, t.Price.String(), t.QuantityAvailable, t.IsActive,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert ticket type: %w", err)
	}
	t.QuantitySold = 0
	return nil
}

// GetByIDs returns the ticket types with the given ids without locking them.
// Unknown ids are simply absent from the result.
func (r *TicketTypeRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.TicketType, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get ticket types: %w", err)
	}
	return collectTicketTypeMap(rows)
}

// LockByIDsTx locks the ticket type rows FOR UPDATE and returns their state
// as of lock acquisition. ids must be in canonical lock order; the ORDER BY
// makes PostgreSQL take the row locks in that same order.
func (r *TicketTypeRepository) LockByIDsTx(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]model.TicketType, error) {
	if !lockorder.IsCanonical(ids) {
		return nil, fmt.Errorf("lock ticket types: ids %v are not in canonical order", ids)
	}
	rows, err := tx.Query(ctx,
		`SELECT `+ticketTypeColumns+`
		 FROM ticket_types
		 WHERE id = ANY($1)
		 ORDER BY id
		 FOR UPDATE`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("lock ticket types: %w", err)
	}
	return collectTicketTypeMap(rows)
}

// AdjustTx moves delta tickets from available to sold on one row. A negative
// delta releases tickets. The update is a relative expression against the
// stored values, never an overwrite.
func (r *TicketTypeRepository) AdjustTx(ctx context.Context, tx pgx.Tx, id int64, delta int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE ticket_types
		 SET quantity_available = quantity_available - $2,
		     quantity_sold      = quantity_sold + $2
		 WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust ticket type %d: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("adjust ticket type %d: row not found", id)
	}
	return nil
}

// ListByEvent returns an event's ticket types ordered by id.
func (r *TicketTypeRepository) ListByEvent(ctx context.Context, eventID int64) ([]model.TicketType, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	defer rows.Close()

	var out []model.TicketType
	for rows.Next() {
		t, err := scanTicketType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetActive flips a ticket type's sellable flag.
func (r *TicketTypeRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE ticket_types SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set ticket type active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInvalidTicketType
	}
	return nil
}

func collectTicketTypeMap(rows pgx.Rows) (map[int64]model.TicketType, error) {
	defer rows.Close()

	out := make(map[int64]model.TicketType)
	for rows.Next() {
		t, err := scanTicketType(rows)
		if err != nil {
			return nil, err
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}

func scanTicketType(row pgx.Row) (model.TicketType, error) {
	var (
		t     model.TicketType
		price string
	)
	if err := row.Scan(&t.ID, &t.EventID, &t.Name, &price, &t.QuantityAvailable, &t.QuantitySold, &t.IsActive); err != nil {
		return t, fmt.Errorf("scan ticket type: %w", err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return t, fmt.Errorf("parse price %q: %w", price, err)
	}
	t.Price = p
	return t, nil
}
