package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BookingRepository is the booking ledger: bookings and their items.
type BookingRepository struct {
	db *pgxpool.Pool
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(db *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{db: db}
}

// CreateTx inserts b and its items, filling in the generated ids and
// timestamps.
func (r *BookingRepository) CreateTx(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO bookings (user_id, event_id, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		b.UserID, b.EventID, b.Status,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	for i := range b.Items {
		it := &b.Items[i]
		it.BookingID = b.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO booking_items (booking_id, ticket_type_id, quantity)
			 VALUES ($1, $2, $3)
			 RETURNING id`,
			it.BookingID, it.TicketTypeID, it.Quantity,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert booking item: %w", err)
		}
	}
	return nil
}

// LockForOwnerTx locks the booking row FOR UPDATE and loads its items.
// Bookings owned by someone else are reported as model.ErrNotFound.
func (r *BookingRepository) LockForOwnerTx(ctx context.Context, tx pgx.Tx, id int64, userID string) (*model.Booking, error) {
	var b model.Booking
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, event_id, status, created_at, cancelled_at
		 FROM bookings
		 WHERE id = $1 AND user_id = $2
		 FOR UPDATE`,
		id, userID,
	).Scan(&b.ID, &b.UserID, &b.EventID, &b.Status, &b.CreatedAt, &b.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, booking_id, ticket_type_id, quantity
		 FROM booking_items
		 WHERE booking_id = $1
		 ORDER BY ticket_type_id`,
		b.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("load booking items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.BookingItem
		if err := rows.Scan(&it.ID, &it.BookingID, &it.TicketTypeID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan booking item: %w", err)
		}
		b.Items = append(b.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load booking items: %w", err)
	}
	return &b, nil
}

// MarkCancelledTx moves a confirmed booking to cancelled. The status guard in
// the WHERE clause makes a second call affect no rows.
func (r *BookingRepository) MarkCancelledTx(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE bookings
		 SET status = $2, cancelled_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.BookingStatusCancelled, at, model.BookingStatusConfirmed,
	)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return model.ErrAlreadyCancelled
	}
	return nil
}

// GetDetailForOwner returns one booking of userID with its items and total.
func (r *BookingRepository) GetDetailForOwner(ctx context.Context, id int64, userID string) (*model.BookingDetail, error) {
	var d model.BookingDetail
	err := r.db.QueryRow(ctx,
		`SELECT b.id, b.event_id, e.name, b.status, b.created_at, b.cancelled_at
		 FROM bookings b
		 JOIN events e ON e.id = b.event_id
		 WHERE b.id = $1 AND b.user_id = $2`,
		id, userID,
	).Scan(&d.ID, &d.EventID, &d.EventName, &d.Status, &d.CreatedAt, &d.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	items, err := r.itemDetails(ctx, []int64{d.ID})
	if err != nil {
		return nil, err
	}
	d.Items = items[d.ID]
	d.ComputeTotal()
	return &d, nil
}

// ListDetailsForOwner returns userID's bookings, newest first, narrowed by f.
func (r *BookingRepository) ListDetailsForOwner(ctx context.Context, userID string, f model.BookingFilter) ([]model.BookingDetail, error) {
	where, args := ownerFilter(userID, f)
	rows, err := r.db.Query(ctx,
		`SELECT b.id, b.event_id, e.name, b.status, b.created_at, b.cancelled_at
		 FROM bookings b
		 JOIN events e ON e.id = b.event_id
		 WHERE `+where+`
		 ORDER BY b.created_at DESC, b.id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []model.BookingDetail
	for rows.Next() {
		var d model.BookingDetail
		if err := rows.Scan(&d.ID, &d.EventID, &d.EventName, &d.Status, &d.CreatedAt, &d.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	items, err := r.itemDetails(ctx, lo.Map(out, func(d model.BookingDetail, _ int) int64 { return d.ID }))
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		out[i].ComputeTotal()
	}
	return out, nil
}

func ownerFilter(userID string, f model.BookingFilter) (string, []any) {
	conds := []string{"b.user_id = $1"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("b.status = $%d", *f.Status)
	}
	if f.EventID != nil {
		add("b.event_id = $%d", *f.EventID)
	}
	if f.CreatedAfter != nil {
		add("b.created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("b.created_at <= $%d", *f.CreatedBefore)
	}
	return strings.Join(conds, " AND "), args
}

func (r *BookingRepository) itemDetails(ctx context.Context, bookingIDs []int64) (map[int64][]model.BookingItemDetail, error) {
	rows, err := r.db.Query(ctx,
		`SELECT bi.booking_id, bi.id, bi.ticket_type_id, tt.name, bi.quantity, tt.price::text
		 FROM booking_items bi
		 JOIN ticket_types tt ON tt.id = bi.ticket_type_id
		 WHERE bi.booking_id = ANY($1)
		 ORDER BY bi.booking_id, bi.id`,
		bookingIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("load booking items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.BookingItemDetail, len(bookingIDs))
	for rows.Next() {
		var (
			bookingID int64
			it        model.BookingItemDetail
			price     string
		)
		if err := rows.Scan(&bookingID, &it.ID, &it.TicketTypeID, &it.TicketTypeName, &it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan booking item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		out[bookingID] = append(out[bookingID], it)
	}
	return out, rows.Err()
}
