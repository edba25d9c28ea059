package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxRepository stores booking events until the relay publishes them.
type OutboxRepository struct {
	db *pgxpool.Pool
}

// NewOutboxRepository constructs an OutboxRepository.
func NewOutboxRepository(db *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// CreateTx inserts msg within the booking transaction, so the message exists
// if and only if the booking change commits.
func (r *OutboxRepository) CreateTx(ctx context.Context, tx pgx.Tx, msg *model.OutboxMessage) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO booking_outbox (
			id, aggregate_id, event_type, topic, partition_key,
			payload, status, retry_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.AggregateID, msg.EventType, msg.Topic, msg.PartitionKey,
		msg.Payload, msg.Status, msg.RetryCount, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message in transaction: %w", err)
	}
	return nil
}

// FetchPending returns up to limit pending messages, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, aggregate_id, event_type, topic, partition_key, payload,
		        status, retry_count, last_error, created_at, published_at
		 FROM booking_outbox
		 WHERE status = $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		model.OutboxStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending messages: %w", err)
	}
	defer rows.Close()

	var out []*model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		if err := rows.Scan(
			&m.ID, &m.AggregateID, &m.EventType, &m.Topic, &m.PartitionKey, &m.Payload,
			&m.Status, &m.RetryCount, &m.LastError, &m.CreatedAt, &m.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MarkPublished records a successful publish.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE booking_outbox SET status = $2, published_at = $3 WHERE id = $1`,
		id, model.OutboxStatusPublished, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message as published: %w", err)
	}
	return nil
}

// MarkRetry records a failed attempt. The message moves to failed once its
// retry count reaches maxRetries, and stays pending otherwise.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) (model.OutboxStatus, error) {
	var status model.OutboxStatus
	err := r.db.QueryRow(ctx,
		`UPDATE booking_outbox
		 SET retry_count = retry_count + 1,
		     last_error  = $2,
		     status      = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
		 WHERE id = $1
		 RETURNING status`,
		id, errMsg, maxRetries, model.OutboxStatusFailed,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to mark message for retry: %w", err)
	}
	return status, nil
}
