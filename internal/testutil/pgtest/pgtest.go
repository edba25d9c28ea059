// Package pgtest provides a migrated PostgreSQL database for integration
// tests. It uses POSTGRES_URL when set and otherwise starts a container.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	once      sync.Once
	pool      *pgxpool.Pool
	container testcontainers.Container
	setupErr  error
)

// Run runs the package tests and terminates the container afterwards. Use it
// from TestMain.
func Run(m *testing.M) int {
	code := m.Run()
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		if err := container.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "> postgres teardown failed: %v\n", err)
		}
	}
	return code
}

// Pool returns a pool to an empty, migrated database. The test is skipped in
// -short mode or when no database can be started.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in -short mode")
	}

	once.Do(func() { pool, setupErr = setup() })
	if setupErr != nil {
		t.Skipf("postgres unavailable: %v", setupErr)
	}

	Reset(t, pool)
	return pool
}

// Reset truncates every table and restarts id sequences.
func Reset(t *testing.T, p *pgxpool.Pool) {
	t.Helper()
	_, err := p.Exec(context.Background(),
		`TRUNCATE booking_outbox, booking_items, bookings, ticket_types, events RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("reset database: %v", err)
	}
}

func setup() (*pgxpool.Pool, error) {
	ctx := context.Background()

	connStr := os.Getenv("POSTGRES_URL")
	if connStr == "" {
		c, err := startContainer(ctx)
		if err != nil {
			return nil, err
		}
		container = c
		if connStr, err = c.ConnectionString(ctx, "sslmode=disable", "application_name=test"); err != nil {
			return nil, fmt.Errorf("connection string: %w", err)
		}
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.MaxConns = 16

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := database.Migrate(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func startContainer(ctx context.Context) (c *postgres.PostgresContainer, err error) {
	// testcontainers panics when no Docker host can be found.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start postgres container: %v", r)
		}
	}()

	c, err = postgres.Run(ctx, "docker.io/postgres:16-alpine",
		postgres.WithDatabase("ticketing"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}
	return c, nil
}

// SeedEvent inserts an event and returns its id.
func SeedEvent(t *testing.T, p *pgxpool.Pool, name string, capacity int) int64 {
	t.Helper()
	var id int64
	err := p.QueryRow(context.Background(),
		`INSERT INTO events (name, capacity) VALUES ($1, $2) RETURNING id`,
		name, capacity,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return id
}

// SeedTicketType inserts an active ticket type with nothing sold and returns
// its id.
func SeedTicketType(t *testing.T, p *pgxpool.Pool, eventID int64, name, price string, available int) int64 {
	t.Helper()
	var id int64
	err := p.QueryRow(context.Background(),
		`INSERT INTO ticket_types (event_id, name, price, quantity_available)
		 VALUES ($1, $2, $3::numeric, $4)
		 RETURNING id`,
		eventID, name, price, available,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed ticket type: %v", err)
	}
	return id
}

// Counters returns the available and sold counters of a ticket type.
func Counters(t *testing.T, p *pgxpool.Pool, ticketTypeID int64) (available, sold int) {
	t.Helper()
	err := p.QueryRow(context.Background(),
		`SELECT quantity_available, quantity_sold FROM ticket_types WHERE id = $1`,
		ticketTypeID,
	).Scan(&available, &sold)
	if err != nil {
		t.Fatalf("read counters: %v", err)
	}
	return available, sold
}

// Count returns the number of rows in table.
func Count(t *testing.T, p *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	if err := p.QueryRow(context.Background(), `SELECT count(*) FROM `+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
