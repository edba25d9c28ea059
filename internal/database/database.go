// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/config"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const retryInterval = 2 * time.Second

// Options controls pool construction beyond the connection settings.
type Options struct {
	EnableTracing bool
	// IncludeQueryParameters records bind values on query spans. They can
	// carry user ids, so it stays off unless asked for.
	IncludeQueryParameters bool
}

func tracerOptions(opts Options) []otelpgx.Option {
	var out []otelpgx.Option
	if opts.IncludeQueryParameters {
		out = append(out, otelpgx.WithIncludeQueryParameters())
	}
	return out
}

// NewPool creates and validates a pgxpool connection pool.
// It retries cfg.ConnectRetries times to accommodate containers starting up.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, opts Options, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	if opts.EnableTracing {
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(tracerOptions(opts)...)
	}

	attempts := max(cfg.ConnectRetries, 1)
	var pool *pgxpool.Pool
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		log.Warn("db connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempts, err)
}
