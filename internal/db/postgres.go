package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSettings sizes the pgx pool. Zero values fall back to defaults
// that suit the coordinator's traffic: claim bursts are short and the
// conditional updates hold no locks worth queueing many connections
// behind.
type PoolSettings struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

func ConnectPostgres(ctx context.Context, s PoolSettings) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(s.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if s.MaxConns <= 0 {
		s.MaxConns = 10
	}
	if s.MinConns <= 0 {
		s.MinConns = 1
	}
	cfg.MaxConns = s.MaxConns
	cfg.MinConns = s.MinConns
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
