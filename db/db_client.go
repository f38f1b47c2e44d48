// Package db owns the PostgreSQL connection pool lifecycle and schema migrations.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pinger is the subset of a pool used for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseClient wraps a pgxpool.Pool and knows how to (re)connect it.
type DatabaseClient struct {
	pool       *pgxpool.Pool
	config     *pgxpool.Config
	maxRetries int
	retryDelay time.Duration
	mu         sync.RWMutex
}

// NewDatabaseClient wraps an existing pool. It cannot reconnect.
func NewDatabaseClient(pool *pgxpool.Pool) *DatabaseClient {
	return &DatabaseClient{pool: pool, maxRetries: 5, retryDelay: time.Second}
}

// NewDatabaseClientWithConfig prepares a client that connects lazily from config.
func NewDatabaseClientWithConfig(pool *pgxpool.Pool, config *pgxpool.Config) *DatabaseClient {
	return &DatabaseClient{pool: pool, config: config, maxRetries: 5, retryDelay: time.Second}
}

// GetPool returns the current pool, nil before Connect succeeds.
func (dc *DatabaseClient) GetPool() *pgxpool.Pool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.pool
}

// Connect opens the pool and pings it, retrying with linear backoff.
func (dc *DatabaseClient) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.pool != nil {
		return dc.pool, nil
	}
	if dc.config == nil {
		return nil, fmt.Errorf("cannot connect: database configuration not available")
	}

	log := logger.GetLogger()
	var lastErr error
	for attempt := 1; attempt <= dc.maxRetries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, dc.config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				dc.pool = pool
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		log.Warnw("Database connection attempt failed", "attempt", attempt, "max_attempts", dc.maxRetries, "error", err)

		if attempt < dc.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dc.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", dc.maxRetries, lastErr)
}

// Close closes the pool if one is open.
func (dc *DatabaseClient) Close() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.pool != nil {
		dc.pool.Close()
		dc.pool = nil
	}
}

// CheckHealth pings p with a short timeout.
func CheckHealth(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
