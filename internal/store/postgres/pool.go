// Package postgres provides the production Memory Store (C3) implementation
// backed by PostgreSQL + pgvector, with an optional dedicated connection for
// LISTEN/NOTIFY (nothing in this module adds a channel to listen on).
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/crt-ai/crt/internal/store/postgres/migrations"
)

// DB wraps a pgxpool.Pool for normal queries and a dedicated pgx.Conn for
// LISTEN/NOTIFY, since PgBouncer-fronted deployments pool the former but
// cannot LISTEN over a pooled connection.
type DB struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	notifyDSN  string
	notifyMu   sync.Mutex
	listenChannels []string
	logger     *slog.Logger
}

// New creates a DB with a connection pool against poolDSN and, if notifyDSN
// is non-empty, a dedicated direct connection for LISTEN/NOTIFY.
func New(ctx context.Context, poolDSN, notifyDSN string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse pool dsn: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("postgres: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: connect notify: %w", err)
		}
	}

	db := &DB{pool: pool, notifyConn: notifyConn, notifyDSN: notifyDSN, logger: logger}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close(ctx)
		return nil, err
	}
	return db, nil
}

// RunMigrations executes the embedded forward-only SQL migration set.
func (db *DB) RunMigrations(ctx context.Context) error {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := migrations.FS.ReadFile(entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}
		db.logger.Info("postgres: running migration", "file", entry.Name())
		if _, err := db.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("postgres: execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Pool returns the underlying pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Close shuts down the pool and notify connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	if db.notifyConn != nil {
		if err := db.notifyConn.Close(ctx); err != nil {
			db.logger.Warn("postgres: close notify connection", "error", err)
		}
	}
}

// Ping checks pool connectivity.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// reconnectNotify re-establishes the LISTEN/NOTIFY connection with jittered
// exponential backoff, re-subscribing to previously tracked channels.
func (db *DB) reconnectNotify(ctx context.Context) error {
	if db.notifyDSN == "" {
		return fmt.Errorf("postgres: no notify dsn configured")
	}
	if db.notifyConn != nil {
		_ = db.notifyConn.Close(ctx)
		db.notifyConn = nil
	}

	const maxRetries = 5
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := range maxRetries {
		if attempt > 0 {
			jitter := time.Duration(rand.Int64N(int64(backoff / 2))) //nolint:gosec // jitter doesn't need crypto-strength randomness
			sleep := backoff + jitter
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}
		conn, err := pgx.Connect(ctx, db.notifyDSN)
		if err != nil {
			lastErr = err
			continue
		}
		resubOK := true
		for _, ch := range db.listenChannels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				_ = conn.Close(ctx)
				lastErr = err
				resubOK = false
				break
			}
		}
		if !resubOK {
			continue
		}
		db.notifyConn = conn
		return nil
	}
	return fmt.Errorf("postgres: notify reconnect failed after %d attempts: %w", maxRetries, lastErr)
}
