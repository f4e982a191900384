// Package database provides PostgreSQL persistence for trade history and
// exit-order audit, plus Redis-backed runtime state with an in-memory
// fallback.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"kite-trading-bot/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB connects to PostgreSQL and verifies the connection.
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "Database").Logger()
	log.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close shuts the pool down.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id SERIAL PRIMARY KEY,
			ticker VARCHAR(32) NOT NULL,
			side VARCHAR(5) NOT NULL,
			quantity BIGINT NOT NULL,
			entry_price DECIMAL(14, 2) NOT NULL,
			exit_price DECIMAL(14, 2) NOT NULL,
			pnl DECIMAL(14, 2) NOT NULL,
			pnl_percent DECIMAL(8, 4) NOT NULL,
			exit_reason VARCHAR(32) NOT NULL,
			entered_at TIMESTAMPTZ,
			exited_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_ticker ON closed_trades(ticker)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_exited_at ON closed_trades(exited_at)`,

		`CREATE TABLE IF NOT EXISTS exit_orders (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL UNIQUE,
			ticker VARCHAR(32) NOT NULL,
			transaction_type VARCHAR(4) NOT NULL,
			quantity BIGINT NOT NULL,
			limit_price DECIMAL(14, 2) NOT NULL,
			status VARCHAR(16) NOT NULL,
			vendor_status VARCHAR(32),
			reason VARCHAR(32) NOT NULL,
			tag VARCHAR(64),
			placed_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			status_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_orders_ticker ON exit_orders(ticker)`,

		`CREATE TABLE IF NOT EXISTS stop_events (
			id SERIAL PRIMARY KEY,
			ticker VARCHAR(32) NOT NULL,
			source VARCHAR(16) NOT NULL,
			old_stop DECIMAL(14, 2) NOT NULL,
			new_stop DECIMAL(14, 2) NOT NULL,
			price DECIMAL(14, 2) NOT NULL,
			multiplier DECIMAL(6, 3),
			regime_label VARCHAR(24),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_ticker ON stop_events(ticker, created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations complete")
	return nil
}
