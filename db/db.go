package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// Pool - лимиты пула соединений. Значения приходят из config.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect открывает пул соединений Postgres и проверяет его пингом с
// таймаутом. Store arbitration (SKIP LOCKED, conditional updates) relies on
// this single *sql.DB being shared by every repository.
func Connect(dsn string, pool Pool, pingTimeout time.Duration, logger *slog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}

	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err = conn.PingContext(ctx); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Error("failed to close database handle after ping error",
				slog.Any("error", closeErr))
		}
		return nil, fmt.Errorf("failed to ping database within %v: %w", pingTimeout, err)
	}

	return conn, nil
}
