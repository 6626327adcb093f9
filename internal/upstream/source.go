// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package upstream

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/duckdb/duckdb-go/v2" // also registers the "duckdb" driver

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/models"
)

// Query is one sampling query for a category.
type Query struct {
	Category models.Category
	SQL      string
}

// Source is the upstream store.
type Source interface {
	Query(ctx context.Context, q Query) ([]models.Fields, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLSource queries a database/sql database.
type SQLSource struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens the configured driver and bounds its pool.
func Open(cfg config.UpstreamConfig) (*SQLSource, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream %s: %w", cfg.Driver, err)
	}
	return NewSQLSource(db, cfg.MaxConns, cfg.QueryTimeout), nil
}

// NewSQLSource wraps an open database. maxConns bounds concurrent queries.
func NewSQLSource(db *sql.DB, maxConns int, timeout time.Duration) *SQLSource {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLSource{db: db, timeout: timeout}
}

// DB exposes the underlying handle for fixture seeding.
func (s *SQLSource) DB() *sql.DB {
	return s.db
}

// Query runs q and returns all rows. A query that exceeds the timeout is an error.
func (s *SQLSource) Query(ctx context.Context, q Query) ([]models.Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q.SQL)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Category, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", q.Category, err)
	}

	var out []models.Fields
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Category, err)
		}
		row := make(models.Fields, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", q.Category, err)
	}
	return out, nil
}

// normalize converts driver values to JSON-friendly Go values.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return float64(t)
	case float32:
		return float64(t)
	case duckdb.Decimal:
		return t.Float64()
	case *big.Int:
		if t == nil {
			return nil
		}
		if t.IsInt64() {
			return t.Int64()
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return f
	default:
		return v
	}
}

// Ping checks connectivity within the query timeout.
func (s *SQLSource) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}
