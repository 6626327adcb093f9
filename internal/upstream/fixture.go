// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package upstream

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/tomtom215/changewatch/internal/logging"
)

// fixtureSchema matches the default detector queries.
var fixtureSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (product_id VARCHAR PRIMARY KEY, name VARCHAR, quantity INTEGER)`,
	`CREATE TABLE IF NOT EXISTS orders (order_id VARCHAR PRIMARY KEY, status VARCHAR, total DOUBLE)`,
	`CREATE TABLE IF NOT EXISTS activity (source VARCHAR PRIMARY KEY, event_count INTEGER)`,
	`CREATE TABLE IF NOT EXISTS system_metrics (metric VARCHAR PRIMARY KEY, value DOUBLE)`,
}

var fixtureRows = []string{
	`INSERT OR IGNORE INTO inventory VALUES ('P1', 'Widget', 50), ('P2', 'Gadget', 120), ('P3', 'Gizmo', 12), ('P4', 'Doohickey', 3)`,
	`INSERT OR IGNORE INTO orders VALUES ('O1000', 'pending', 75.5), ('O1001', 'processing', 1200.0), ('O1002', 'shipped', 42.0)`,
	`INSERT OR IGNORE INTO activity VALUES ('web', 10), ('mobile', 4), ('api', 25)`,
	`INSERT OR IGNORE INTO system_metrics VALUES ('cpu', 0.35), ('memory', 0.52), ('disk', 0.71)`,
}

// SeedFixture creates the demo schema and rows. It is idempotent.
func SeedFixture(ctx context.Context, db *sql.DB) error {
	for _, stmt := range append(append([]string{}, fixtureSchema...), fixtureRows...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed fixture: %w", err)
		}
	}
	logging.Info().Msg("Seeded upstream fixture schema")
	return nil
}

// orderFlow is the next status of a live order.
var orderFlow = map[string][]string{
	"pending":    {"processing", "cancelled"},
	"processing": {"shipped", "failed"},
}

// Simulator perturbs fixture rows so local runs produce changes.
type Simulator struct {
	db       *sql.DB
	interval time.Duration
	rng      *rand.Rand
	nextID   int
}

// NewSimulator creates a simulator over a seeded fixture database.
func NewSimulator(db *sql.DB, interval time.Duration) *Simulator {
	return &Simulator{
		db:       db,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		nextID:   2000,
	}
}

// Serve implements suture.Service.
func (s *Simulator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				logging.Warn().Err(err).Msg("Fixture simulation step failed")
			}
		}
	}
}

// Step applies one round of random mutations.
func (s *Simulator) Step(ctx context.Context) error {
	products := []string{"P1", "P2", "P3", "P4"}
	pid := products[s.rng.Intn(len(products))]
	delta := s.rng.Intn(9) - 6
	if _, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET quantity = greatest(0, quantity + ?) WHERE product_id = ?`, delta, pid); err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	if err := s.advanceOrder(ctx); err != nil {
		return err
	}
	if s.rng.Intn(3) == 0 {
		s.nextID++
		total := float64(s.rng.Intn(200000)) / 100
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO orders VALUES (?, 'pending', ?)`, fmt.Sprintf("O%d", s.nextID), total); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
	}

	sources := []string{"web", "mobile", "api"}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE activity SET event_count = event_count + ? WHERE source = ?`, s.rng.Intn(150), sources[s.rng.Intn(len(sources))]); err != nil {
		return fmt.Errorf("update activity: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE system_metrics SET value = ? WHERE metric = 'cpu'`, float64(s.rng.Intn(100))/100); err != nil {
		return fmt.Errorf("update system metrics: %w", err)
	}
	return nil
}

func (s *Simulator) advanceOrder(ctx context.Context) error {
	var id, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id, status FROM orders WHERE status IN ('pending', 'processing') ORDER BY random() LIMIT 1`).Scan(&id, &status)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select order: %w", err)
	}
	next := orderFlow[status]
	if _, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_id = ?`, next[s.rng.Intn(len(next))], id); err != nil {
		return fmt.Errorf("advance order: %w", err)
	}
	return nil
}

// String implements fmt.Stringer for suture logs.
func (s *Simulator) String() string {
	return "upstream-simulator"
}
