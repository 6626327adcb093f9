// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/changewatch/internal/models"
)

const schema = `
	CREATE SEQUENCE IF NOT EXISTS health_sample_id_seq START 1;

	CREATE TABLE IF NOT EXISTS change_records (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		sequence UBIGINT NOT NULL,
		old_value TEXT,
		new_value TEXT NOT NULL,
		change_type TEXT NOT NULL,
		detected_at TIMESTAMP NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT false
	);
	CREATE INDEX IF NOT EXISTS idx_change_records_category ON change_records(category, detected_at);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT,
		entity_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT,
		triggered_at TIMESTAMP NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT false,
		acknowledged_by TEXT,
		acknowledged_at TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);

	CREATE TABLE IF NOT EXISTS health_samples (
		id BIGINT PRIMARY KEY DEFAULT nextval('health_sample_id_seq'),
		status TEXT NOT NULL,
		metrics TEXT NOT NULL,
		latency_ns BIGINT NOT NULL,
		check_error TEXT,
		sampled_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_health_samples_sampled_at ON health_samples(sampled_at);
`

// DuckDBStore implements Store using DuckDB for persistent storage.
type DuckDBStore struct {
	db *sql.DB
}

// OpenDuckDB opens a DuckDB database at path ("" for in-memory) and creates the schema.
func OpenDuckDB(ctx context.Context, path string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log database: %w", err)
	}
	s := NewDuckDBStore(db)
	if err := s.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewDuckDBStore wraps an open database. Call CreateTables before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTables creates the event log schema if it doesn't exist.
func (s *DuckDBStore) CreateTables(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func marshalFields(f models.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalFields(ns sql.NullString) (models.Fields, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var f models.Fields
	if err := json.Unmarshal([]byte(ns.String), &f); err != nil {
		return nil, err
	}
	return f, nil
}

// AppendChange implements Store.
func (s *DuckDBStore) AppendChange(ctx context.Context, rec *models.ChangeRecord) error {
	oldValue, err := marshalFields(rec.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newValue, err := marshalFields(rec.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO change_records
		(id, category, entity_id, sequence, old_value, new_value, change_type, detected_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Category), rec.EntityID, rec.Sequence, oldValue, newValue.String,
		string(rec.ChangeType), rec.DetectedAt.UTC(), rec.Processed)
	if err != nil {
		return fmt.Errorf("failed to insert change record: %w", err)
	}
	return nil
}

// RecentChanges implements Store.
func (s *DuckDBStore) RecentChanges(ctx context.Context, category models.Category, limit int) ([]*models.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, entity_id, sequence, old_value, new_value, change_type, detected_at, processed
		FROM (
			SELECT * FROM change_records WHERE category = ?
			ORDER BY detected_at DESC, sequence DESC LIMIT ?
		) ORDER BY detected_at ASC, sequence ASC`, string(category), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query change records: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ChangeRecord, 0)
	for rows.Next() {
		var (
			r                  models.ChangeRecord
			cat, ct            string
			oldValue, newValue sql.NullString
		)
		if err := rows.Scan(&r.ID, &cat, &r.EntityID, &r.Sequence, &oldValue, &newValue, &ct, &r.DetectedAt, &r.Processed); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		r.Category = models.Category(cat)
		r.ChangeType = models.ChangeType(ct)
		if r.OldValue, err = unmarshalFields(oldValue); err != nil {
			return nil, fmt.Errorf("decode old value of %s: %w", r.ID, err)
		}
		if r.NewValue, err = unmarshalFields(newValue); err != nil {
			return nil, fmt.Errorf("decode new value of %s: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change records: %w", err)
	}
	return out, nil
}

// MarkProcessed implements Store.
func (s *DuckDBStore) MarkProcessed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE change_records SET processed = true WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark change record processed: %w", err)
	}
	return nil
}

// AppendAlert implements Store.
func (s *DuckDBStore) AppendAlert(ctx context.Context, a *models.Alert) error {
	var data sql.NullString
	if a.Data != nil {
		b, err := json.Marshal(a.Data)
		if err != nil {
			return fmt.Errorf("marshal alert data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	var ackAt sql.NullTime
	if a.AcknowledgedAt != nil {
		ackAt = sql.NullTime{Time: a.AcknowledgedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO alerts
		(id, type, severity, category, entity_id, title, message, data, triggered_at, acknowledged, acknowledged_by, acknowledged_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), string(a.Severity), string(a.Category), a.EntityID, a.Title, a.Message, data,
		a.TriggeredAt.UTC(), a.Acknowledged, a.AcknowledgedBy, ackAt, a.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

const alertColumns = `id, type, severity, category, entity_id, title, message, data,
	triggered_at, acknowledged, acknowledged_by, acknowledged_at, expires_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(sc rowScanner) (*models.Alert, error) {
	var (
		a                     models.Alert
		typ, sev              string
		category, ackBy, data sql.NullString
		ackAt                 sql.NullTime
	)
	if err := sc.Scan(&a.ID, &typ, &sev, &category, &a.EntityID, &a.Title, &a.Message, &data,
		&a.TriggeredAt, &a.Acknowledged, &ackBy, &ackAt, &a.ExpiresAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.Severity(sev)
	a.Category = models.Category(category.String)
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &a.Data); err != nil {
			return nil, fmt.Errorf("decode alert data: %w", err)
		}
	}
	return &a, nil
}

// GetAlert implements Store.
func (s *DuckDBStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ActiveAlerts implements Store.
func (s *DuckDBStore) ActiveAlerts(ctx context.Context, severity models.Severity, now time.Time) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE NOT acknowledged AND expires_at > ?`
	args := []interface{}{now.UTC()}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(severity))
	}
	query += ` ORDER BY triggered_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return out, nil
}

// AcknowledgeAlert implements Store.
func (s *DuckDBStore) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (*models.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	if a.Acknowledged {
		return nil, models.ErrAlertAlreadyAcknowledged
	}

	at = at.UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_by = ?, acknowledged_at = ? WHERE id = ?`,
		by, at, id); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acknowledgement: %w", err)
	}

	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	return a, nil
}

// AppendHealthSample implements Store.
func (s *DuckDBStore) AppendHealthSample(ctx context.Context, hs *models.HealthSample) error {
	metricsJSON, err := json.Marshal(hs.Metrics)
	if err != nil {
		return fmt.Errorf("marshal health metrics: %w", err)
	}
	var checkErr sql.NullString
	if hs.CheckError != "" {
		checkErr = sql.NullString{String: hs.CheckError, Valid: true}
	}

	// RETURNING: DuckDB doesn't support LastInsertId with sequences
	err = s.db.QueryRowContext(ctx, `INSERT INTO health_samples (status, metrics, latency_ns, check_error, sampled_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		string(hs.Metrics.Status), string(metricsJSON), hs.Latency.Nanoseconds(), checkErr, hs.SampledAt.UTC(),
	).Scan(&hs.ID)
	if err != nil {
		return fmt.Errorf("failed to insert health sample: %w", err)
	}
	return nil
}

// RecentHealthSamples implements Store.
func (s *DuckDBStore) RecentHealthSamples(ctx context.Context, limit int) ([]*models.HealthSample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, metrics, latency_ns, check_error, sampled_at
		FROM health_samples ORDER BY sampled_at DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query health samples: %w", err)
	}
	defer rows.Close()

	out := make([]*models.HealthSample, 0)
	for rows.Next() {
		var (
			hs          models.HealthSample
			metricsJSON string
			latency     int64
			checkErr    sql.NullString
		)
		if err := rows.Scan(&hs.ID, &metricsJSON, &latency, &checkErr, &hs.SampledAt); err != nil {
			return nil, fmt.Errorf("failed to scan health sample: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &hs.Metrics); err != nil {
			return nil, fmt.Errorf("decode health sample %d: %w", hs.ID, err)
		}
		hs.Latency = time.Duration(latency)
		hs.CheckError = checkErr.String
		out = append(out, &hs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health samples: %w", err)
	}
	return out, nil
}

// Purge implements Store.
func (s *DuckDBStore) Purge(ctx context.Context, policy PurgePolicy) (PurgeResult, error) {
	var res PurgeResult

	n, err := s.deleteWhere(ctx, `DELETE FROM change_records WHERE detected_at < ?`, policy.changeCutoff().UTC())
	if err != nil {
		return res, fmt.Errorf("purge change records: %w", err)
	}
	res.Changes = n

	alertCutoff := policy.alertCutoff().UTC()
	n, err = s.deleteWhere(ctx, `DELETE FROM alerts
		WHERE (acknowledged AND triggered_at < ?) OR (NOT acknowledged AND expires_at < ?)`, alertCutoff, alertCutoff)
	if err != nil {
		return res, fmt.Errorf("purge alerts: %w", err)
	}
	res.Alerts = n

	n, err = s.deleteWhere(ctx, `DELETE FROM health_samples WHERE sampled_at < ?`, policy.sampleCutoff().UTC())
	if err != nil {
		return res, fmt.Errorf("purge health samples: %w", err)
	}
	res.HealthSamples = n

	return res, nil
}

func (s *DuckDBStore) deleteWhere(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
