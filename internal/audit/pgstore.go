package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL audit store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the audit table and its indexes when missing.
func (s *PgStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mutation_audit (
			id          TEXT PRIMARY KEY,
			screen      TEXT NOT NULL,
			resource    TEXT NOT NULL,
			kind        TEXT NOT NULL,
			target      TEXT NOT NULL DEFAULT '',
			subject_id  TEXT NOT NULL,
			success     BOOLEAN NOT NULL,
			code        TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS mutation_audit_subject_idx ON mutation_audit (subject_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS mutation_audit_created_idx ON mutation_audit (created_at)`)
	if err != nil {
		return fmt.Errorf("migrate mutation_audit: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PgStore) Append(ctx context.Context, e Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mutation_audit (
			id, screen, resource, kind, target, subject_id,
			success, code, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Screen, e.Resource, e.Kind, e.Target, e.SubjectID,
		e.Success, e.Code, e.DurationMS, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PgStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT id, screen, resource, kind, target, subject_id,
	                 success, code, duration_ms, created_at
	          FROM mutation_audit
	          WHERE 1 = 1`
	var args []any
	argIdx := 1

	for _, cond := range []struct{ column, value string }{
		{"subject_id", filter.SubjectID},
		{"screen", filter.Screen},
		{"target", filter.Target},
	} {
		if cond.value == "" {
			continue
		}
		query += fmt.Sprintf(" AND %s = $%d", cond.column, argIdx)
		args = append(args, cond.value)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.Screen, &e.Resource, &e.Kind, &e.Target, &e.SubjectID,
			&e.Success, &e.Code, &e.DurationMS, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Purge implements Store.
func (s *PgStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM mutation_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
