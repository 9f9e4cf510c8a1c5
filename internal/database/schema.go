package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of *pgxpool.Pool needed to apply the schema.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// HealthSchema creates the health_readings table. received_at is Unix
// microseconds.
var HealthSchema = []string{
	`CREATE TABLE IF NOT EXISTS health_readings (
		reading_id  UUID PRIMARY KEY,
		received_at BIGINT NOT NULL,
		metric      TEXT NOT NULL,
		level       DOUBLE PRECISION NOT NULL,
		peer_id     UUID
	)`,
	`CREATE INDEX IF NOT EXISTS health_readings_metric_time
		ON health_readings (metric, received_at DESC)`,
}

// EnsureHealthSchema applies HealthSchema. Every statement is idempotent.
func EnsureHealthSchema(ctx context.Context, db Execer) error {
	for i, stmt := range HealthSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
