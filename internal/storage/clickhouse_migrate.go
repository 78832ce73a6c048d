package storage

import (
	"context"
	"fmt"
)

// EnsurePipelineEventsTable creates the pipeline event log table if it does
// not exist. ClickHouse DDL is idempotent here, so this runs at worker start.
func EnsurePipelineEventsTable(ctx context.Context, db *ClickHouseDB) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS pipeline_events (
			request_id  String,
			tenant_id   String,
			stage       String,
			from_status String,
			to_status   String,
			vendor      String,
			error       String,
			occurred_at DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (tenant_id, request_id, occurred_at)
	`
	if err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create pipeline_events table: %w", err)
	}
	return nil
}
