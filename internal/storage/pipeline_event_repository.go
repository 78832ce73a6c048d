package storage

import (
	"context"
	"fmt"

	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/types"
)

// PipelineEventRepository appends request state transitions to ClickHouse.
// The log is append-only; failures to record an event are reported to the
// caller, which logs and continues (the event log must never stall the
// pipeline).
type PipelineEventRepository struct {
	db *ClickHouseDB
}

// NewPipelineEventRepository creates a new pipeline event repository
func NewPipelineEventRepository(db *ClickHouseDB) *PipelineEventRepository {
	return &PipelineEventRepository{db: db}
}

// Record appends one event.
func (r *PipelineEventRepository) Record(ctx context.Context, event *models.PipelineEvent) error {
	query := `
		INSERT INTO pipeline_events
			(request_id, tenant_id, stage, from_status, to_status, vendor, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := r.db.Exec(ctx, query,
		event.RequestID,
		event.TenantID,
		event.Stage,
		string(event.FromStatus),
		string(event.ToStatus),
		string(event.Vendor),
		event.Error,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record pipeline event: %w", err)
	}
	return nil
}

// ListByRequest returns the event history of a request in occurrence order.
func (r *PipelineEventRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.PipelineEvent, error) {
	query := `
		SELECT request_id, tenant_id, stage, from_status, to_status, vendor, error, occurred_at
		FROM pipeline_events
		WHERE request_id = ?
		ORDER BY occurred_at
	`
	rows, err := r.db.Conn().Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline events: %w", err)
	}
	defer rows.Close()

	var events []*models.PipelineEvent
	for rows.Next() {
		var ev models.PipelineEvent
		var fromStatus, toStatus, vendor string
		if err := rows.Scan(
			&ev.RequestID,
			&ev.TenantID,
			&ev.Stage,
			&fromStatus,
			&toStatus,
			&vendor,
			&ev.Error,
			&ev.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline event: %w", err)
		}
		ev.FromStatus = types.RequestStatus(fromStatus)
		ev.ToStatus = types.RequestStatus(toStatus)
		ev.Vendor = types.Vendor(vendor)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
