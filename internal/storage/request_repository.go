package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/types"
)

// ErrInvalidTransition is returned when a status update would violate the
// request state machine.
var ErrInvalidTransition = errors.New("invalid request status transition")

// RequestRepository handles file-service request persistence
type RequestRepository struct {
	db *PostgresDB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *PostgresDB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, tenant_id, customer_id, car, controller, vendor, status,
	original_file, decoded_file, mod_without_encode, mod_final,
	requested_script_ids, automatic_script_ids, credits,
	active_job_id, last_error, created_at, updated_at
`

// Create inserts a new request in status "new"
func (r *RequestRepository) Create(ctx context.Context, req *models.FileServiceRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = types.StatusNew
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO file_service_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		req.ID,
		req.TenantID,
		req.CustomerID,
		req.Car,
		req.Controller,
		req.Vendor,
		req.Status,
		req.OriginalFile,
		req.DecodedFile,
		req.ModWithoutEncode,
		req.ModFinal,
		req.RequestedScriptIDs,
		req.AutomaticScriptIDs,
		req.Credits,
		req.ActiveJobID,
		req.LastError,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func scanRequest(row pgx.Row) (*models.FileServiceRequest, error) {
	var req models.FileServiceRequest
	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.CustomerID,
		&req.Car,
		&req.Controller,
		&req.Vendor,
		&req.Status,
		&req.OriginalFile,
		&req.DecodedFile,
		&req.ModWithoutEncode,
		&req.ModFinal,
		&req.RequestedScriptIDs,
		&req.AutomaticScriptIDs,
		&req.Credits,
		&req.ActiveJobID,
		&req.LastError,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	return &req, nil
}

// Get retrieves a request by id
func (r *RequestRepository) Get(ctx context.Context, id string) (*models.FileServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM file_service_requests WHERE id = $1`
	return scanRequest(r.db.Pool().QueryRow(ctx, query, id))
}

// Advance moves a request to the next forward status. The WHERE clause pins
// the expected current status so concurrent redeliveries cannot double-advance.
func (r *RequestRepository) Advance(ctx context.Context, id string, from, to types.RequestStatus) error {
	if !types.CanAdvance(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE file_service_requests SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: request %s not in status %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// MarkFailed puts the request in the terminal failed status with the last
// error reason attached for operator review.
func (r *RequestRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE file_service_requests SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, id, types.StatusFailed, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	return nil
}

// SetStatus forces a status outside the forward chain (close, reopen).
func (r *RequestRepository) SetStatus(ctx context.Context, id string, status types.RequestStatus) error {
	query := `
		UPDATE file_service_requests SET status = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// SetFiles updates the request's file slots as pipeline stages complete.
func (r *RequestRepository) SetFiles(ctx context.Context, req *models.FileServiceRequest) error {
	query := `
		UPDATE file_service_requests SET
			decoded_file = $2, mod_without_encode = $3, mod_final = $4,
			active_job_id = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		req.ID,
		req.DecodedFile,
		req.ModWithoutEncode,
		req.ModFinal,
		req.ActiveJobID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update request files: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// SetScriptSelection stores the scripts chosen for the build stage.
func (r *RequestRepository) SetScriptSelection(ctx context.Context, id string, requested, automatic []string) error {
	query := `
		UPDATE file_service_requests SET
			requested_script_ids = $2, automatic_script_ids = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, requested, automatic, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update script selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// ListByTenant returns a tenant's requests, newest first.
func (r *RequestRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.FileServiceRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + requestColumns + `
		FROM file_service_requests
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.FileServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
