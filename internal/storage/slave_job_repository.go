package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/types"
)

// SlaveJobRepository handles slave job persistence
type SlaveJobRepository struct {
	db *PostgresDB
}

// NewSlaveJobRepository creates a new slave job repository
func NewSlaveJobRepository(db *PostgresDB) *SlaveJobRepository {
	return &SlaveJobRepository{db: db}
}

const slaveJobColumns = `
	unique_id, tenant_id, request_id, vendor, status,
	original_file, decoded_file, encoded_file,
	mode, boot_component, file_slot_id, serial_number, ecu_id, mcu_id,
	last_error, created_at, updated_at
`

// Create inserts a new slave job record
func (r *SlaveJobRepository) Create(ctx context.Context, job *models.SlaveJob) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO slave_jobs (` + slaveJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.UniqueID,
		job.TenantID,
		job.RequestID,
		job.Vendor,
		job.Status,
		job.OriginalFile,
		job.DecodedFile,
		job.EncodedFile,
		job.Mode,
		job.BootComponent,
		job.FileSlotID,
		job.SerialNumber,
		job.ECUID,
		job.MCUID,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slave job: %w", err)
	}
	return nil
}

// Get retrieves a slave job by unique id
func (r *SlaveJobRepository) Get(ctx context.Context, uniqueID string) (*models.SlaveJob, error) {
	query := `SELECT ` + slaveJobColumns + ` FROM slave_jobs WHERE unique_id = $1`

	var job models.SlaveJob
	err := r.db.Pool().QueryRow(ctx, query, uniqueID).Scan(
		&job.UniqueID,
		&job.TenantID,
		&job.RequestID,
		&job.Vendor,
		&job.Status,
		&job.OriginalFile,
		&job.DecodedFile,
		&job.EncodedFile,
		&job.Mode,
		&job.BootComponent,
		&job.FileSlotID,
		&job.SerialNumber,
		&job.ECUID,
		&job.MCUID,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to get slave job: %w", err)
	}
	return &job, nil
}

// Update persists the mutable fields of a slave job
func (r *SlaveJobRepository) Update(ctx context.Context, job *models.SlaveJob) error {
	job.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE slave_jobs SET
			status = $2, decoded_file = $3, encoded_file = $4,
			file_slot_id = $5, serial_number = $6, ecu_id = $7, mcu_id = $8,
			last_error = $9, updated_at = $10
		WHERE unique_id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		job.UniqueID,
		job.Status,
		job.DecodedFile,
		job.EncodedFile,
		job.FileSlotID,
		job.SerialNumber,
		job.ECUID,
		job.MCUID,
		job.LastError,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update slave job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// MarkFailed records an unrecoverable job error, keeping partial data.
func (r *SlaveJobRepository) MarkFailed(ctx context.Context, uniqueID string, reason string) error {
	query := `
		UPDATE slave_jobs SET status = $2, last_error = $3, updated_at = $4
		WHERE unique_id = $1
	`
	_, err := r.db.Pool().Exec(ctx, query, uniqueID, types.JobFailed, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark slave job failed: %w", err)
	}
	return nil
}

// ListByRequest returns all jobs for a file-service request, newest first.
func (r *SlaveJobRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.SlaveJob, error) {
	query := `SELECT ` + slaveJobColumns + ` FROM slave_jobs WHERE request_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slave jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SlaveJob
	for rows.Next() {
		var job models.SlaveJob
		if err := rows.Scan(
			&job.UniqueID,
			&job.TenantID,
			&job.RequestID,
			&job.Vendor,
			&job.Status,
			&job.OriginalFile,
			&job.DecodedFile,
			&job.EncodedFile,
			&job.Mode,
			&job.BootComponent,
			&job.FileSlotID,
			&job.SerialNumber,
			&job.ECUID,
			&job.MCUID,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan slave job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
