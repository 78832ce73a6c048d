package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tuning-platform/internal/models"
)

// ScriptRepository handles script (captured diff) persistence. Scripts are
// immutable; a new version is a new row.
type ScriptRepository struct {
	db *PostgresDB
}

// NewScriptRepository creates a new script repository
func NewScriptRepository(db *PostgresDB) *ScriptRepository {
	return &ScriptRepository{db: db}
}

const scriptColumns = `
	id, tenant_id, car, controller, label, admin,
	source_file_name, original_length, diff, automatic, version, created_at
`

// Create inserts a new script version. The version is one past the highest
// existing version for the same (tenant, car, controller, label).
func (r *ScriptRepository) Create(ctx context.Context, script *models.Script) error {
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	script.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO scripts (` + scriptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			COALESCE((SELECT MAX(version) FROM scripts
				WHERE tenant_id = $2 AND car = $3 AND controller = $4 AND label = $5), 0) + 1,
			$11)
		RETURNING version
	`

	err := r.db.Pool().QueryRow(ctx, query,
		script.ID,
		script.TenantID,
		script.Car,
		script.Controller,
		script.Label,
		script.Admin,
		script.SourceFileName,
		script.OriginalLength,
		script.Diff,
		script.Automatic,
		script.CreatedAt,
	).Scan(&script.Version)
	if err != nil {
		return fmt.Errorf("failed to create script: %w", err)
	}
	return nil
}

// Get retrieves a script by id
func (r *ScriptRepository) Get(ctx context.Context, id string) (*models.Script, error) {
	query := `SELECT ` + scriptColumns + ` FROM scripts WHERE id = $1`
	return r.scanScript(r.db.Pool().QueryRow(ctx, query, id))
}

// ListByController returns the latest versions of all scripts captured for a
// (tenant, car, controller) combination.
func (r *ScriptRepository) ListByController(ctx context.Context, tenantID, car, controller string) ([]*models.Script, error) {
	query := `
		SELECT DISTINCT ON (label) ` + scriptColumns + `
		FROM scripts
		WHERE tenant_id = $1 AND car = $2 AND controller = $3
		ORDER BY label, version DESC
	`
	rows, err := r.db.Pool().Query(ctx, query, tenantID, car, controller)
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*models.Script
	for rows.Next() {
		script, err := r.scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

func (r *ScriptRepository) scanScript(row pgx.Row) (*models.Script, error) {
	var script models.Script
	err := row.Scan(
		&script.ID,
		&script.TenantID,
		&script.Car,
		&script.Controller,
		&script.Label,
		&script.Admin,
		&script.SourceFileName,
		&script.OriginalLength,
		&script.Diff,
		&script.Automatic,
		&script.Version,
		&script.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan script: %w", err)
	}
	return &script, nil
}
