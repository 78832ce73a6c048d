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

// ErrNoRows is returned by repositories when a lookup matches nothing.
var ErrNoRows = pgx.ErrNoRows

// CredentialRepository handles encrypted credential persistence.
// Encryption and decryption happen in the vault; this layer only moves
// ciphertext in and out of Postgres.
type CredentialRepository struct {
	db *PostgresDB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *PostgresDB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get retrieves the credential record for (tenant, vendor).
func (r *CredentialRepository) Get(ctx context.Context, tenantID string, vendor types.Vendor) (*models.Credential, error) {
	query := `
		SELECT id, tenant_id, vendor, client_id, client_secret, api_key, access_token, created_at, updated_at
		FROM credentials
		WHERE tenant_id = $1 AND vendor = $2
	`

	var cred models.Credential
	err := r.db.Pool().QueryRow(ctx, query, tenantID, vendor).Scan(
		&cred.ID,
		&cred.TenantID,
		&cred.Vendor,
		&cred.ClientID,
		&cred.ClientSecret,
		&cred.APIKey,
		&cred.AccessToken,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// Upsert stores a credential record, replacing any existing record for the
// same (tenant, vendor).
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO credentials (id, tenant_id, vendor, client_id, client_secret, api_key, access_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (tenant_id, vendor) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			api_key = EXCLUDED.api_key,
			access_token = EXCLUDED.access_token,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		cred.ID,
		cred.TenantID,
		cred.Vendor,
		cred.ClientID,
		cred.ClientSecret,
		cred.APIKey,
		cred.AccessToken,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// UpdateAccessToken rewrites only the stored access token. This is the single
// mutation driven by the adapter's auth refresh path.
func (r *CredentialRepository) UpdateAccessToken(ctx context.Context, tenantID string, vendor types.Vendor, encryptedToken string) error {
	query := `
		UPDATE credentials
		SET access_token = $3, updated_at = $4
		WHERE tenant_id = $1 AND vendor = $2
	`

	tag, err := r.db.Pool().Exec(ctx, query, tenantID, vendor, encryptedToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}
