package vault

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// CredentialRepository is the persistence surface the vault needs.
type CredentialRepository interface {
	Get(ctx context.Context, tenantID string, vendor types.Vendor) (*models.Credential, error)
	Upsert(ctx context.Context, cred *models.Credential) error
	UpdateAccessToken(ctx context.Context, tenantID string, vendor types.Vendor, encryptedToken string) error
}

// Fields holds the plaintext secrets accepted by Put. Empty fields are
// stored as NULL.
type Fields struct {
	ClientID     string
	ClientSecret string
	APIKey       string
	AccessToken  string
}

// Store is the credential vault: field-level encryption over the credential
// repository.
type Store struct {
	repo   CredentialRepository
	cipher *FieldCipher
}

// NewStore creates a vault store.
func NewStore(repo CredentialRepository, cipher *FieldCipher) *Store {
	return &Store{repo: repo, cipher: cipher}
}

// Get returns the decrypted credential for (tenant, vendor). A missing record
// means the vendor is not configured for this tenant and is reported as
// CREDENTIAL_NOT_FOUND.
func (s *Store) Get(ctx context.Context, tenantID string, vendor types.Vendor) (*models.DecryptedCredential, error) {
	rec, err := s.repo.Get(ctx, tenantID, vendor)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil, apperrors.NewCredentialNotFoundError(tenantID, vendor)
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	dec := &models.DecryptedCredential{
		TenantID: rec.TenantID,
		Vendor:   rec.Vendor,
	}
	if dec.ClientID, err = s.decryptField(rec.ClientID); err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	if dec.ClientSecret, err = s.decryptField(rec.ClientSecret); err != nil {
		return nil, fmt.Errorf("client secret: %w", err)
	}
	if dec.APIKey, err = s.decryptField(rec.APIKey); err != nil {
		return nil, fmt.Errorf("api key: %w", err)
	}
	if dec.AccessToken, err = s.decryptField(rec.AccessToken); err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	return dec, nil
}

// Put encrypts and stores a tenant's vendor secrets, replacing any existing
// record for the same (tenant, vendor).
func (s *Store) Put(ctx context.Context, tenantID string, vendor types.Vendor, fields Fields) error {
	cred := &models.Credential{
		TenantID: tenantID,
		Vendor:   vendor,
	}

	var err error
	if cred.ClientID, err = s.encryptField(fields.ClientID); err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	if cred.ClientSecret, err = s.encryptField(fields.ClientSecret); err != nil {
		return fmt.Errorf("client secret: %w", err)
	}
	if cred.APIKey, err = s.encryptField(fields.APIKey); err != nil {
		return fmt.Errorf("api key: %w", err)
	}
	if cred.AccessToken, err = s.encryptField(fields.AccessToken); err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	return s.repo.Upsert(ctx, cred)
}

// StoreAccessToken rewrites the stored access token after a successful vendor
// authentication. This is the only mutation driven by a read path.
func (s *Store) StoreAccessToken(ctx context.Context, tenantID string, vendor types.Vendor, token string) error {
	encrypted, err := s.cipher.Encrypt(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if err := s.repo.UpdateAccessToken(ctx, tenantID, vendor, encrypted); err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return apperrors.NewCredentialNotFoundError(tenantID, vendor)
		}
		return fmt.Errorf("failed to store access token: %w", err)
	}
	return nil
}

func (s *Store) encryptField(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	enc, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

func (s *Store) decryptField(encrypted *string) (string, error) {
	if encrypted == nil || *encrypted == "" {
		return "", nil
	}
	return s.cipher.Decrypt(*encrypted)
}
