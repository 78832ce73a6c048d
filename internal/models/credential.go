package models

import (
	"time"

	"github.com/tuning-platform/internal/types"
)

// Credential represents a tenant's encrypted vendor API secrets as stored.
// All secret fields hold base64(iv || ciphertext); decryption happens in the
// vault, never here. At most one record exists per (tenant, vendor).
type Credential struct {
	ID           string       `json:"id" db:"id"`
	TenantID     string       `json:"tenantId" db:"tenant_id"`
	Vendor       types.Vendor `json:"vendor" db:"vendor"`
	ClientID     *string      `json:"clientId,omitempty" db:"client_id"`
	ClientSecret *string      `json:"clientSecret,omitempty" db:"client_secret"`
	APIKey       *string      `json:"apiKey,omitempty" db:"api_key"`
	AccessToken  *string      `json:"accessToken,omitempty" db:"access_token"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

// DecryptedCredential carries the plaintext secrets handed to vendor adapters.
// It is never persisted.
type DecryptedCredential struct {
	TenantID     string
	Vendor       types.Vendor
	ClientID     string
	ClientSecret string
	APIKey       string
	AccessToken  string
}
