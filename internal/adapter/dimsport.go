package adapter

import (
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// NewDimsportAdapter builds the adapter for the Dimsport slave service.
// Dimsport uses bearer auth with a long lived API key instead of a session
// token, so there is no refresh flow.
func NewDimsportAdapter(cfg SyncConfig, v *vault.Store, gateway *staging.Gateway) *SyncAdapter {
	return newSyncAdapter(syncSpec{
		vendor:     types.VendorDimsport,
		decodePath: "/api/v1/genius/decode",
		encodePath: "/api/v1/genius/encode",
		headers: func(cred *models.DecryptedCredential) map[string]string {
			return map[string]string{"Authorization": "Bearer " + cred.APIKey}
		},
	}, cfg, v, gateway)
}
