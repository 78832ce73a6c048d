package adapter

import (
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// NewAutoTunerAdapter builds the adapter for the AutoTuner slave service.
// AutoTuner authenticates every call with a static API key header.
func NewAutoTunerAdapter(cfg SyncConfig, v *vault.Store, gateway *staging.Gateway) *SyncAdapter {
	return newSyncAdapter(syncSpec{
		vendor:     types.VendorAutoTuner,
		decodePath: "/api/v2/files/decrypt",
		encodePath: "/api/v2/files/encrypt",
		headers: func(cred *models.DecryptedCredential) map[string]string {
			return map[string]string{"X-API-Key": cred.APIKey}
		},
	}, cfg, v, gateway)
}
