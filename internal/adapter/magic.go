package adapter

import (
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// NewMagicAdapter builds the adapter for the Magicmotorsport slave service.
// Magic takes the client id and secret as separate headers on every request.
func NewMagicAdapter(cfg SyncConfig, v *vault.Store, gateway *staging.Gateway) *SyncAdapter {
	return newSyncAdapter(syncSpec{
		vendor:     types.VendorMagic,
		decodePath: "/api/v1/flex/read",
		encodePath: "/api/v1/flex/write",
		headers: func(cred *models.DecryptedCredential) map[string]string {
			return map[string]string{
				"X-Client-Id":     cred.ClientID,
				"X-Client-Secret": cred.ClientSecret,
			}
		},
	}, cfg, v, gateway)
}
