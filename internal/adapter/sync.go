package adapter

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tuning-platform/internal/circuitbreaker"
	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// syncSpec captures the per-vendor quirks of the synchronous REST vendors:
// endpoint paths and how credentials become request headers.
type syncSpec struct {
	vendor     types.Vendor
	decodePath string
	encodePath string
	headers    func(cred *models.DecryptedCredential) map[string]string
}

// SyncAdapter implements the decode/encode contract for the synchronous
// vendors. A call is a single request/response; the response carries a
// SHA-256 content hash which is recomputed locally before the output file is
// written.
type SyncAdapter struct {
	spec    syncSpec
	baseURL string
	client  *http.Client
	vault   *vault.Store
	gateway *staging.Gateway
	breaker *circuitbreaker.CircuitBreaker
}

// SyncConfig configures a synchronous vendor adapter.
type SyncConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

func newSyncAdapter(spec syncSpec, cfg SyncConfig, v *vault.Store, gateway *staging.Gateway) *SyncAdapter {
	return &SyncAdapter{
		spec:    spec,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  newHTTPClient(cfg.HTTPTimeout),
		vault:   v,
		gateway: gateway,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig(string(spec.vendor))),
	}
}

// Vendor implements SlaveAdapter.
func (a *SyncAdapter) Vendor() types.Vendor {
	return a.spec.vendor
}

type syncFileResponse struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"` // base64
	SHA256   string `json:"sha256"`
}

// Decode implements SlaveAdapter.
func (a *SyncAdapter) Decode(ctx context.Context, job *models.SlaveJob) (*DecodeResult, error) {
	path, name, err := a.roundTrip(ctx, job, a.spec.decodePath, job.OriginalFile, map[string]string{
		"mode": string(job.Mode),
	})
	if err != nil {
		return nil, err
	}
	return &DecodeResult{DecodedFilePath: path, DecodedFileName: name}, nil
}

// Encode implements SlaveAdapter.
func (a *SyncAdapter) Encode(ctx context.Context, job *models.SlaveJob, modifiedFilePath string) (string, error) {
	path, _, err := a.roundTrip(ctx, job, a.spec.encodePath, modifiedFilePath, map[string]string{
		"mode": string(job.Mode),
	})
	return path, err
}

// roundTrip performs one synchronous decode/encode call and stages the
// verified result. On hash mismatch nothing is written.
func (a *SyncAdapter) roundTrip(ctx context.Context, job *models.SlaveJob, endpoint, inputPath string, fields map[string]string) (string, string, error) {
	if err := checkInputFile(inputPath); err != nil {
		return "", "", err
	}

	cred, err := a.vault.Get(ctx, job.TenantID, a.spec.vendor)
	if err != nil {
		return "", "", err
	}

	if err := a.breaker.Allow(); err != nil {
		return "", "", err
	}
	var resp syncFileResponse
	_, err = postFile(ctx, a.client, a.baseURL+endpoint, a.spec.headers(cred), inputPath, fields, &resp)
	if serverFault(err) {
		a.breaker.RecordFailure()
	} else {
		a.breaker.RecordSuccess()
	}
	if err != nil {
		return "", "", a.mapError(err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return "", "", apperrors.NewVendorRejectedError(a.spec.vendor, "payload is not valid base64")
	}

	// Verify the declared content hash before writing anything.
	actual := sha256Hex(data)
	if !strings.EqualFold(actual, resp.SHA256) {
		return "", "", apperrors.NewIntegrityCheckFailedError(a.spec.vendor, strings.ToLower(resp.SHA256), actual)
	}

	path, err := a.gateway.WriteFile(job.TenantID, job.UniqueID, resp.FileName, data)
	if err != nil {
		return "", "", err
	}
	return path, resp.FileName, nil
}

// mapError turns vendor HTTP failures into the shared taxonomy. Synchronous
// vendors authenticate with static keys, so a 401 is terminal; there is no
// token to refresh.
func (a *SyncAdapter) mapError(err error) error {
	var he *httpError
	if !errors.As(err, &he) {
		return err
	}
	if he.StatusCode == http.StatusUnauthorized {
		return apperrors.NewAuthenticationFailedError(a.spec.vendor, err)
	}
	return apperrors.NewVendorRejectedError(a.spec.vendor, he.Body)
}
