package adapter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tuning-platform/internal/circuitbreaker"
	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/poller"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// AlientechAdapter talks to the cloud-async vendor. A decode/encode round
// trip is scoped by a vendor-side file slot: upload opens an async operation,
// the operation is polled to completion, the payload is downloaded, and the
// slot is closed. Encode reopens the slot first.
type AlientechAdapter struct {
	baseURL     string
	client      *http.Client
	vault       *vault.Store
	gateway     *staging.Gateway
	pollTimeout time.Duration
	breaker     *circuitbreaker.CircuitBreaker

	// persists job phase transitions during a round trip; optional
	progress func(ctx context.Context, job *models.SlaveJob)

	// collapses concurrent 401-triggered refreshes per tenant
	refreshGroup singleflight.Group
}

// AlientechConfig configures the adapter.
type AlientechConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
	PollTimeout time.Duration
}

// NewAlientechAdapter creates the cloud-async vendor adapter.
func NewAlientechAdapter(cfg AlientechConfig, v *vault.Store, gateway *staging.Gateway) *AlientechAdapter {
	pollTimeout := cfg.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = 60 * time.Second
	}
	return &AlientechAdapter{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		client:      newHTTPClient(cfg.HTTPTimeout),
		vault:       v,
		gateway:     gateway,
		pollTimeout: pollTimeout,
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig(string(types.VendorAlientech))),
	}
}

// Vendor implements SlaveAdapter.
func (a *AlientechAdapter) Vendor() types.Vendor {
	return types.VendorAlientech
}

// OnProgress registers a callback invoked each time a job changes phase
// during a round trip, so status reads see polling/downloading/slot_closing
// rather than uploading for the whole async wait.
func (a *AlientechAdapter) OnProgress(fn func(ctx context.Context, job *models.SlaveJob)) {
	a.progress = fn
}

func (a *AlientechAdapter) setPhase(ctx context.Context, job *models.SlaveJob, phase types.SlaveJobStatus) {
	job.Status = phase
	if a.progress != nil {
		a.progress(ctx, job)
	}
}

// encodeFileTypes is the fixed lookup table selecting the upload fileType for
// an encode from the job mode. Not inferred from content.
var encodeFileTypes = map[types.JobMode]map[types.BootComponent]string{
	types.ModeOBD: {
		types.ComponentNone: "OBDModified",
	},
	types.ModeBootBench: {
		types.ComponentFlash: "BootBenchFlashModified",
		types.ComponentMicro: "BootBenchMicroModified",
	},
}

func encodeFileType(mode types.JobMode, component types.BootComponent) (string, error) {
	if t, ok := encodeFileTypes[mode][component]; ok {
		return t, nil
	}
	return "", fmt.Errorf("no encode file type for mode %q component %q", mode, component)
}

type alientechUploadResponse struct {
	OperationID         string `json:"operationId"`
	FileSlotID          string `json:"fileSlotId"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
}

type alientechOperationResponse struct {
	OperationID   string `json:"operationId"`
	Completed     bool   `json:"completed"`
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failureReason"`
}

type alientechFileResponse struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"` // base64
}

type alientechTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Decode implements SlaveAdapter for the cloud-async vendor.
func (a *AlientechAdapter) Decode(ctx context.Context, job *models.SlaveJob) (result *DecodeResult, err error) {
	if err := checkInputFile(job.OriginalFile); err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":  job.UniqueID,
		"vendor": string(types.VendorAlientech),
	})

	a.setPhase(ctx, job, types.JobUploading)
	fields := map[string]string{
		"mode": string(job.Mode),
	}
	if job.BootComponent != types.ComponentNone {
		fields["component"] = string(job.BootComponent)
	}
	if job.SerialNumber != nil {
		fields["serialNumber"] = *job.SerialNumber
	}
	if job.ECUID != nil {
		fields["ecuId"] = *job.ECUID
	}
	if job.MCUID != nil {
		fields["mcuId"] = *job.MCUID
	}

	var upload alientechUploadResponse
	err = a.authorized(ctx, job.TenantID, func(token string) (int, error) {
		return postFile(ctx, a.client, a.baseURL+"/api/v1/files/decode", bearer(token), job.OriginalFile, fields, &upload)
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"operationId": upload.OperationID,
		"fileSlotId":  upload.FileSlotID,
	}).Info("Decode upload accepted")

	// The slot exists from here on; it must be closed before returning on
	// every path.
	defer func() {
		a.setPhase(ctx, job, types.JobSlotClosing)
		a.closeSlot(ctx, job.TenantID, upload.FileSlotID)
	}()

	a.setPhase(ctx, job, types.JobPolling)
	if err := a.awaitOperation(ctx, job.TenantID, upload.OperationID, upload.PollIntervalSeconds); err != nil {
		return nil, err
	}

	a.setPhase(ctx, job, types.JobDownloading)
	var payload alientechFileResponse
	err = a.authorized(ctx, job.TenantID, func(token string) (int, error) {
		return getJSON(ctx, a.client, a.baseURL+"/api/v1/fileslots/"+upload.FileSlotID+"/decoded", bearer(token), &payload)
	})
	if err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return nil, apperrors.NewVendorRejectedError(types.VendorAlientech, "decoded payload is not valid base64")
	}

	path, err := a.gateway.WriteFile(job.TenantID, job.UniqueID, payload.FileName, decoded)
	if err != nil {
		return nil, err
	}

	return &DecodeResult{
		DecodedFilePath: path,
		DecodedFileName: payload.FileName,
		FileSlotID:      upload.FileSlotID,
	}, nil
}

// Encode implements SlaveAdapter for the cloud-async vendor. The vendor
// closes slots after decode, so the slot is reopened before upload.
func (a *AlientechAdapter) Encode(ctx context.Context, job *models.SlaveJob, modifiedFilePath string) (string, error) {
	if err := checkInputFile(modifiedFilePath); err != nil {
		return "", err
	}
	if job.FileSlotID == nil || *job.FileSlotID == "" {
		return "", fmt.Errorf("job %s has no file slot to reopen", job.UniqueID)
	}
	slotID := *job.FileSlotID

	fileType, err := encodeFileType(job.Mode, job.BootComponent)
	if err != nil {
		return "", err
	}

	// SlotReopening; unlike slot close, a reopen failure aborts the encode.
	err = a.authorized(ctx, job.TenantID, func(token string) (int, error) {
		return postJSON(ctx, a.client, a.baseURL+"/api/v1/fileslots/"+slotID+"/reopen", bearer(token), struct{}{}, nil)
	})
	if err != nil {
		return "", apperrors.NewSlotOperationFailedError("reopen", slotID, err)
	}

	defer func() {
		a.setPhase(ctx, job, types.JobSlotClosing)
		a.closeSlot(ctx, job.TenantID, slotID)
	}()

	a.setPhase(ctx, job, types.JobUploading)
	var upload alientechUploadResponse
	err = a.authorized(ctx, job.TenantID, func(token string) (int, error) {
		return postFile(ctx, a.client, a.baseURL+"/api/v1/fileslots/"+slotID+"/encode", bearer(token),
			modifiedFilePath, map[string]string{"fileType": fileType}, &upload)
	})
	if err != nil {
		return "", err
	}

	a.setPhase(ctx, job, types.JobPolling)
	if err := a.awaitOperation(ctx, job.TenantID, upload.OperationID, upload.PollIntervalSeconds); err != nil {
		return "", err
	}

	a.setPhase(ctx, job, types.JobDownloading)
	var payload alientechFileResponse
	err = a.authorized(ctx, job.TenantID, func(token string) (int, error) {
		return getJSON(ctx, a.client, a.baseURL+"/api/v1/fileslots/"+slotID+"/encoded", bearer(token), &payload)
	})
	if err != nil {
		return "", err
	}

	encoded, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return "", apperrors.NewVendorRejectedError(types.VendorAlientech, "encoded payload is not valid base64")
	}

	path, err := a.gateway.WriteFile(job.TenantID, job.UniqueID, payload.FileName, encoded)
	if err != nil {
		return "", err
	}
	return path, nil
}

// awaitOperation polls the vendor operation until completion within the
// configured time budget.
func (a *AlientechAdapter) awaitOperation(ctx context.Context, tenantID, operationID string, intervalSeconds int) error {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}

	query := func(ctx context.Context) (*poller.Operation, error) {
		var status alientechOperationResponse
		err := a.authorized(ctx, tenantID, func(token string) (int, error) {
			return getJSON(ctx, a.client, a.baseURL+"/api/v1/operations/"+operationID, bearer(token), &status)
		})
		if err != nil {
			return nil, err
		}
		return &poller.Operation{
			ID:            operationID,
			Completed:     status.Completed,
			Succeeded:     status.Succeeded,
			FailureReason: status.FailureReason,
		}, nil
	}

	op, err := poller.Resolve(ctx, operationID, query, interval, a.pollTimeout)
	if err != nil {
		return err
	}
	if !op.Succeeded {
		return apperrors.NewVendorRejectedError(types.VendorAlientech, op.FailureReason)
	}
	return nil
}

// closeSlot closes the vendor-side file slot. The close is idempotent on the
// vendor side; a failure is logged but never fails the caller, since the
// decoded data is already in hand.
func (a *AlientechAdapter) closeSlot(ctx context.Context, tenantID, slotID string) {
	if slotID == "" {
		return
	}
	err := a.authorized(ctx, tenantID, func(token string) (int, error) {
		return postJSON(ctx, a.client, a.baseURL+"/api/v1/fileslots/"+slotID+"/close", bearer(token), struct{}{}, nil)
	})
	if err != nil {
		slotErr := apperrors.NewSlotOperationFailedError("close", slotID, err)
		logging.FromContext(ctx).WithField("fileSlotId", slotID).WithError(slotErr).Warn("File slot close failed")
	}
}

// authorized runs one vendor call with the current bearer token. On a 401 it
// refreshes the token exactly once and replays the call; a second 401
// propagates as AUTHENTICATION_FAILED. 429 and vendor hard failures such as
// IP_NOT_ALLOWED never trigger a refresh.
func (a *AlientechAdapter) authorized(ctx context.Context, tenantID string, do func(token string) (int, error)) error {
	if err := a.breaker.Allow(); err != nil {
		return err
	}

	token, err := a.currentToken(ctx, tenantID)
	if err != nil {
		return err
	}

	_, err = do(token)
	a.observe(err)
	if err == nil {
		return nil
	}

	var he *httpError
	if !errors.As(err, &he) {
		return err
	}
	if he.StatusCode != http.StatusUnauthorized || strings.Contains(he.Body, "IP_NOT_ALLOWED") {
		return mapVendorError(he)
	}

	// single transparent refresh, then replay once
	fresh, rerr := a.refreshToken(ctx, tenantID)
	if rerr != nil {
		return apperrors.NewAuthenticationFailedError(types.VendorAlientech, rerr)
	}
	_, err = do(fresh)
	a.observe(err)
	if err == nil {
		return nil
	}
	var he2 *httpError
	if !errors.As(err, &he2) {
		return err
	}
	if he2.StatusCode == http.StatusUnauthorized {
		return apperrors.NewAuthenticationFailedError(types.VendorAlientech, err)
	}
	// The replayed call gets the same classification as a first attempt, so
	// a vendor rejection stays terminal whether or not a refresh preceded it.
	return mapVendorError(he2)
}

// mapVendorError classifies a non-401 vendor response.
func mapVendorError(he *httpError) error {
	switch {
	case he.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewVendorRejectedError(types.VendorAlientech, "rate limited")
	case strings.Contains(he.Body, "IP_NOT_ALLOWED"):
		return apperrors.NewVendorRejectedError(types.VendorAlientech, "IP_NOT_ALLOWED")
	default:
		return apperrors.NewVendorRejectedError(types.VendorAlientech, he.Body)
	}
}

// observe feeds one call outcome to the circuit breaker.
func (a *AlientechAdapter) observe(err error) {
	if serverFault(err) {
		a.breaker.RecordFailure()
		return
	}
	a.breaker.RecordSuccess()
}

// currentToken returns the stored access token, acquiring one if the tenant
// has never authenticated.
func (a *AlientechAdapter) currentToken(ctx context.Context, tenantID string) (string, error) {
	cred, err := a.vault.Get(ctx, tenantID, types.VendorAlientech)
	if err != nil {
		return "", err
	}
	if cred.AccessToken != "" {
		return cred.AccessToken, nil
	}
	return a.refreshToken(ctx, tenantID)
}

// refreshToken acquires a fresh bearer token and rewrites the stored one.
// Concurrent refreshes for the same tenant are collapsed into one vendor
// call.
func (a *AlientechAdapter) refreshToken(ctx context.Context, tenantID string) (string, error) {
	v, err, _ := a.refreshGroup.Do(tenantID, func() (interface{}, error) {
		cred, err := a.vault.Get(ctx, tenantID, types.VendorAlientech)
		if err != nil {
			return nil, err
		}

		var resp alientechTokenResponse
		_, err = postJSON(ctx, a.client, a.baseURL+"/api/v1/auth/token", nil, map[string]string{
			"clientId":     cred.ClientID,
			"clientSecret": cred.ClientSecret,
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("token request failed: %w", err)
		}
		if resp.AccessToken == "" {
			return nil, fmt.Errorf("token response carried no access token")
		}

		if err := a.vault.StoreAccessToken(ctx, tenantID, types.VendorAlientech, resp.AccessToken); err != nil {
			return nil, err
		}
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
