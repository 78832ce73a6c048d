// Package service exposes the file-service facade used by the HTTP API. It
// owns request/job creation and script capture; the heavy lifting happens in
// the pipeline workers.
package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// JobMeta carries the vendor and vehicle metadata submitted with a file.
type JobMeta struct {
	CustomerID    string
	Car           string
	Controller    string
	Mode          types.JobMode
	BootComponent types.BootComponent
	SerialNumber  string
	ECUID         string
	MCUID         string
	Credits       int
}

// State is the vendor-neutral job status surfaced to polling clients.
type State struct {
	JobID            string               `json:"jobId"`
	RequestID        string               `json:"requestId"`
	Vendor           types.Vendor         `json:"vendor"`
	RequestStatus    types.RequestStatus  `json:"requestStatus"`
	JobStatus        types.SlaveJobStatus `json:"jobStatus"`
	OriginalFile     string               `json:"originalFile"`
	DecodedFile      *string              `json:"decodedFile,omitempty"`
	ModWithoutEncode *string              `json:"modWithoutEncode,omitempty"`
	ModFinal         *string              `json:"modFinal,omitempty"`
	LastError        *string              `json:"lastError,omitempty"`
}

// FileService is the facade over requests, jobs, scripts and the queue.
type FileService struct {
	requests  *storage.RequestRepository
	jobs      *storage.SlaveJobRepository
	scripts   *storage.ScriptRepository
	gateway   *staging.Gateway
	producer  *queue.Producer
	directory Directory
	notifier  Notifier
	logger    *logging.Logger
}

// NewFileService creates the facade. Directory and notifier may be the no-op
// implementations in deployments without a tenant directory.
func NewFileService(
	requests *storage.RequestRepository,
	jobs *storage.SlaveJobRepository,
	scripts *storage.ScriptRepository,
	gateway *staging.Gateway,
	producer *queue.Producer,
	directory Directory,
	notifier Notifier,
	logger *logging.Logger,
) *FileService {
	return &FileService{
		requests:  requests,
		jobs:      jobs,
		scripts:   scripts,
		gateway:   gateway,
		producer:  producer,
		directory: directory,
		notifier:  notifier,
		logger:    logger.WithField("component", "file_service"),
	}
}

// SubmitDecode stages an uploaded original file, creates the request and its
// slave job and enqueues the decode message. The returned id identifies the
// job for later GetStatus and SubmitEncode calls.
func (s *FileService) SubmitDecode(ctx context.Context, tenantID, filePath string, vendor types.Vendor, meta JobMeta) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", apperrors.NewIOFailureError(filePath, err)
	}

	jobID := uuid.NewString()
	fileName := filepath.Base(filePath)
	stagedPath, err := s.gateway.WriteFile(tenantID, jobID, fileName, data)
	if err != nil {
		return "", err
	}

	req := &models.FileServiceRequest{
		TenantID:     tenantID,
		CustomerID:   meta.CustomerID,
		Car:          meta.Car,
		Controller:   meta.Controller,
		Vendor:       vendor,
		Status:       types.StatusNew,
		OriginalFile: fileName,
		Credits:      meta.Credits,
		ActiveJobID:  &jobID,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return "", err
	}

	job := &models.SlaveJob{
		UniqueID:      jobID,
		TenantID:      tenantID,
		RequestID:     req.ID,
		Vendor:        vendor,
		Status:        types.JobCreated,
		OriginalFile:  stagedPath,
		Mode:          meta.Mode,
		BootComponent: meta.BootComponent,
	}
	if meta.SerialNumber != "" {
		job.SerialNumber = &meta.SerialNumber
	}
	if meta.ECUID != "" {
		job.ECUID = &meta.ECUID
	}
	if meta.MCUID != "" {
		job.MCUID = &meta.MCUID
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}

	msg := queue.NewMessage(queue.KindDecode, tenantID, req.ID)
	msg.JobID = jobID
	msg.Vendor = vendor
	if err := s.producer.Enqueue(ctx, msg); err != nil {
		return "", err
	}

	s.logger.WithField("job_id", jobID).WithField("request_id", req.ID).
		WithField("vendor", string(vendor)).Info("Decode submitted")
	return jobID, nil
}

// SubmitEncode stages an externally modified file for a decoded job and
// enqueues the encode message, bypassing the script build stage.
func (s *FileService) SubmitEncode(ctx context.Context, jobID, modifiedFilePath string) error {
	job, req, err := s.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	if req.Status != types.StatusAwaitingSelection {
		return apperrors.NewInvalidParameterError("jobId",
			"job is not awaiting a modified file (status "+string(req.Status)+")")
	}

	data, err := os.ReadFile(modifiedFilePath)
	if err != nil {
		return apperrors.NewIOFailureError(modifiedFilePath, err)
	}
	modName := "mod_" + filepath.Base(modifiedFilePath)
	if _, err := s.gateway.WriteFile(req.TenantID, job.UniqueID, modName, data); err != nil {
		return err
	}

	req.ModWithoutEncode = &modName
	if err := s.requests.SetFiles(ctx, req); err != nil {
		return err
	}
	// The manual path passes through building so the state history stays
	// readable; there is no build work to do.
	if err := s.requests.Advance(ctx, req.ID, types.StatusAwaitingSelection, types.StatusBuilding); err != nil {
		return err
	}
	if err := s.requests.Advance(ctx, req.ID, types.StatusBuilding, types.StatusEncoding); err != nil {
		return err
	}

	msg := queue.NewMessage(queue.KindEncode, req.TenantID, req.ID)
	msg.JobID = job.UniqueID
	msg.Vendor = req.Vendor
	if err := s.producer.Enqueue(ctx, msg); err != nil {
		return err
	}

	s.logger.WithField("job_id", jobID).Info("Encode submitted")
	return nil
}

// SelectScripts resolves the requested labels against the scripts captured
// for the request's (car, controller), adds every automatic script, and
// enqueues the build message.
func (s *FileService) SelectScripts(ctx context.Context, jobID string, labels []string) error {
	job, req, err := s.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	if req.Status != types.StatusAwaitingSelection {
		return apperrors.NewInvalidParameterError("jobId",
			"job is not awaiting script selection (status "+string(req.Status)+")")
	}

	available, err := s.scripts.ListByController(ctx, req.TenantID, req.Car, req.Controller)
	if err != nil {
		return err
	}

	requested, err := resolveLabels(labels, available)
	if err != nil {
		return err
	}

	var automatic []string
	for _, sc := range available {
		if sc.Automatic {
			automatic = append(automatic, sc.ID)
		}
	}

	if err := s.requests.SetScriptSelection(ctx, req.ID, requested, automatic); err != nil {
		return err
	}

	msg := queue.NewMessage(queue.KindBuild, req.TenantID, req.ID)
	msg.JobID = job.UniqueID
	msg.Vendor = req.Vendor
	if err := s.producer.Enqueue(ctx, msg); err != nil {
		return err
	}

	s.logger.WithField("job_id", jobID).WithField("requested", len(requested)).
		WithField("automatic", len(automatic)).Info("Scripts selected, build enqueued")
	return nil
}

// GetStatus returns the vendor-neutral state for a job.
func (s *FileService) GetStatus(ctx context.Context, jobID string) (*State, error) {
	job, req, err := s.lookup(ctx, jobID)
	if err != nil {
		return nil, err
	}

	state := &State{
		JobID:            job.UniqueID,
		RequestID:        req.ID,
		Vendor:           req.Vendor,
		RequestStatus:    req.Status,
		JobStatus:        job.Status,
		OriginalFile:     req.OriginalFile,
		DecodedFile:      req.DecodedFile,
		ModWithoutEncode: req.ModWithoutEncode,
		ModFinal:         req.ModFinal,
		LastError:        req.LastError,
	}
	return state, nil
}

// FinalFilePath returns the staged path of the encoded file for a job whose
// request is ready or delivered.
func (s *FileService) FinalFilePath(ctx context.Context, jobID string) (string, error) {
	job, req, err := s.lookup(ctx, jobID)
	if err != nil {
		return "", err
	}
	if req.ModFinal == nil || (req.Status != types.StatusReady && req.Status != types.StatusDelivered) {
		return "", apperrors.NewInvalidParameterError("jobId",
			"job has no final file yet (status "+string(req.Status)+")")
	}
	return s.gateway.Path(req.TenantID, job.UniqueID, *req.ModFinal)
}

// MarkDelivered records that the final file was handed to the customer.
func (s *FileService) MarkDelivered(ctx context.Context, jobID string) error {
	_, req, err := s.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.requests.Advance(ctx, req.ID, types.StatusReady, types.StatusDelivered); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return apperrors.NewInvalidParameterError("jobId",
				"job has no ready file to deliver (status "+string(req.Status)+")")
		}
		return err
	}
	return nil
}

// lookup resolves a job id to the job and its owning request.
func (s *FileService) lookup(ctx context.Context, jobID string) (*models.SlaveJob, *models.FileServiceRequest, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil, nil, apperrors.NewNotFoundError("job", jobID)
		}
		return nil, nil, err
	}
	req, err := s.requests.Get(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil, nil, apperrors.NewNotFoundError("request", job.RequestID)
		}
		return nil, nil, err
	}
	return job, req, nil
}
