// Package pipeline drives a file-service request through its decode, build
// and encode stages. Each stage is a queue message handler; handlers reload
// request state on every delivery and skip work that already happened, so
// redelivered messages are harmless.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tuning-platform/internal/adapter"
	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// RequestStore is the slice of the request repository the handlers use.
type RequestStore interface {
	Get(ctx context.Context, id string) (*models.FileServiceRequest, error)
	Advance(ctx context.Context, id string, from, to types.RequestStatus) error
	MarkFailed(ctx context.Context, id string, reason string) error
	SetFiles(ctx context.Context, req *models.FileServiceRequest) error
}

// JobStore is the slice of the slave job repository the handlers use.
type JobStore interface {
	Get(ctx context.Context, uniqueID string) (*models.SlaveJob, error)
	Update(ctx context.Context, job *models.SlaveJob) error
	MarkFailed(ctx context.Context, uniqueID string, reason string) error
}

// ScriptStore resolves stored scripts for the build stage.
type ScriptStore interface {
	Get(ctx context.Context, id string) (*models.Script, error)
}

// EventStore appends pipeline audit records.
type EventStore interface {
	Record(ctx context.Context, event *models.PipelineEvent) error
}

// Enqueuer pushes follow-up stage messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *queue.Message) error
}

// Pipeline holds the dependencies shared by the stage handlers.
type Pipeline struct {
	requests RequestStore
	jobs     JobStore
	scripts  ScriptStore
	events   EventStore
	adapters *adapter.Registry
	gateway  *staging.Gateway
	producer Enqueuer
	logger   *logging.Logger
}

// New creates a pipeline. The event store may be nil when no ClickHouse
// connection is configured; audit recording is then skipped.
func New(
	requests RequestStore,
	jobs JobStore,
	scripts ScriptStore,
	events EventStore,
	adapters *adapter.Registry,
	gateway *staging.Gateway,
	producer Enqueuer,
	logger *logging.Logger,
) *Pipeline {
	return &Pipeline{
		requests: requests,
		jobs:     jobs,
		scripts:  scripts,
		events:   events,
		adapters: adapters,
		gateway:  gateway,
		producer: producer,
		logger:   logger.WithField("component", "pipeline"),
	}
}

// DecodeHandler returns the handler for decode queue messages.
func (p *Pipeline) DecodeHandler() queue.Handler {
	return queue.HandlerFunc(p.handleDecode)
}

// BuildHandler returns the handler for build queue messages.
func (p *Pipeline) BuildHandler() queue.Handler {
	return queue.HandlerFunc(p.handleBuild)
}

// EncodeHandler returns the handler for encode queue messages.
func (p *Pipeline) EncodeHandler() queue.Handler {
	return queue.HandlerFunc(p.handleEncode)
}

// recordEvent appends one audit record. The audit log is best effort; a
// recording failure never fails the stage.
func (p *Pipeline) recordEvent(ctx context.Context, req *models.FileServiceRequest, stage string, from, to types.RequestStatus, stageErr error) {
	if p.events == nil {
		return
	}
	event := &models.PipelineEvent{
		RequestID:  req.ID,
		TenantID:   req.TenantID,
		Stage:      stage,
		FromStatus: from,
		ToStatus:   to,
		Vendor:     req.Vendor,
		OccurredAt: time.Now().UTC(),
	}
	if stageErr != nil {
		event.Error = stageErr.Error()
	}
	if err := p.events.Record(ctx, event); err != nil {
		p.logger.WithField("request_id", req.ID).WithError(err).Warn("Failed to record pipeline event")
	}
}

// terminalFailure reports whether an error can never succeed on retry. Such
// errors fail the request immediately instead of burning the redelivery
// budget.
func terminalFailure(err error) bool {
	for _, code := range []string{
		apperrors.CodeCredentialNotFound,
		apperrors.CodeAuthenticationFailed,
		apperrors.CodeIntegrityCheckFailed,
		apperrors.CodeSizeMismatch,
		apperrors.CodeVendorRejected,
		apperrors.CodeSlotOperationFailed,
		apperrors.CodeReplayConflict,
	} {
		if apperrors.HasCode(err, code) {
			return true
		}
	}
	return false
}

// failStage marks the request (and its active job, when present) failed and
// writes the audit record. Returning nil acknowledges the message; there is
// nothing left to retry.
func (p *Pipeline) failStage(ctx context.Context, req *models.FileServiceRequest, stage string, stageErr error) error {
	log := p.logger.WithField("request_id", req.ID).WithField("stage", stage).WithError(stageErr)
	log.Error("Pipeline stage failed")

	if req.ActiveJobID != nil {
		if err := p.jobs.MarkFailed(ctx, *req.ActiveJobID, stageErr.Error()); err != nil {
			log.WithError(err).Error("Failed to mark slave job failed")
		}
	}
	if err := p.requests.MarkFailed(ctx, req.ID, stageErr.Error()); err != nil {
		log.WithError(err).Error("Failed to mark request failed")
		return err
	}
	// The request is terminal; archived artifacts stay, scratch files go.
	if req.ActiveJobID != nil {
		p.gateway.Cleanup(req.TenantID, *req.ActiveJobID)
	}
	p.recordEvent(ctx, req, stage, req.Status, types.StatusFailed, stageErr)
	return nil
}

// Exhausted marks a request failed after its stage message spent the whole
// redelivery budget. The consumer calls this when it parks a message on the
// dead list; without it a request whose transient fault never cleared would
// sit in its in-flight status forever.
func (p *Pipeline) Exhausted(ctx context.Context, msg *queue.Message, cause error) {
	req, err := p.requests.Get(ctx, msg.RequestID)
	if err != nil {
		if !errors.Is(err, storage.ErrNoRows) {
			p.logger.WithField("request_id", msg.RequestID).WithError(err).
				Error("Failed to load request after retry exhaustion")
		}
		return
	}
	if req.Status.Terminal() {
		return
	}
	if err := p.failStage(ctx, req, string(msg.Kind), fmt.Errorf("retries exhausted: %w", cause)); err != nil {
		p.logger.WithField("request_id", msg.RequestID).WithError(err).
			Error("Failed to fail request after retry exhaustion")
	}
}

// advance moves the request one state forward, tolerating a concurrent move
// to the same target.
func (p *Pipeline) advance(ctx context.Context, req *models.FileServiceRequest, to types.RequestStatus) error {
	err := p.requests.Advance(ctx, req.ID, req.Status, to)
	if errors.Is(err, storage.ErrInvalidTransition) {
		current, getErr := p.requests.Get(ctx, req.ID)
		if getErr != nil {
			return getErr
		}
		if current.Status == to {
			req.Status = to
			return nil
		}
		return err
	}
	if err != nil {
		return err
	}
	req.Status = to
	return nil
}
