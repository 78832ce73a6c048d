package pipeline

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/staging"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// handleEncode sends the modified file back through the vendor and marks the
// request ready. The encoded artifact on the job is the idempotency marker.
func (p *Pipeline) handleEncode(ctx context.Context, msg *queue.Message) error {
	log := p.logger.WithField("request_id", msg.RequestID).WithField("stage", "encode")

	req, err := p.requests.Get(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			log.Warn("Request no longer exists, dropping message")
			return nil
		}
		return err
	}

	if req.Status != types.StatusEncoding {
		log.WithField("status", string(req.Status)).Info("Request not awaiting encode, skipping")
		return nil
	}
	if req.ModWithoutEncode == nil || req.ActiveJobID == nil {
		return p.failStage(ctx, req, "encode", errors.New("request has no built file to encode"))
	}

	job, err := p.jobs.Get(ctx, *req.ActiveJobID)
	if err != nil {
		return err
	}

	if job.EncodedFile == nil {
		modPath, err := p.gateway.Path(req.TenantID, job.UniqueID, *req.ModWithoutEncode)
		if err != nil {
			return err
		}

		job.Status = types.JobUploading
		if err := p.jobs.Update(ctx, job); err != nil {
			return err
		}

		ad, err := p.adapters.For(req.Vendor)
		if err != nil {
			return p.failStage(ctx, req, "encode", err)
		}

		encodedPath, err := ad.Encode(ctx, job, modPath)
		if err != nil {
			if terminalFailure(err) {
				return p.failStage(ctx, req, "encode", err)
			}
			return err
		}

		encodedName := filepath.Base(encodedPath)
		job.EncodedFile = &encodedName
		job.Status = types.JobCompleted
		if err := p.jobs.Update(ctx, job); err != nil {
			return err
		}
	}

	// Archive the round trip's artifacts before the request becomes ready.
	// A failed upload rolls back and the message redelivers; the vendor call
	// above is skipped on redelivery because the encoded artifact exists.
	uploads := p.gateway.NewUploadSet()
	for _, name := range []string{filepath.Base(job.OriginalFile), *job.EncodedFile} {
		localPath, err := p.gateway.Path(req.TenantID, job.UniqueID, name)
		if err != nil {
			return err
		}
		if _, err := uploads.Upload(ctx, staging.ArtifactKey(req.TenantID, job.UniqueID, name), localPath); err != nil {
			uploads.Rollback(ctx)
			return err
		}
	}

	req.ModFinal = job.EncodedFile
	if err := p.requests.SetFiles(ctx, req); err != nil {
		return err
	}
	if err := p.advance(ctx, req, types.StatusReady); err != nil {
		return err
	}
	p.recordEvent(ctx, req, "encode", types.StatusEncoding, types.StatusReady, nil)

	log.WithField("encoded_file", *job.EncodedFile).Info("Encode stage completed")
	return nil
}
