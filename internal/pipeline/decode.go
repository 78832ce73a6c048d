package pipeline

import (
	"context"
	"errors"

	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// handleDecode sends the request's original file to the vendor and stages the
// decoded result. Redelivery after a completed decode is a no-op: the decoded
// artifact on the job is the idempotency marker.
func (p *Pipeline) handleDecode(ctx context.Context, msg *queue.Message) error {
	log := p.logger.WithField("request_id", msg.RequestID).WithField("stage", "decode")

	req, err := p.requests.Get(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			log.Warn("Request no longer exists, dropping message")
			return nil
		}
		return err
	}

	switch req.Status {
	case types.StatusNew:
		if err := p.advance(ctx, req, types.StatusDecoding); err != nil {
			return err
		}
		p.recordEvent(ctx, req, "decode", types.StatusNew, types.StatusDecoding, nil)
	case types.StatusDecoding:
		// Redelivery of an in-flight decode; fall through to the artifact check.
	default:
		log.WithField("status", string(req.Status)).Info("Request already past decode, skipping")
		return nil
	}

	if req.ActiveJobID == nil {
		return p.failStage(ctx, req, "decode", errors.New("request has no active slave job"))
	}
	job, err := p.jobs.Get(ctx, *req.ActiveJobID)
	if err != nil {
		return err
	}

	if job.DecodedFile == nil {
		job.Status = types.JobUploading
		if err := p.jobs.Update(ctx, job); err != nil {
			return err
		}

		ad, err := p.adapters.For(req.Vendor)
		if err != nil {
			return p.failStage(ctx, req, "decode", err)
		}

		res, err := ad.Decode(ctx, job)
		if err != nil {
			if terminalFailure(err) {
				return p.failStage(ctx, req, "decode", err)
			}
			return err
		}

		job.DecodedFile = &res.DecodedFileName
		if res.FileSlotID != "" {
			job.FileSlotID = &res.FileSlotID
		}
		job.Status = types.JobCompleted
		if err := p.jobs.Update(ctx, job); err != nil {
			return err
		}
	}

	req.DecodedFile = job.DecodedFile
	if err := p.requests.SetFiles(ctx, req); err != nil {
		return err
	}
	if err := p.advance(ctx, req, types.StatusAwaitingSelection); err != nil {
		return err
	}
	p.recordEvent(ctx, req, "decode", types.StatusDecoding, types.StatusAwaitingSelection, nil)

	log.WithField("decoded_file", *job.DecodedFile).Info("Decode stage completed")
	return nil
}
