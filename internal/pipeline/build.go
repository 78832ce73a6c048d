package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tuning-platform/internal/queue"
	"github.com/tuning-platform/internal/script"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// handleBuild applies the selected scripts to the decoded file and stages the
// modified-but-unencoded result. Scripts apply in order, automatic first;
// a replay conflict fails the request rather than silently overwriting.
func (p *Pipeline) handleBuild(ctx context.Context, msg *queue.Message) error {
	log := p.logger.WithField("request_id", msg.RequestID).WithField("stage", "build")

	req, err := p.requests.Get(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			log.Warn("Request no longer exists, dropping message")
			return nil
		}
		return err
	}

	switch req.Status {
	case types.StatusAwaitingSelection:
		if err := p.advance(ctx, req, types.StatusBuilding); err != nil {
			return err
		}
	case types.StatusBuilding:
	default:
		log.WithField("status", string(req.Status)).Info("Request already past build, skipping")
		return nil
	}

	if req.DecodedFile == nil || req.ActiveJobID == nil {
		return p.failStage(ctx, req, "build", errors.New("request has no decoded file to build from"))
	}

	decodedPath, err := p.gateway.Path(req.TenantID, *req.ActiveJobID, *req.DecodedFile)
	if err != nil {
		return err
	}
	buf, err := os.ReadFile(decodedPath)
	if err != nil {
		return fmt.Errorf("failed to read decoded file: %w", err)
	}

	ids := make([]string, 0, len(req.AutomaticScriptIDs)+len(req.RequestedScriptIDs))
	ids = append(ids, req.AutomaticScriptIDs...)
	ids = append(ids, req.RequestedScriptIDs...)

	for _, id := range ids {
		s, err := p.scripts.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNoRows) {
				return p.failStage(ctx, req, "build", fmt.Errorf("selected script %s does not exist", id))
			}
			return err
		}
		artifact, err := script.Unmarshal(s.Diff)
		if err != nil {
			return p.failStage(ctx, req, "build", fmt.Errorf("script %s is corrupt: %w", id, err))
		}
		buf, err = script.Replay(artifact, buf, script.ReplayOptions{})
		if err != nil {
			if terminalFailure(err) {
				return p.failStage(ctx, req, "build", fmt.Errorf("script %s: %w", id, err))
			}
			return err
		}
		log.WithField("script_id", id).WithField("label", s.Label).Debug("Applied script")
	}

	modName := "mod_" + *req.DecodedFile
	if _, err := p.gateway.WriteFile(req.TenantID, *req.ActiveJobID, modName, buf); err != nil {
		return err
	}

	req.ModWithoutEncode = &modName
	if err := p.requests.SetFiles(ctx, req); err != nil {
		return err
	}
	if err := p.advance(ctx, req, types.StatusEncoding); err != nil {
		return err
	}
	p.recordEvent(ctx, req, "build", types.StatusBuilding, types.StatusEncoding, nil)

	encodeMsg := queue.NewMessage(queue.KindEncode, req.TenantID, req.ID)
	encodeMsg.JobID = *req.ActiveJobID
	encodeMsg.Vendor = req.Vendor
	if err := p.producer.Enqueue(ctx, encodeMsg); err != nil {
		return err
	}

	log.WithField("scripts", len(ids)).Info("Build stage completed")
	return nil
}
