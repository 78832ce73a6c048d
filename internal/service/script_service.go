package service

import (
	"context"
	"errors"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/script"
	"github.com/tuning-platform/internal/storage"
)

// CaptureScriptInput carries everything needed to capture a reusable script.
type CaptureScriptInput struct {
	TenantID       string
	Car            string
	Controller     string
	Label          string
	Admin          string
	SourceFileName string
	Automatic      bool
	Original       []byte
	Modified       []byte
}

// CaptureScript diffs an original/modified pair and persists the result as a
// new script version. Length mismatch fails before any diffing happens.
func (s *FileService) CaptureScript(ctx context.Context, in CaptureScriptInput) (string, error) {
	artifact, err := script.Capture(in.Admin, in.Car, in.Controller, in.SourceFileName, in.Original, in.Modified)
	if err != nil {
		return "", err
	}
	diff, err := script.Marshal(artifact)
	if err != nil {
		return "", err
	}

	record := &models.Script{
		TenantID:       in.TenantID,
		Car:            in.Car,
		Controller:     in.Controller,
		Label:          script.NormalizeLabel(in.Label),
		Admin:          in.Admin,
		SourceFileName: in.SourceFileName,
		OriginalLength: artifact.OriginalLength,
		Diff:           diff,
		Automatic:      in.Automatic,
	}
	if err := s.scripts.Create(ctx, record); err != nil {
		return "", err
	}

	s.logger.WithField("script_id", record.ID).WithField("label", record.Label).
		WithField("version", record.Version).Info("Script captured")
	return record.ID, nil
}

// ReplayScript applies a stored script onto a base buffer with the default
// conflict-reporting behavior.
func (s *FileService) ReplayScript(ctx context.Context, scriptID string, base []byte) ([]byte, error) {
	record, err := s.scripts.Get(ctx, scriptID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("script", scriptID)
		}
		return nil, err
	}
	artifact, err := script.Unmarshal(record.Diff)
	if err != nil {
		return nil, err
	}
	return script.Replay(artifact, base, script.ReplayOptions{})
}

// ListScripts returns the latest script versions for a (car, controller).
func (s *FileService) ListScripts(ctx context.Context, tenantID, car, controller string) ([]*models.Script, error) {
	return s.scripts.ListByController(ctx, tenantID, car, controller)
}

// resolveLabels matches each requested label against the available scripts'
// labels, case-insensitively with whitespace stripped. An unmatched label is
// a user error, not a silent skip.
func resolveLabels(labels []string, available []*models.Script) ([]string, error) {
	candidates := make([]string, len(available))
	byLabel := make(map[string]*models.Script, len(available))
	for i, sc := range available {
		candidates[i] = sc.Label
		byLabel[sc.Label] = sc
	}

	var ids []string
	for _, label := range labels {
		matched, ok := script.MatchLabel(label, candidates)
		if !ok {
			return nil, apperrors.NewInvalidParameterError("scripts",
				"no script matches label "+label)
		}
		ids = append(ids, byLabel[matched].ID)
	}
	return ids, nil
}
