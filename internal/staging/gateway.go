// Package staging manages local scratch files and remote artifact storage
// for decode/encode jobs.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/retry"
)

// ObjectStorage is the external object-store collaborator. Keys are tenant
// scoped; the backend is out of this core's control.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, localPath string) (remoteKey string, err error)
	Download(ctx context.Context, remoteKey string) ([]byte, error)
	Delete(ctx context.Context, key string, remoteKey string) error
}

// Gateway derives deterministic scratch paths per (tenant, job), moves
// artifacts to and from object storage, and guarantees scratch cleanup.
type Gateway struct {
	scratchRoot string
	store       ObjectStorage
}

// NewGateway creates a staging gateway rooted at scratchRoot.
func NewGateway(scratchRoot string, store ObjectStorage) *Gateway {
	return &Gateway{scratchRoot: scratchRoot, store: store}
}

// JobDir returns the scratch directory for a job, creating it on demand.
// The path is partitioned by tenant and job id so concurrent jobs never
// collide.
func (g *Gateway) JobDir(tenantID, jobID string) (string, error) {
	dir := filepath.Join(g.scratchRoot, tenantID, jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", apperrors.NewIOFailureError(dir, err)
	}
	return dir, nil
}

// Path returns the scratch path for a named artifact of a job, creating the
// job directory on demand.
func (g *Gateway) Path(tenantID, jobID, fileName string) (string, error) {
	dir, err := g.JobDir(tenantID, jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// WriteFile writes an artifact into the job's scratch directory.
func (g *Gateway) WriteFile(tenantID, jobID, fileName string, data []byte) (string, error) {
	path, err := g.Path(tenantID, jobID, fileName)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", apperrors.NewIOFailureError(path, err)
	}
	return path, nil
}

// Cleanup removes a job's whole scratch directory. It runs on both the
// success and failure paths and never fails the caller.
func (g *Gateway) Cleanup(tenantID, jobID string) {
	dir := filepath.Join(g.scratchRoot, tenantID, jobID)
	if err := os.RemoveAll(dir); err != nil {
		logging.WithFields(map[string]interface{}{
			"jobId": jobID,
			"dir":   dir,
		}).WithError(err).Warn("Failed to remove scratch directory")
	}
}

// Download fetches a remote artifact into the job's scratch directory.
func (g *Gateway) Download(ctx context.Context, tenantID, jobID, remoteKey, fileName string) (string, error) {
	data, err := g.store.Download(ctx, remoteKey)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", remoteKey, err)
	}
	return g.WriteFile(tenantID, jobID, fileName, data)
}

// ArtifactKey builds the tenant-scoped object key for a job artifact.
func ArtifactKey(tenantID, jobID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, jobID, fileName)
}

// UploadSet tracks artifacts uploaded for one logical operation so the
// failure path can delete everything that was written. At most one successful
// upload happens per key.
type UploadSet struct {
	gateway  *Gateway
	uploaded map[string]string // key -> remoteKey
}

// NewUploadSet starts tracking uploads for one operation.
func (g *Gateway) NewUploadSet() *UploadSet {
	return &UploadSet{gateway: g, uploaded: make(map[string]string)}
}

// Upload sends a local artifact to object storage under the given key,
// retrying transient store failures. A key that was already uploaded in this
// set is not uploaded again.
func (u *UploadSet) Upload(ctx context.Context, key, localPath string) (string, error) {
	if remote, ok := u.uploaded[key]; ok {
		return remote, nil
	}
	var remote string
	err := retry.Do(ctx, nil, func(ctx context.Context, _ int) error {
		var uploadErr error
		remote, uploadErr = u.gateway.store.Upload(ctx, key, localPath)
		return uploadErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	u.uploaded[key] = remote
	return remote, nil
}

// Rollback deletes every artifact this set uploaded. Used on the
// compensating-failure path; delete errors are logged, not returned.
func (u *UploadSet) Rollback(ctx context.Context) {
	for key, remote := range u.uploaded {
		if err := u.gateway.store.Delete(ctx, key, remote); err != nil {
			logging.WithField("key", key).WithError(err).Warn("Failed to delete uploaded artifact")
		}
	}
	u.uploaded = make(map[string]string)
}
