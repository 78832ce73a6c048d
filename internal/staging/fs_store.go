package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSObjectStore is a filesystem-backed ObjectStorage used for local
// development and tests. Production deployments plug in the real object-store
// client instead.
type FSObjectStore struct {
	root string
}

// NewFSObjectStore creates a store rooted at dir.
func NewFSObjectStore(root string) *FSObjectStore {
	return &FSObjectStore{root: root}
}

// Upload copies a local file under the store root.
func (s *FSObjectStore) Upload(ctx context.Context, key string, localPath string) (string, error) {
	data, err := os.ReadFile(localPath) // #nosec G304 - localPath comes from the staging gateway
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if err := os.WriteFile(dest, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return key, nil
}

// Download reads an object back.
func (s *FSObjectStore) Download(ctx context.Context, remoteKey string) ([]byte, error) {
	path := filepath.Join(s.root, filepath.FromSlash(remoteKey))
	data, err := os.ReadFile(path) // #nosec G304 - path is rooted at the store root
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", remoteKey, err)
	}
	return data, nil
}

// Delete removes an object.
func (s *FSObjectStore) Delete(ctx context.Context, key string, remoteKey string) error {
	path := filepath.Join(s.root, filepath.FromSlash(remoteKey))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", remoteKey, err)
	}
	return nil
}
