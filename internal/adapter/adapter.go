// Package adapter implements the slave-tool vendor adapters. Every vendor
// exposes the same decode/encode contract; the adapters hide vendor quirks
// (auth schemes, file slots, async polling, hash checks).
package adapter

import (
	"context"
	"fmt"
	"os"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/types"
)

// DecodeResult carries the outcome of a vendor decode.
type DecodeResult struct {
	DecodedFilePath string
	DecodedFileName string
	// FileSlotID is set by the cloud-async vendor and must travel with the
	// job so encode can reopen the same slot.
	FileSlotID string
}

// SlaveAdapter is the common vendor contract.
type SlaveAdapter interface {
	Vendor() types.Vendor
	Decode(ctx context.Context, job *models.SlaveJob) (*DecodeResult, error)
	Encode(ctx context.Context, job *models.SlaveJob, modifiedFilePath string) (encodedFilePath string, err error)
}

// Registry resolves the adapter for a vendor.
type Registry struct {
	adapters map[types.Vendor]SlaveAdapter
}

// NewRegistry builds a registry. Every vendor in types.AllVendors must have
// an adapter; a partial registry is a wiring bug.
func NewRegistry(adapters ...SlaveAdapter) (*Registry, error) {
	m := make(map[types.Vendor]SlaveAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Vendor()] = a
	}
	for _, v := range types.AllVendors {
		if _, ok := m[v]; !ok {
			return nil, fmt.Errorf("no adapter registered for vendor %s", v)
		}
	}
	return &Registry{adapters: m}, nil
}

// For returns the adapter for a vendor.
func (r *Registry) For(vendor types.Vendor) (SlaveAdapter, error) {
	a, ok := r.adapters[vendor]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for vendor %s", vendor)
	}
	return a, nil
}

// checkInputFile verifies the source file exists before any network call.
func checkInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.NewIOFailureError(path, err)
	}
	if info.IsDir() {
		return apperrors.NewIOFailureError(path, fmt.Errorf("is a directory"))
	}
	return nil
}

