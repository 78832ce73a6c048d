package pipeline

import (
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/types"
)

// TestTerminalFailure tests the retry classification: business rejections fail
// the request immediately, transient faults use the redelivery budget.
func TestTerminalFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		terminal bool
	}{
		{
			name:     "missing credentials",
			err:      apperrors.NewCredentialNotFoundError("tenant-1", types.VendorAlientech),
			terminal: true,
		},
		{
			name:     "authentication failed",
			err:      apperrors.NewAuthenticationFailedError(types.VendorAlientech, errors.New("401")),
			terminal: true,
		},
		{
			name:     "integrity check failed",
			err:      apperrors.NewIntegrityCheckFailedError(types.VendorMagic, "aa", "bb"),
			terminal: true,
		},
		{
			name:     "size mismatch",
			err:      apperrors.NewSizeMismatchError(100, 90),
			terminal: true,
		},
		{
			name:     "vendor rejected",
			err:      apperrors.NewVendorRejectedError(types.VendorDimsport, "unsupported file"),
			terminal: true,
		},
		{
			name:     "slot reopen failed",
			err:      apperrors.NewSlotOperationFailedError("reopen", "slot-1", errors.New("410")),
			terminal: true,
		},
		{
			name:     "replay conflict",
			err:      apperrors.NewReplayConflictError(42, "AB", "CD"),
			terminal: true,
		},
		{
			name:     "polling timeout is retryable",
			err:      apperrors.NewPollingTimedOutError("op-1", 60000),
			terminal: false,
		},
		{
			name:     "io failure is retryable",
			err:      apperrors.NewIOFailureError("/tmp/x", errors.New("disk full")),
			terminal: false,
		},
		{
			name:     "plain transport error is retryable",
			err:      errors.New("connection refused"),
			terminal: false,
		},
		{
			name:     "wrapped terminal error is still terminal",
			err:      fmt.Errorf("decode: %w", apperrors.NewVendorRejectedError(types.VendorAlientech, "bad checksum")),
			terminal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := terminalFailure(tt.err); got != tt.terminal {
				t.Errorf("terminalFailure(%v) = %v, expected %v", tt.err, got, tt.terminal)
			}
		})
	}
}
