// Package poller provides the generic bounded polling loop used for
// cloud-async vendor operations.
package poller

import (
	"context"
	"time"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/logging"
)

// Operation is the observed state of one in-flight vendor operation.
type Operation struct {
	ID            string
	Completed     bool
	Succeeded     bool
	FailureReason string
}

// QueryFunc asks the vendor for the current state of an operation.
type QueryFunc func(ctx context.Context) (*Operation, error)

// Resolve polls an operation until it completes or the time budget runs out.
// A transient query error does not fail the resolve; the poll retries after
// the same interval. The overall elapsed time is bounded by timeout
// regardless of how many transient errors occurred. The returned Operation is
// always completed; the caller decides what a failed completion means.
func Resolve(ctx context.Context, operationID string, query QueryFunc, interval, timeout time.Duration) (*Operation, error) {
	logger := logging.FromContext(ctx).WithField("operationId", operationID)
	deadline := time.Now().Add(timeout)

	for {
		op, err := query(ctx)
		if err != nil {
			// Transient query failure. Keep polling until the deadline.
			logger.WithError(err).Warn("Operation status query failed, retrying")
		} else if op.Completed {
			return op, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, apperrors.NewPollingTimedOutError(operationID, timeout.Milliseconds())
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
