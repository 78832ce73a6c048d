package models

import (
	"time"

	"github.com/tuning-platform/internal/types"
)

// PipelineEvent is one append-only audit record of a request state
// transition, written to ClickHouse for operator review.
type PipelineEvent struct {
	RequestID  string              `json:"requestId"`
	TenantID   string              `json:"tenantId"`
	Stage      string              `json:"stage"` // decode, build, encode, reopen
	FromStatus types.RequestStatus `json:"fromStatus"`
	ToStatus   types.RequestStatus `json:"toStatus"`
	Vendor     types.Vendor        `json:"vendor"`
	Error      string              `json:"error,omitempty"`
	OccurredAt time.Time           `json:"occurredAt"`
}
