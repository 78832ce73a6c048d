// Package queue provides the Redis backed message transport between the API
// intake and the pipeline workers. Messages move through per-stage lists with
// at-least-once delivery: a consumer moves each message to a processing list
// before handling it and only removes it after the handler returns, so a
// crashed worker leaves the message recoverable.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tuning-platform/internal/types"
)

// Kind identifies the pipeline stage a message is addressed to.
type Kind string

const (
	KindDecode Kind = "decode"
	KindBuild  Kind = "build"
	KindEncode Kind = "encode"
)

// Message is the unit of work carried over Redis. Payload fields are
// identifiers only; workers reload state from Postgres so that redelivered
// messages observe current truth rather than a stale snapshot.
type Message struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	TenantID   string       `json:"tenantId"`
	RequestID  string       `json:"requestId"`
	JobID      string       `json:"jobId,omitempty"`
	Vendor     types.Vendor `json:"vendor,omitempty"`
	Attempt    int          `json:"attempt"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
}

// NewMessage creates a message for the given stage with a fresh ID.
func NewMessage(kind Kind, tenantID, requestID string) *Message {
	return &Message{
		ID:         uuid.New().String(),
		Kind:       kind,
		TenantID:   tenantID,
		RequestID:  requestID,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (m *Message) encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return string(data), nil
}

func decodeMessage(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}
	return &msg, nil
}

// pendingKey is the list new messages are pushed to.
func pendingKey(kind Kind) string {
	return "tuning:queue:" + string(kind)
}

// processingKey holds messages currently being handled.
func processingKey(kind Kind) string {
	return "tuning:queue:" + string(kind) + ":processing"
}

// deadKey holds messages that exhausted their retry budget.
func deadKey(kind Kind) string {
	return "tuning:queue:" + string(kind) + ":dead"
}
