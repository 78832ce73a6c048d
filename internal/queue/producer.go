package queue

import (
	"context"
	"fmt"

	"github.com/tuning-platform/internal/storage"
)

// Producer pushes messages onto the per-stage pending lists.
type Producer struct {
	rdb *storage.RedisDB
}

// NewProducer creates a queue producer.
func NewProducer(rdb *storage.RedisDB) *Producer {
	return &Producer{rdb: rdb}
}

// Enqueue publishes a message to its stage's pending list.
func (p *Producer) Enqueue(ctx context.Context, msg *Message) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	if err := p.rdb.Client().LPush(ctx, pendingKey(msg.Kind), raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s message: %w", msg.Kind, err)
	}
	return nil
}

// Depth returns the number of pending messages for a stage.
func (p *Producer) Depth(ctx context.Context, kind Kind) (int64, error) {
	return p.rdb.Client().LLen(ctx, pendingKey(kind)).Result()
}
