package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/storage"
)

const popTimeout = 2 * time.Second

// Handler processes a single queue message. A nil return acknowledges the
// message; an error sends it back for redelivery until the retry budget is
// spent. Handlers must be idempotent because a message can be delivered more
// than once.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Consumer runs a bounded pool of workers draining one stage's pending list.
type Consumer struct {
	mu sync.Mutex

	rdb         *storage.RedisDB
	kind        Kind
	handler     Handler
	workers     int
	maxRetries  int
	onExhausted func(ctx context.Context, msg *Message, cause error)
	logger      *logging.Logger

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer for the given stage.
func NewConsumer(rdb *storage.RedisDB, kind Kind, handler Handler, workers, maxRetries int, logger *logging.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Consumer{
		rdb:        rdb,
		kind:       kind,
		handler:    handler,
		workers:    workers,
		maxRetries: maxRetries,
		logger:     logger.WithField("queue", string(kind)),
		stopCh:     make(chan struct{}),
		stopped:    true,
	}
}

// OnExhausted registers a callback invoked after a message moves to the dead
// list. It gives the message's owner a chance to record the failure; the dead
// list itself only holds the raw payload. Must be called before Start.
func (c *Consumer) OnExhausted(fn func(ctx context.Context, msg *Message, cause error)) {
	c.onExhausted = fn
}

// Start requeues messages left in the processing list by a previous run and
// launches the worker pool.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("consumer already started")
	}
	c.stopped = false
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	reclaimed, err := c.reclaim(ctx)
	if err != nil {
		return fmt.Errorf("failed to reclaim in-flight messages: %w", err)
	}
	if reclaimed > 0 {
		c.logger.WithField("count", reclaimed).Info("Requeued messages from interrupted run")
	}

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i)
	}
	return nil
}

// Stop signals the workers and waits for in-flight handlers to finish.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
}

// reclaim moves everything from the processing list back to pending.
func (c *Consumer) reclaim(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := c.rdb.Client().LMove(ctx, processingKey(c.kind), pendingKey(c.kind), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (c *Consumer) run(ctx context.Context, id int) {
	defer c.wg.Done()

	log := c.logger.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		raw, err := c.rdb.Client().BLMove(ctx, pendingKey(c.kind), processingKey(c.kind), "RIGHT", "LEFT", popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to pop queue message")
			time.Sleep(time.Second)
			continue
		}

		c.process(ctx, log, raw)
	}
}

// process handles one raw message and acknowledges it by removing it from the
// processing list. Failed messages go back to pending with the attempt count
// bumped, or to the dead list once the budget is spent.
func (c *Consumer) process(ctx context.Context, log *logging.Logger, raw string) {
	defer func() {
		if err := c.rdb.Client().LRem(ctx, processingKey(c.kind), 1, raw).Err(); err != nil {
			log.WithError(err).Error("Failed to acknowledge queue message")
		}
	}()

	msg, err := decodeMessage(raw)
	if err != nil {
		// Unparseable payloads can never succeed; park them for inspection.
		log.WithError(err).Error("Dropping malformed queue message")
		c.rdb.Client().LPush(ctx, deadKey(c.kind), raw)
		return
	}

	if err := c.handler.Handle(ctx, msg); err != nil {
		c.redeliver(ctx, log, msg, err)
	}
}

func (c *Consumer) redeliver(ctx context.Context, log *logging.Logger, msg *Message, cause error) {
	log = log.WithField("message_id", msg.ID).WithField("request_id", msg.RequestID).WithError(cause)

	msg.Attempt++
	raw, err := msg.encode()
	if err != nil {
		log.WithError(err).Error("Failed to re-encode message for redelivery")
		return
	}

	if msg.Attempt >= c.maxRetries {
		log.WithField("attempts", msg.Attempt).Error("Message exhausted retries, moving to dead list")
		if err := c.rdb.Client().LPush(ctx, deadKey(c.kind), raw).Err(); err != nil {
			log.WithError(err).Error("Failed to push message to dead list")
		}
		if c.onExhausted != nil {
			c.onExhausted(ctx, msg, cause)
		}
		return
	}

	log.WithField("attempt", msg.Attempt).Warn("Handler failed, requeueing message")
	if err := c.rdb.Client().LPush(ctx, pendingKey(c.kind), raw).Err(); err != nil {
		log.WithError(err).Error("Failed to requeue message")
	}
}
