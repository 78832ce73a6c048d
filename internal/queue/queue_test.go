package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuning-platform/internal/config"
	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/storage"
)

func setupTestQueue(t *testing.T) (*storage.RedisDB, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	rdb, err := storage.NewRedisDB(&config.RedisConfig{
		Host:           host,
		Port:           port,
		MaxConnections: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	return rdb, mr
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelError, logging.FormatText)
}

func TestProducer_Enqueue(t *testing.T) {
	rdb, mr := setupTestQueue(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	msg := NewMessage(KindDecode, "tenant-1", "req-1")
	require.NoError(t, producer.Enqueue(ctx, msg))

	depth, err := producer.Depth(ctx, KindDecode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	raw, err := mr.Lpop(pendingKey(KindDecode))
	require.NoError(t, err)

	decoded, err := decodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, KindDecode, decoded.Kind)
	assert.Equal(t, "req-1", decoded.RequestID)
	assert.Equal(t, 0, decoded.Attempt)
}

func TestConsumer_DeliversMessages(t *testing.T) {
	rdb, _ := setupTestQueue(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		seen = append(seen, msg.RequestID)
		mu.Unlock()
		return nil
	})

	consumer := NewConsumer(rdb, KindDecode, handler, 2, 3, testLogger())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	require.NoError(t, producer.Enqueue(ctx, NewMessage(KindDecode, "tenant-1", "req-1")))
	require.NoError(t, producer.Enqueue(ctx, NewMessage(KindDecode, "tenant-1", "req-2")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, []string{"req-1", "req-2"}, seen)
	mu.Unlock()
}

func TestConsumer_RedeliversFailedMessages(t *testing.T) {
	rdb, _ := setupTestQueue(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient vendor failure")
		}
		return nil
	})

	consumer := NewConsumer(rdb, KindBuild, handler, 1, 3, testLogger())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	require.NoError(t, producer.Enqueue(ctx, NewMessage(KindBuild, "tenant-1", "req-1")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConsumer_DeadLetterAfterBudget(t *testing.T) {
	rdb, mr := setupTestQueue(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("permanent failure")
	})

	maxRetries := 2
	consumer := NewConsumer(rdb, KindEncode, handler, 1, maxRetries, testLogger())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	require.NoError(t, producer.Enqueue(ctx, NewMessage(KindEncode, "tenant-1", "req-1")))

	require.Eventually(t, func() bool {
		dead, _ := mr.List(deadKey(KindEncode))
		return len(dead) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, maxRetries, attempts)
	mu.Unlock()

	// Nothing left pending or in flight.
	depth, err := producer.Depth(ctx, KindEncode)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestConsumer_ExhaustionCallbackRuns(t *testing.T) {
	rdb, _ := setupTestQueue(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	handlerErr := errors.New("vendor unreachable")
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		return handlerErr
	})

	var mu sync.Mutex
	var exhausted []*Message
	var causes []error

	consumer := NewConsumer(rdb, KindDecode, handler, 1, 2, testLogger())
	consumer.OnExhausted(func(ctx context.Context, msg *Message, cause error) {
		mu.Lock()
		exhausted = append(exhausted, msg)
		causes = append(causes, cause)
		mu.Unlock()
	})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	require.NoError(t, producer.Enqueue(ctx, NewMessage(KindDecode, "tenant-1", "req-1")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exhausted) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "req-1", exhausted[0].RequestID)
	assert.Equal(t, 2, exhausted[0].Attempt)
	assert.ErrorIs(t, causes[0], handlerErr)
	mu.Unlock()
}

func TestConsumer_MalformedMessageGoesDead(t *testing.T) {
	rdb, mr := setupTestQueue(t)
	ctx := context.Background()

	handled := false
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		handled = true
		return nil
	})

	consumer := NewConsumer(rdb, KindDecode, handler, 1, 3, testLogger())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	_, err := mr.Lpush(pendingKey(KindDecode), "{not json")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		dead, _ := mr.List(deadKey(KindDecode))
		return len(dead) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.False(t, handled)
}

func TestConsumer_ReclaimsInFlightOnStart(t *testing.T) {
	rdb, mr := setupTestQueue(t)
	ctx := context.Background()

	// Simulate a crash that left a message in the processing list.
	msg := NewMessage(KindDecode, "tenant-1", "req-stuck")
	raw, err := msg.encode()
	require.NoError(t, err)
	_, err = mr.Lpush(processingKey(KindDecode), raw)
	require.NoError(t, err)

	var mu sync.Mutex
	var got string
	handler := HandlerFunc(func(ctx context.Context, msg *Message) error {
		mu.Lock()
		got = msg.RequestID
		mu.Unlock()
		return nil
	})

	consumer := NewConsumer(rdb, KindDecode, handler, 1, 3, testLogger())
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "req-stuck"
	}, 3*time.Second, 10*time.Millisecond)

	remaining, _ := mr.List(processingKey(KindDecode))
	assert.Empty(t, remaining)
}

func TestConsumer_StopIsIdempotent(t *testing.T) {
	rdb, _ := setupTestQueue(t)

	consumer := NewConsumer(rdb, KindDecode, HandlerFunc(func(ctx context.Context, msg *Message) error {
		return nil
	}), 1, 3, testLogger())

	require.NoError(t, consumer.Start(context.Background()))
	consumer.Stop()
	consumer.Stop()
}
