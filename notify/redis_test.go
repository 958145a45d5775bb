package notify

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/recargo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var _ recargo.Notifier = (*RedisNotifier)(nil)

// unreachableClient points at a port nothing listens on and never retries.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewRedisNotifier_Options(t *testing.T) {
	n := NewRedisNotifier(unreachableClient(t),
		WithChannel("ops.planillas"),
		WithTimeout(time.Second),
		WithLogger(zap.NewNop()),
	)

	assert.Equal(t, "ops.planillas", n.channel)
	assert.Equal(t, time.Second, n.timeout)
	assert.False(t, n.ownsClient)
	assert.NoError(t, n.Close())
}

func TestNotify_PublishFailureIsReturned(t *testing.T) {
	// GIVEN: A notifier whose Redis is down
	core, logs := observer.New(zap.DebugLevel)
	n := NewRedisNotifier(unreachableClient(t), WithLogger(zap.New(core)))

	// WHEN: Publishing an event
	err := n.Notify(context.Background(), recargo.EventCreated, map[string]any{"id": "p-1"})

	// THEN: The error names the event and nothing is logged as published
	require.Error(t, err)
	assert.Contains(t, err.Error(), recargo.EventCreated)
	assert.Zero(t, logs.FilterMessage("event published").Len())
}

func TestNotify_EncodingFailure(t *testing.T) {
	n := NewRedisNotifier(unreachableClient(t))

	err := n.Notify(context.Background(), recargo.EventUpdated, map[string]any{"bad": make(chan int)})

	assert.ErrorContains(t, err, "encode planilla.updated")
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, Config{Addr: "127.0.0.1:1"})

	assert.ErrorContains(t, err, "connect to redis")
}
