package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
)

func newTestService() interfaces.EventService {
	return NewService(arbor.NewLogger())
}

func TestEventService_PublishSyncDeliversToSubscribers(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var received atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		assert.Equal(t, interfaces.EventJobCreated, event.Type)
		assert.Equal(t, "payload", event.Payload)
		received.Add(1)
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, handler))

	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobCreated,
		Payload: "payload",
	}))
	assert.Equal(t, int32(2), received.Load())

	// Other event types are not delivered
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCompleted}))
	assert.Equal(t, int32(2), received.Load())
}

func TestEventService_PublishIsAsync(t *testing.T) {
	svc := newTestService()

	done := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventScrapeProgress, func(ctx context.Context, event interfaces.Event) error {
		close(done)
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventScrapeProgress}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestEventService_PublishWithNoSubscribers(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	assert.NoError(t, svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCompleted}))
	assert.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCompleted}))
}

func TestEventService_SubscribeNilHandler(t *testing.T) {
	svc := newTestService()

	assert.Error(t, svc.Subscribe(interfaces.EventJobCreated, nil))
	assert.Error(t, svc.Unsubscribe(interfaces.EventJobCreated, nil))
}

func TestEventService_Unsubscribe(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var calls atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, handler))
	require.NoError(t, svc.Unsubscribe(interfaces.EventJobCreated, handler))

	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.Equal(t, int32(0), calls.Load())

	// Unsubscribing a handler that was never registered fails
	other := func(ctx context.Context, event interfaces.Event) error { return nil }
	assert.Error(t, svc.Unsubscribe(interfaces.EventJobCreated, other))
}

func TestEventService_PublishSyncCollectsHandlerErrors(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		return fmt.Errorf("handler blew up")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCompleted})
	assert.Error(t, err)
}

func TestEventService_ClosedServiceDropsEverything(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, svc.Close())

	// Publishes are silent no-ops after close
	assert.NoError(t, svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobCreated}))
	assert.Equal(t, int32(0), calls.Load())

	// New subscriptions are rejected
	assert.Error(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))
}

func TestEventService_ConcurrentPublishAndSubscribe(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var delivered atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.Subscribe(interfaces.EventScrapeProgress, func(ctx context.Context, event interfaces.Event) error {
				delivered.Add(1)
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventScrapeProgress})
		}()
	}
	wg.Wait()

	// Every publish observed a consistent snapshot; exact delivery count
	// depends on interleaving, crashing or deadlocking is the failure mode
	_ = delivered.Load()
}
