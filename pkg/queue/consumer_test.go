package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store/adapters/memory"
)

func newReadyClient(t *testing.T) *memory.Client {
	t.Helper()
	c := memory.New()
	require.NoError(t, c.Connect(context.Background()))
	return c
}

// S1 — basic round trip: handler invoked once with the untagged payload,
// ack issued exactly once, no retries.
func TestConsumer_BasicRoundTrip(t *testing.T) {
	client := newReadyClient(t)
	require.NoError(t, client.CreateGroup(context.Background(), "orders", "group:orders", store.StartAtBeginning))
	pub := NewPublisher(client, nil)

	id, err := pub.Publish(context.Background(), "orders", Payload{"email": "a@x", "subject": "s"})
	require.NoError(t, err)

	var mu sync.Mutex
	var gotPayload Payload
	var calls int

	consumer, err := NewConsumer(client, "orders", func(ctx context.Context, payload Payload, mid MessageID) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		gotPayload = payload
		assert.Equal(t, id, mid)
		return nil
	}, WithConcurrency(1), WithBlockTime(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "a@x", gotPayload["email"])
	assert.Equal(t, "s", gotPayload["subject"])
	_, hasKey := gotPayload[OrderingKeyField]
	assert.False(t, hasKey)
	assert.Equal(t, 0, client.PendingCount("orders", "group:orders"))
}

// S2 — handler failure leaves the message unacknowledged; it stays in the
// group's pending set.
func TestConsumer_HandlerFailureLeavesMessagePending(t *testing.T) {
	client := newReadyClient(t)
	require.NoError(t, client.CreateGroup(context.Background(), "orders", "group:orders", store.StartAtBeginning))
	pub := NewPublisher(client, nil)

	_, err := pub.Publish(context.Background(), "orders", Payload{"v": 1})
	require.NoError(t, err)

	var calls int32
	var mu sync.Mutex

	consumer, err := NewConsumer(client, "orders", func(ctx context.Context, payload Payload, mid MessageID) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return assert.AnError
	}, WithConcurrency(1), WithBlockTime(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Stop(context.Background()))
	assert.Equal(t, 1, client.PendingCount("orders", "group:orders"))
}

// S3 — per-key ordering: no two handlers for the same key overlap, and
// each key's recorded values preserve publish order.
func TestConsumer_PerKeyOrdering(t *testing.T) {
	client := newReadyClient(t)
	require.NoError(t, client.CreateGroup(context.Background(), "orders", "group:orders", store.StartAtBeginning))
	pub := NewPublisher(client, nil)

	type item struct {
		key string
		v   int
	}
	items := []item{{"A", 1}, {"A", 2}, {"B", 1}, {"A", 3}, {"B", 2}}
	for _, it := range items {
		_, err := pub.Publish(context.Background(), "orders", Payload{"v": it.v}, WithOrderingKey(it.key))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	recorded := map[string][]int{}
	busy := map[string]bool{}
	var overlapDetected bool

	consumer, err := NewConsumer(client, "orders", func(ctx context.Context, payload Payload, mid MessageID) error {
		key, _ := orderingKey(payload)
		mu.Lock()
		if busy[key] {
			overlapDetected = true
		}
		busy[key] = true
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		recorded[key] = append(recorded[key], int(payload["v"].(int)))
		busy[key] = false
		mu.Unlock()
		return nil
	}, WithConcurrency(4), WithOrderedByKey(true), WithBlockTime(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(recorded["A"]) == 3 && len(recorded["B"]) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlapDetected)
	assert.Equal(t, []int{1, 2, 3}, recorded["A"])
	assert.Equal(t, []int{1, 2}, recorded["B"])
}

// S4 — an unkeyed message in an ordered consumer is handled via the
// unordered path and does not starve keyed traffic.
func TestConsumer_UnkeyedMessageInOrderedMode(t *testing.T) {
	client := newReadyClient(t)
	require.NoError(t, client.CreateGroup(context.Background(), "orders", "group:orders", store.StartAtBeginning))
	pub := NewPublisher(client, nil)

	_, err := pub.Publish(context.Background(), "orders", Payload{"v": 1}, WithOrderingKey("A"))
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "orders", Payload{"v": 99})
	require.NoError(t, err)

	var mu sync.Mutex
	var keyedSeen, unkeyedSeen bool

	consumer, err := NewConsumer(client, "orders", func(ctx context.Context, payload Payload, mid MessageID) error {
		_, hasKey := orderingKey(payload)
		mu.Lock()
		if hasKey {
			keyedSeen = true
		} else {
			unkeyedSeen = true
		}
		mu.Unlock()
		return nil
	}, WithConcurrency(2), WithOrderedByKey(true), WithBlockTime(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return keyedSeen && unkeyedSeen
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Stop(context.Background()))
}

// S5 — graceful shutdown waits for in-flight handlers to complete and
// issues their acks before returning.
func TestConsumer_GracefulShutdownDrains(t *testing.T) {
	client := newReadyClient(t)
	require.NoError(t, client.CreateGroup(context.Background(), "orders", "group:orders", store.StartAtBeginning))
	pub := NewPublisher(client, nil)

	_, err := pub.Publish(context.Background(), "orders", Payload{"v": 1})
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "orders", Payload{"v": 2})
	require.NoError(t, err)

	var completed int32
	var mu sync.Mutex

	consumer, err := NewConsumer(client, "orders", func(ctx context.Context, payload Payload, mid MessageID) error {
		time.Sleep(1 * time.Second)
		mu.Lock()
		completed++
		mu.Unlock()
		return nil
	}, WithConcurrency(2), WithBlockTime(200*time.Millisecond), WithGracefulShutdownTimeout(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	require.Eventually(t, func() bool {
		return consumer.State() == StateRunning
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond) // let both handlers start

	start := time.Now()
	require.NoError(t, consumer.Stop(context.Background()))
	elapsed := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(2), completed)
	assert.Less(t, elapsed, 1300*time.Millisecond)
	assert.Equal(t, 0, client.PendingCount("orders", "group:orders"))
}
