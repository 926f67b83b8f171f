package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
	"github.com/fazpi-ai/fazpi-qbull/pkg/store/adapters/memory"
)

func connected(t *testing.T) *memory.Client {
	t.Helper()
	c := memory.New()
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestClient_AppendAndReadGroup(t *testing.T) {
	c := connected(t)
	ctx := context.Background()

	id, err := c.Append(ctx, "s", store.Payload{"a": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, c.CreateGroup(ctx, "s", "g", store.StartAtBeginning))
	entries, err := c.ReadGroup(ctx, "s", "g", "c1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, 1, entries[0].Payload["a"])
}

func TestClient_GroupStartsAtTailByDefault(t *testing.T) {
	c := connected(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "s", store.Payload{"a": 1})
	require.NoError(t, err)

	require.NoError(t, c.CreateGroup(ctx, "s", "g", store.StartAtTail))

	entries, err := c.ReadGroup(ctx, "s", "g", "c1", 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = c.Append(ctx, "s", store.Payload{"a": 2})
	require.NoError(t, err)

	entries, err = c.ReadGroup(ctx, "s", "g", "c1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Payload["a"])
}

func TestClient_ReadGroupBlocksThenTimesOut(t *testing.T) {
	c := connected(t)
	ctx := context.Background()
	require.NoError(t, c.CreateGroup(ctx, "s", "g", store.StartAtTail))

	start := time.Now()
	entries, err := c.ReadGroup(ctx, "s", "g", "c1", 10, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, entries)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestClient_CreateGroupIsIdempotent(t *testing.T) {
	c := connected(t)
	ctx := context.Background()
	require.NoError(t, c.CreateGroup(ctx, "s", "g", store.StartAtBeginning))
	require.NoError(t, c.CreateGroup(ctx, "s", "g", store.StartAtBeginning))
}

func TestClient_AckRemovesFromPending(t *testing.T) {
	c := connected(t)
	ctx := context.Background()

	id, err := c.Append(ctx, "s", store.Payload{"a": 1})
	require.NoError(t, err)
	require.NoError(t, c.CreateGroup(ctx, "s", "g", store.StartAtBeginning))

	_, err = c.ReadGroup(ctx, "s", "g", "c1", 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, c.PendingCount("s", "g"))

	require.NoError(t, c.Ack(ctx, "s", "g", id))
	assert.Equal(t, 0, c.PendingCount("s", "g"))
}

func TestClient_GetSet(t *testing.T) {
	c := connected(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.Error(t, err)

	require.NoError(t, c.Set(ctx, "k", "v"))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestClient_OperationsRequireReady(t *testing.T) {
	c := memory.New()
	_, err := c.Append(context.Background(), "s", store.Payload{"a": 1})
	require.Error(t, err)
}
