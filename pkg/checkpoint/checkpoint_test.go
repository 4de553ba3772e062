package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := json.RawMessage(`{"currentInput":"hello"}`)
	id, err := store.Save(ctx, "convo-1", state)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	payload, err := store.Get(ctx, "convo-1", id)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, state, payload.State)
	require.NoError(t, payload.Validate())
}

func TestMemoryStore_UnknownIDReturnsNil(t *testing.T) {
	store := NewMemoryStore()

	payload, err := store.Get(context.Background(), "convo-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestMemoryStore_ConversationsIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Save(ctx, "convo-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	payload, err := store.Get(ctx, "convo-2", id)
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestMemoryStore_SaveCopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := []byte(`{"n":1}`)
	id, err := store.Save(ctx, "convo-1", state)
	require.NoError(t, err)

	state[5] = '2'
	payload, err := store.Get(ctx, "convo-1", id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(payload.State))
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Save(ctx, "convo-1", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	second, err := store.Save(ctx, "convo-1", json.RawMessage(`{"n":2}`))
	require.NoError(t, err)

	payloads := store.List("convo-1")
	require.Len(t, payloads, 2)
	ids := []string{payloads[0].ID, payloads[1].ID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
	assert.False(t, payloads[1].CreatedAt.After(payloads[0].CreatedAt))
}
