package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

func TestBufferWindow_AssemblesTrailingWindow(t *testing.T) {
	svc := NewBufferWindow(Config{WindowSize: 3})
	ctx := context.Background()
	convo := protocol.ConversationID("c1")

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Load(ctx, convo, protocol.Message{
			Role:    protocol.RoleUser,
			Content: fmt.Sprintf("msg-%d", i),
		}))
	}

	history, err := svc.Assemble(ctx, convo)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "msg-2", history[0].Content)
	assert.Equal(t, "msg-4", history[2].Content)
}

func TestBufferWindow_ConversationsIsolated(t *testing.T) {
	svc := NewBufferWindow(Config{})
	ctx := context.Background()

	require.NoError(t, svc.Load(ctx, "a", protocol.Message{Content: "for a"}))

	history, err := svc.Assemble(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOverride_NarrowsWithoutMutatingBase(t *testing.T) {
	base := NewBufferWindow(Config{WindowSize: 10})
	ctx := context.Background()
	convo := protocol.ConversationID("c1")

	for i := 0; i < 5; i++ {
		require.NoError(t, base.Load(ctx, convo, protocol.Message{Content: fmt.Sprintf("m%d", i)}))
	}

	view := Override(base, Config{WindowSize: 2})
	narrowed, err := view.Assemble(ctx, convo)
	require.NoError(t, err)
	assert.Len(t, narrowed, 2)

	full, err := base.Assemble(ctx, convo)
	require.NoError(t, err)
	assert.Len(t, full, 5)
}

func TestOverride_StrategyNoneSuppressesHistory(t *testing.T) {
	base := NewBufferWindow(Config{})
	ctx := context.Background()
	require.NoError(t, base.Load(ctx, "c1", protocol.Message{Content: "m"}))

	view := Override(base, Config{Strategy: StrategyNone})
	history, err := view.Assemble(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
}
