package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

func TestStdioChannelRoundTripViaCat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := SpawnStdio(ctx, "cat", nil, nil)
	require.NoError(t, err)
	defer ch.Close()

	env := &envelope.Envelope{ID: "e1", Kind: envelope.KindChat, From: "agent-1"}
	require.NoError(t, ch.Send(env))

	select {
	case echoed := <-ch.Inbound():
		assert.Equal(t, env.ID, echoed.ID)
		assert.Equal(t, env.Kind, echoed.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed envelope")
	}
}

func TestStdioChannelCloseEndsInbound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := SpawnStdio(ctx, "cat", nil, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Close())

	select {
	case _, ok := <-ch.Inbound():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound close")
	}
}
