package participant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// fakeChannel is an in-process transport.Channel for exercising Client
// without a real connection.
type fakeChannel struct {
	inbound chan *envelope.Envelope
	sent    chan *envelope.Envelope
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: make(chan *envelope.Envelope, 16),
		sent:    make(chan *envelope.Envelope, 16),
	}
}

func (c *fakeChannel) Send(env *envelope.Envelope) error {
	c.sent <- env
	return nil
}

func (c *fakeChannel) Inbound() <-chan *envelope.Envelope { return c.inbound }

func (c *fakeChannel) Close() error {
	close(c.inbound)
	return nil
}

func (c *fakeChannel) recv(t *testing.T) *envelope.Envelope {
	t.Helper()
	select {
	case env := <-c.sent:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestJoinSendsJoinFrameAndDecodesWelcome(t *testing.T) {
	ch := newFakeChannel()
	cfg := Config{Space: "test-space", Token: "tok", ParticipantID: "client-1"}

	welcomeEnv := &envelope.Envelope{Kind: envelope.KindSystemWelcome}
	require.NoError(t, welcomeEnv.SetPayload(Welcome{
		Participants: []RosterEntry{{ParticipantID: "echo", Kind: "agent"}},
	}))
	ch.inbound <- welcomeEnv

	c, welcome, err := Join(context.Background(), cfg, ch, nil)
	require.NoError(t, err)
	defer c.Close()

	sent := ch.recv(t)
	assert.Equal(t, envelope.KindSystemJoin, sent.Kind)
	assert.Equal(t, "client-1", sent.From)

	require.Len(t, welcome.Participants, 1)
	assert.Equal(t, "echo", welcome.Participants[0].ParticipantID)
}

func TestJoinSurfacesRejection(t *testing.T) {
	ch := newFakeChannel()
	cfg := Config{Space: "test-space", Token: "tok", ParticipantID: "client-1"}

	errEnv := &envelope.Envelope{Kind: envelope.KindSystemError}
	require.NoError(t, errEnv.SetPayload(envelope.ErrorPayload{Message: "invalid space"}))
	ch.inbound <- errEnv

	_, _, err := Join(context.Background(), cfg, ch, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid space")
}

func TestJoinTimesOutWithoutReply(t *testing.T) {
	ch := newFakeChannel()
	cfg := Config{Space: "test-space", Token: "tok", ParticipantID: "client-1", JoinTimeout: 10 * time.Millisecond}

	_, _, err := Join(context.Background(), cfg, ch, nil)
	assert.Error(t, err)
}

func joinedClient(t *testing.T) (*Client, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	cfg := Config{Space: "test-space", Token: "tok", ParticipantID: "client-1"}
	ch.inbound <- &envelope.Envelope{Kind: envelope.KindSystemWelcome}

	c, _, err := Join(context.Background(), cfg, ch, nil)
	require.NoError(t, err)
	ch.recv(t) // drain join frame
	return c, ch
}

func TestRequestResolvesOnCorrelatedReply(t *testing.T) {
	c, ch := joinedClient(t)
	defer c.Close()

	go func() {
		sent := ch.recv(t)
		reply := &envelope.Envelope{Kind: envelope.KindChat, CorrelationID: []string{sent.ID}}
		_ = reply.SetPayload(map[string]any{"text": "pong"})
		ch.inbound <- reply
	}()

	reply, err := c.Request(context.Background(), &envelope.Envelope{Kind: envelope.KindChat, To: []string{"echo"}})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, reply.PayloadAs(&payload))
	assert.Equal(t, "pong", payload["text"])
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	c, ch := joinedClient(t)
	defer c.Close()

	_, err := c.Request(context.Background(), &envelope.Envelope{Kind: envelope.KindChat, To: []string{"nobody"}})
	assert.Error(t, err)
	ch.recv(t) // drain the request itself
}

func TestUnhandledEnvelopeGoesToHandler(t *testing.T) {
	ch := newFakeChannel()
	cfg := Config{Space: "test-space", Token: "tok", ParticipantID: "client-1"}
	ch.inbound <- &envelope.Envelope{Kind: envelope.KindSystemWelcome}

	received := make(chan *envelope.Envelope, 1)
	c, _, err := Join(context.Background(), cfg, ch, func(env *envelope.Envelope) {
		received <- env
	})
	require.NoError(t, err)
	defer c.Close()
	ch.recv(t)

	ch.inbound <- &envelope.Envelope{Kind: envelope.KindChat, ID: "broadcast-1"}

	select {
	case env := <-received:
		assert.Equal(t, "broadcast-1", env.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}
