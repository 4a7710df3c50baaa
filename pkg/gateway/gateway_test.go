package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/mew-gateway/pkg/audit"
	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

// fakeChannel is an in-process Channel for exercising the gateway without a
// real transport.
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

func newTestGateway(t *testing.T) (*Gateway, registry.Registry) {
	t.Helper()
	reg := registry.NewInMemoryRegistry()
	m, err := matcher.New()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := DefaultConfig()
	cfg.Space = "test-space"
	g := New(cfg, reg, m, audit.NewWriterLogger(io.Discard, io.Discard), logger)
	return g, reg
}

func joinParticipant(t *testing.T, g *Gateway, reg registry.Registry, id string, caps matcher.Set) *fakeChannel {
	t.Helper()
	token := "token-" + id
	require.NoError(t, reg.Configure(&registry.Participant{ID: id, Kind: registry.KindAgent, ConfiguredCapabilities: caps}, token))

	ch := newFakeChannel()
	joinEnv := &envelope.Envelope{Kind: envelope.KindSystemJoin}
	_ = joinEnv.SetPayload(map[string]any{"space": "test-space", "token": token, "participantId": id})
	ch.inbound <- joinEnv

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := g.Join(ctx, ch)
	require.NoError(t, err)

	// drain the system/welcome this participant receives
	welcome := ch.recv(t)
	require.Equal(t, envelope.KindSystemWelcome, welcome.Kind)
	return ch
}

func TestJoinRejectsWrongSpace(t *testing.T) {
	g, reg := newTestGateway(t)
	require.NoError(t, reg.Configure(&registry.Participant{ID: "a"}, "tok"))

	ch := newFakeChannel()
	joinEnv := &envelope.Envelope{Kind: envelope.KindSystemJoin}
	_ = joinEnv.SetPayload(map[string]any{"space": "wrong-space", "token": "tok", "participantId": "a"})
	ch.inbound <- joinEnv

	_, err := g.Join(context.Background(), ch)
	assert.Error(t, err)

	rejection := ch.recv(t)
	assert.Equal(t, envelope.KindSystemError, rejection.Kind)
}

func TestJoinWelcomeThenBroadcast(t *testing.T) {
	g, reg := newTestGateway(t)

	chA := joinParticipant(t, g, reg, "agent-a", nil)
	chB := joinParticipant(t, g, reg, "agent-b", nil)

	// agent-a observes agent-b's join broadcast
	joined := chA.recv(t)
	assert.Equal(t, envelope.KindSystemParticipantJoin, joined.Kind)
	_ = chB
}

func TestEchoRoundTrip(t *testing.T) {
	g, reg := newTestGateway(t)

	chClient := joinParticipant(t, g, reg, "client", matcher.Set{{ID: "c1", Kind: "*"}})
	chEcho := joinParticipant(t, g, reg, "echo", matcher.Set{{ID: "c2", Kind: "*"}})

	// client observes echo's join broadcast; drain it
	_ = chClient.recv(t)

	msg := &envelope.Envelope{ID: "m1", Kind: envelope.KindChat, To: []string{"echo"}}
	_ = msg.SetPayload(map[string]any{"text": "Hello"})
	chClient.inbound <- msg

	received := chEcho.recv(t)
	assert.Equal(t, "client", received.From)

	reply := &envelope.Envelope{ID: "m2", Kind: envelope.KindChat, To: []string{"client"}, CorrelationID: []string{"m1"}}
	_ = reply.SetPayload(map[string]any{"text": "Echo: Hello"})
	chEcho.inbound <- reply

	got := chClient.recv(t)
	assert.Equal(t, []string{"m1"}, got.CorrelationID)
	var payload map[string]any
	require.NoError(t, got.PayloadAs(&payload))
	assert.Equal(t, "Echo: Hello", payload["text"])
}

func TestCapabilityDenialDoesNotRoute(t *testing.T) {
	g, reg := newTestGateway(t)

	chUntrusted := joinParticipant(t, g, reg, "untrusted", matcher.Set{{ID: "c1", Kind: "chat"}})
	chOther := joinParticipant(t, g, reg, "other", nil)
	_ = chUntrusted.recv(t) // drain other's join broadcast

	msg := &envelope.Envelope{ID: "m1", Kind: envelope.KindMCPRequest, To: []string{"other"}}
	_ = msg.SetPayload(map[string]any{"method": "tools/call"})
	chUntrusted.inbound <- msg

	errEnv := chUntrusted.recv(t)
	assert.Equal(t, envelope.KindSystemError, errEnv.Kind)
	var errPayload envelope.ErrorPayload
	require.NoError(t, errEnv.PayloadAs(&errPayload))
	assert.Equal(t, envelope.ErrorCodeCapabilityDenied, errPayload.Code)
	assert.NotEmpty(t, errPayload.Message)

	select {
	case env := <-chOther.sent:
		t.Fatalf("unexpected delivery to other: %v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoutingToUnknownRecipientReportsError(t *testing.T) {
	g, reg := newTestGateway(t)

	chSender := joinParticipant(t, g, reg, "sender", matcher.Set{{ID: "c1", Kind: "*"}})

	msg := &envelope.Envelope{ID: "m1", Kind: envelope.KindChat, To: []string{"ghost"}}
	_ = msg.SetPayload(map[string]any{"text": "hello"})
	chSender.inbound <- msg

	errEnv := chSender.recv(t)
	assert.Equal(t, envelope.KindSystemError, errEnv.Kind)
	var errPayload envelope.ErrorPayload
	require.NoError(t, errEnv.PayloadAs(&errPayload))
	assert.Equal(t, envelope.ErrorCodeUnknownRecipient, errPayload.Code)
}

func TestCapabilityGrantForwardsWithoutGatewayAck(t *testing.T) {
	g, reg := newTestGateway(t)

	chOperator := joinParticipant(t, g, reg, "operator", matcher.Set{{ID: "c1", Kind: "capability/grant"}})
	chAgent := joinParticipant(t, g, reg, "agent", nil)
	_ = chOperator.recv(t) // drain agent's join broadcast

	grant := &envelope.Envelope{ID: "g1", Kind: envelope.KindCapabilityGrant, To: []string{"agent"}}
	_ = grant.SetPayload(map[string]any{"capability": matcher.Capability{ID: "write", Kind: "mcp/request"}})
	chOperator.inbound <- grant

	forwarded := chAgent.recv(t)
	assert.Equal(t, envelope.KindCapabilityGrant, forwarded.Kind)

	updated, err := reg.Get("agent")
	require.NoError(t, err)
	require.Len(t, updated.GrantedCapabilities, 1)
	assert.Equal(t, "write", updated.GrantedCapabilities[0].ID)
}

func TestStreamRequestOpenAndClose(t *testing.T) {
	g, reg := newTestGateway(t)

	chDriver := joinParticipant(t, g, reg, "driver", matcher.Set{{ID: "c1", Kind: "**"}})
	chAgent := joinParticipant(t, g, reg, "agent", matcher.Set{{ID: "c2", Kind: "**"}})
	_ = chDriver.recv(t)

	req := &envelope.Envelope{ID: "r1", Kind: envelope.KindStreamRequest, To: []string{"driver"}}
	chAgent.inbound <- req

	openForAgent := chAgent.recv(t)
	require.Equal(t, envelope.KindStreamOpen, openForAgent.Kind)

	var payload struct {
		StreamID string `json:"stream_id"`
	}
	require.NoError(t, openForAgent.PayloadAs(&payload))
	assert.NotEmpty(t, payload.StreamID)

	closeEnv := &envelope.Envelope{ID: "r2", Kind: envelope.KindStreamClose}
	_ = closeEnv.SetPayload(map[string]any{"stream_id": payload.StreamID})
	chAgent.inbound <- closeEnv
}
