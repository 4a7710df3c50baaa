package registry

import (
	"testing"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []*envelope.Envelope
}

func (f *fakeSender) Send(env *envelope.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func TestRegistryConfigureAndResolveByToken(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{ID: "agent-1", Kind: KindAgent}, "tok-agent-1"))

	p, err := r.ResolveByToken("tok-agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.ID)

	_, err = r.ResolveByToken("wrong-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegistryResolveByTokenSharedPrefix(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{ID: "a"}, "abcdefgh-one"))
	require.NoError(t, r.Configure(&Participant{ID: "b"}, "abcdefgh-two"))

	p, err := r.ResolveByToken("abcdefgh-two")
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID)
}

func TestRegistryGetUnknownParticipant(t *testing.T) {
	r := NewInMemoryRegistry()
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestRegistryAttachDetachChannel(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{ID: "agent-1"}, "tok"))

	p, _ := r.Get("agent-1")
	assert.False(t, p.Connected())

	require.NoError(t, r.AttachChannel("agent-1", &fakeSender{}))
	p, _ = r.Get("agent-1")
	assert.True(t, p.Connected())

	require.NoError(t, r.DetachChannel("agent-1"))
	p, _ = r.Get("agent-1")
	assert.False(t, p.Connected())
}

func TestRegistryGrantAndRevoke(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{ID: "agent-1"}, "tok"))

	require.NoError(t, r.Grant("agent-1", matcher.Capability{ID: "cap-1", Kind: "chat"}))
	p, _ := r.Get("agent-1")
	require.Len(t, p.GrantedCapabilities, 1)

	require.NoError(t, r.Revoke("agent-1", "cap-1"))
	p, _ = r.Get("agent-1")
	assert.Len(t, p.GrantedCapabilities, 0)

	err := r.Revoke("agent-1", "missing")
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestRegistryRevokeCannotRemoveConfiguredCapability(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{
		ID:                     "agent-1",
		ConfiguredCapabilities: matcher.Set{{ID: "cap-1", Kind: "chat"}},
	}, "tok"))

	err := r.Revoke("agent-1", "cap-1")
	assert.ErrorIs(t, err, ErrGrantNotFound)

	p, _ := r.Get("agent-1")
	require.Len(t, p.ConfiguredCapabilities, 1)
	assert.Equal(t, "cap-1", p.ConfiguredCapabilities[0].ID)
}

func TestRegistryConnectedSnapshotIsIsolated(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{ID: "agent-1"}, "tok"))
	require.NoError(t, r.AttachChannel("agent-1", &fakeSender{}))

	connected := r.Connected()
	require.Len(t, connected, 1)

	connected[0].GrantedCapabilities = append(connected[0].GrantedCapabilities, matcher.Capability{ID: "mutated"})

	p, _ := r.Get("agent-1")
	assert.Len(t, p.GrantedCapabilities, 0, "mutating a snapshot must not affect the registry")
}

func TestRegistrySetPaused(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Configure(&Participant{ID: "agent-1"}, "tok"))

	require.NoError(t, r.SetPaused("agent-1", true))
	p, _ := r.Get("agent-1")
	assert.True(t, p.Paused())
}
