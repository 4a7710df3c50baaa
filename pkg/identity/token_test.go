package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManagerIssueAndVerify(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks, "mew-gateway")

	token, err := tm.IssueToken(JoinClaims{
		ParticipantID: "agent-1",
		Type:          ParticipantAgent,
		Space:         "demo",
	}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := tm.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.ParticipantID)
	assert.Equal(t, ParticipantAgent, claims.Type)
	assert.Equal(t, "demo", claims.Space)
}

func TestTokenManagerRejectsExpiredToken(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks, "mew-gateway")

	token, err := tm.IssueToken(JoinClaims{ParticipantID: "agent-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = tm.VerifyToken(token)
	assert.Error(t, err)
}

func TestTokenManagerRejectsTamperedToken(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks, "mew-gateway")

	token, err := tm.IssueToken(JoinClaims{ParticipantID: "agent-1"}, time.Hour)
	require.NoError(t, err)

	_, err = tm.VerifyToken(token + "tampered")
	assert.Error(t, err)
}

func TestKeySetRotationKeepsVerifyingOldTokens(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks, "mew-gateway")

	token, err := tm.IssueToken(JoinClaims{ParticipantID: "agent-1"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	_, err = tm.VerifyToken(token)
	assert.NoError(t, err, "old key must remain valid for verification after rotation")
}
