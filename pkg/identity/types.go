package identity

// ParticipantType mirrors registry.Kind for claim purposes without
// importing the registry package (identity sits lower in the dependency
// graph — the gateway wires the two together).
type ParticipantType string

const (
	ParticipantHuman ParticipantType = "human"
	ParticipantAgent ParticipantType = "agent"
	ParticipantTool  ParticipantType = "tool"
)

// JoinClaims is what a space-issued bearer token asserts about the
// participant presenting it: which id it may join as and what kind it is.
// The gateway still resolves actual capabilities from the registry at
// join time — claims only establish who is asking to join, not what they
// may do.
type JoinClaims struct {
	ParticipantID string          `json:"participant_id"`
	Type          ParticipantType `json:"type"`
	Space         string          `json:"space,omitempty"`
}
