package registry

import "github.com/mindburn-labs/mew-gateway/pkg/matcher"

// Grant records who authorized a capability and when, for audit purposes.
// The capability itself lives in Participant.GrantedCapabilities; Grant is
// the provenance wrapper emitted alongside a capability/grant envelope.
type Grant struct {
	ID         string             `json:"id"`
	ParticipantID string          `json:"participant_id"`
	Capability matcher.Capability `json:"capability"`
	GrantedBy  string             `json:"granted_by"`
}
