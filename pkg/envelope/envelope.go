// Package envelope defines the wire envelope exchanged between participants
// and the gateway, and the codec that validates and (de)serializes it.
//
// The envelope is the single message shape every participant, transport,
// and policy check operates on. Decoding is permissive about unknown
// fields (forward compatibility); encoding never emits them.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is the wire-version discriminator this gateway speaks.
const ProtocolVersion = "mew/v0.4"

// Kind is a slash-namespaced tag declaring an envelope's semantics.
type Kind string

// Kinds recognized by the gateway. Unknown kinds are still forwarded; these
// are the ones the core inspects or synthesizes itself.
const (
	KindSystemJoin             Kind = "system/join"
	KindSystemWelcome          Kind = "system/welcome"
	KindSystemParticipantJoin  Kind = "system/participant-joined"
	KindSystemParticipantLeave Kind = "system/participant-left"
	KindSystemError            Kind = "system/error"

	KindChat           Kind = "chat"
	KindChatAcknowledge Kind = "chat/acknowledge"
	KindChatCancel     Kind = "chat/cancel"

	KindMCPRequest  Kind = "mcp/request"
	KindMCPResponse Kind = "mcp/response"
	KindMCPProposal Kind = "mcp/proposal"

	KindReasoningStart      Kind = "reasoning/start"
	KindReasoningThought    Kind = "reasoning/thought"
	KindReasoningConclusion Kind = "reasoning/conclusion"
	KindReasoningCancel     Kind = "reasoning/cancel"

	KindStreamRequest Kind = "stream/request"
	KindStreamOpen    Kind = "stream/open"
	KindStreamClose   Kind = "stream/close"

	KindCapabilityGrant    Kind = "capability/grant"
	KindCapabilityRevoke   Kind = "capability/revoke"
	KindCapabilityGrantAck Kind = "capability/grant-ack"

	KindParticipantPause         Kind = "participant/pause"
	KindParticipantResume        Kind = "participant/resume"
	KindParticipantClear         Kind = "participant/clear"
	KindParticipantRestart       Kind = "participant/restart"
	KindParticipantShutdown      Kind = "participant/shutdown"
	KindParticipantCompact       Kind = "participant/compact"
	KindParticipantCompactDone   Kind = "participant/compact-done"
	KindParticipantRequestStatus Kind = "participant/request-status"
	KindParticipantStatus        Kind = "participant/status"
)

// Error codes carried in a system/error payload's optional code field. Not
// every system/error has one — join rejections are message-only — but
// every code the gateway emits for a post-join failure is one of these.
const (
	ErrorCodeCapabilityDenied = "capability_denied"
	ErrorCodeUnknownRecipient = "unknown_recipient"
)

// ErrorPayload is the payload shape of a system/error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// GatewayParticipantID is the synthetic sender identity used for envelopes
// the gateway itself emits (welcome, errors, broadcasts). It is never a
// valid `from` for an inbound envelope and never appears as the `from` of
// a capability/grant-ack, since acks always originate from the recipient.
const GatewayParticipantID = "system:gateway"

// Envelope is the canonical wire message. Field order/names follow the wire
// contract in §3 of the spec; correlation_id is always a list, never a
// scalar, both on ingress and egress.
type Envelope struct {
	Protocol      string          `json:"protocol"`
	ID            string          `json:"id"`
	TS            time.Time       `json:"ts"`
	From          string          `json:"from,omitempty"`
	To            []string        `json:"to,omitempty"`
	Kind          Kind            `json:"kind"`
	CorrelationID []string        `json:"correlation_id,omitempty"`
	Context       string          `json:"context,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// IsBroadcast reports whether the envelope has no explicit recipients.
func (e *Envelope) IsBroadcast() bool {
	return len(e.To) == 0
}

// PayloadAs unmarshals the payload into v. Returns nil if the payload is
// empty.
func (e *Envelope) PayloadAs(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("envelope: unmarshal payload: %w", err)
	}
	return nil
}

// SetPayload marshals v into the envelope's payload field.
func (e *Envelope) SetPayload(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("envelope: marshal payload: %w", err)
	}
	e.Payload = raw
	return nil
}

// PayloadMap returns the payload decoded as a generic map, for use by the
// capability matcher and control-envelope handlers that only need to peek
// at a few fields.
func (e *Envelope) PayloadMap() (map[string]any, error) {
	if len(e.Payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("envelope: payload is not a JSON object: %w", err)
	}
	return m, nil
}

// Clone returns a deep-enough copy safe for independent mutation of the
// top-level fields (To, CorrelationID slices are copied).
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.To != nil {
		c.To = append([]string(nil), e.To...)
	}
	if e.CorrelationID != nil {
		c.CorrelationID = append([]string(nil), e.CorrelationID...)
	}
	return &c
}
