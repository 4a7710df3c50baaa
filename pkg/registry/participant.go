package registry

import (
	"time"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
)

// Kind classifies what a participant is, for display and default policy
// purposes only — it never gates what a participant may do; capabilities
// do.
type Kind string

const (
	KindHuman Kind = "human"
	KindAgent Kind = "agent"
	KindTool  Kind = "tool"
)

// Sender is the subset of a transport channel the registry needs in order
// to deliver an envelope to a connected participant. Transports implement
// this; the registry never imports the transport package, avoiding a
// cycle.
type Sender interface {
	Send(env *envelope.Envelope) error
}

// Participant is a roster entry: identity, its two independent capability
// sets, and (if currently connected) the channel used to deliver envelopes
// to it.
//
// ConfiguredCapabilities come from the space's static configuration and are
// immutable once a participant is configured — capability/revoke can never
// remove one. GrantedCapabilities accrue (and can be revoked) at runtime via
// capability/grant and capability/revoke. The two are tracked separately so
// an audit decision record can name which one authorized a match.
type Participant struct {
	ID                  string
	Kind                Kind
	DisplayName         string
	ConfiguredCapabilities matcher.Set
	GrantedCapabilities    matcher.Set

	token    string // compared in constant time; never logged
	channel  Sender
	joinedAt time.Time
	paused   bool
}

// AllCapabilities returns the participant's configured and granted
// capabilities combined into one set, in the order the matcher should try
// them: configured patterns (the space's baseline policy) first, then
// runtime grants.
func (p *Participant) AllCapabilities() matcher.Set {
	out := make(matcher.Set, 0, len(p.ConfiguredCapabilities)+len(p.GrantedCapabilities))
	out = append(out, p.ConfiguredCapabilities...)
	out = append(out, p.GrantedCapabilities...)
	return out
}

// CapabilitySource reports which of the participant's two capability sets
// owns the capability with the given id: "configured" or "granted". It
// returns "" if neither set contains it.
func (p *Participant) CapabilitySource(capabilityID string) string {
	for _, c := range p.ConfiguredCapabilities {
		if c.ID == capabilityID {
			return "configured"
		}
	}
	for _, c := range p.GrantedCapabilities {
		if c.ID == capabilityID {
			return "granted"
		}
	}
	return ""
}

// Connected reports whether the participant currently has an attached
// delivery channel.
func (p *Participant) Connected() bool {
	return p.channel != nil
}

// Sender returns the participant's current delivery channel, or nil if
// disconnected.
func (p *Participant) Sender() Sender {
	return p.channel
}

// Paused reports whether participant/pause has suspended this
// participant's processing (informational for the roster snapshot; the
// gateway core still delivers envelopes, enforcement of pause semantics is
// the participant runtime's own concern per spec §4.4.3).
func (p *Participant) Paused() bool {
	return p.paused
}

// Snapshot returns a copy safe to read after the registry lock is
// released: it clones both capability slice headers but not the channel,
// since the channel is reference-shaped by design.
func (p *Participant) Snapshot() *Participant {
	cp := *p
	if p.ConfiguredCapabilities != nil {
		cp.ConfiguredCapabilities = append(matcher.Set(nil), p.ConfiguredCapabilities...)
	}
	if p.GrantedCapabilities != nil {
		cp.GrantedCapabilities = append(matcher.Set(nil), p.GrantedCapabilities...)
	}
	return &cp
}
