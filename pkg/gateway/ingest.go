package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/mindburn-labs/mew-gateway/pkg/audit"
	"github.com/mindburn-labs/mew-gateway/pkg/backpressure"
	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/mindburn-labs/mew-gateway/pkg/observability"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

// Ingest is the single entry point every post-join inbound envelope passes
// through: id/dedup checks, capability enforcement, control-envelope
// handling, then fan-out. It never returns an error to the caller —
// failures are reported back to the sender as a system/error envelope and
// recorded to the audit log.
func (g *Gateway) Ingest(env *envelope.Envelope) {
	g.stampDefaults(env)

	sender, err := g.registry.Get(env.From)
	if err != nil {
		g.logger.Warn("ingest: unknown sender", "from", env.From, "error", err)
		return
	}

	ctx := context.Background()
	finish := func(error) {}
	if g.obs != nil {
		ctx, finish = g.obs.TrackOperation(ctx, "gateway.ingest",
			observability.EnvelopeOperation(env.ID, string(env.Kind), sender.ID, "")...)
	}
	var ingestErr error
	defer func() { finish(ingestErr) }()

	if env.ID == "" {
		g.logger.Warn("ingest: dropping envelope with no id", "from", env.From)
		g.recordEnvelopeAudit(audit.EnvelopeRejected, env, "", "missing envelope id")
		ingestErr = fmt.Errorf("ingest: missing envelope id")
		return
	}

	g.metrics.recordReceived()
	g.recordEnvelopeAudit(audit.EnvelopeReceived, env, "", "")

	if g.dedup.Seen(env.From, env.ID) {
		g.logger.Debug("dropping duplicate envelope", "from", env.From, "id", env.ID)
		return
	}

	if err := backpressure.EvaluateBackpressure(ctx, g.limiter, sender.ID, g.cfg.RateLimit); err != nil {
		g.logger.Debug("ingest: rate limited", "from", env.From, "error", err)
		g.replyError(sender, env, "rate limit exceeded", "")
		ingestErr = err
		return
	}

	if strings.HasPrefix(string(env.Kind), "system/") {
		g.replyError(sender, env, fmt.Sprintf("%q is gateway-only", env.Kind), "")
		g.recordEnvelopeAudit(audit.EnvelopeRejected, env, "", "reserved system/* kind")
		ingestErr = fmt.Errorf("ingest: reserved system/* kind %q", env.Kind)
		return
	}

	caps := sender.AllCapabilities()
	allowed, cap, err := g.matcher.Allows(caps, env)
	if err != nil {
		g.logger.Warn("ingest: matcher evaluation error", "envelope", env.ID, "error", err)
	}
	if !allowed {
		g.metrics.recordDenied()
		g.recordDecisionAudit(env, sender.ID, "", "", false, "no granted capability matches")
		g.replyError(sender, env, "capability denied", envelope.ErrorCodeCapabilityDenied)
		ingestErr = ErrCapabilityDenied
		return
	}
	g.recordDecisionAudit(env, sender.ID, cap.ID, sender.CapabilitySource(cap.ID), true, "")

	if g.handleControl(sender, env) {
		return
	}

	g.route(env)
}

// handleControl dispatches gateway-mutating control envelopes. It reports
// true when it has fully handled env (nothing further to route) and false
// when env should still be fanned out to its recipients after the control
// side effect.
func (g *Gateway) handleControl(sender *registry.Participant, env *envelope.Envelope) bool {
	switch env.Kind {
	case envelope.KindCapabilityGrant:
		return g.handleCapabilityGrant(sender, env)
	case envelope.KindCapabilityRevoke:
		return g.handleCapabilityRevoke(sender, env)
	case envelope.KindParticipantPause:
		g.setPausedFor(env, true)
		return false
	case envelope.KindParticipantResume:
		g.setPausedFor(env, false)
		return false
	case envelope.KindStreamRequest:
		g.handleStreamRequest(sender, env)
		return true
	case envelope.KindStreamClose:
		g.handleStreamClose(sender, env)
		return false
	default:
		return false
	}
}

// route fans env out to its recipients, or to every connected participant
// except the sender when it is a broadcast.
func (g *Gateway) route(env *envelope.Envelope) {
	if env.IsBroadcast() {
		for _, p := range g.registry.Connected() {
			if p.ID == env.From {
				continue
			}
			g.deliver(p.ID, env.Clone())
		}
		return
	}
	for _, to := range env.To {
		g.deliver(to, env.Clone())
	}
}

type grantPayload struct {
	Capability matcher.Capability `json:"capability"`
}

type revokePayload struct {
	CapabilityID string `json:"capability_id"`
}

// handleCapabilityGrant mutates the recipient's granted set, then lets the
// envelope fall through to normal routing so it reaches the recipient — the
// gateway never synthesizes capability/grant-ack itself; an ack, if any,
// originates from the recipient's own runtime.
func (g *Gateway) handleCapabilityGrant(sender *registry.Participant, env *envelope.Envelope) bool {
	var p grantPayload
	if err := env.PayloadAs(&p); err != nil {
		g.replyError(sender, env, fmt.Sprintf("malformed capability/grant: %v", err), "")
		return true
	}
	if len(env.To) == 0 || p.Capability.ID == "" {
		g.replyError(sender, env, "capability/grant requires a recipient and capability.id", "")
		return true
	}
	target := env.To[0]
	if err := g.registry.Grant(target, p.Capability); err != nil {
		g.replyError(sender, env, fmt.Sprintf("grant: %v", err), "")
		return true
	}
	g.logger.Info("capability granted", "participant", target, "capability", p.Capability.ID, "granted_by", sender.ID)
	return false
}

func (g *Gateway) handleCapabilityRevoke(sender *registry.Participant, env *envelope.Envelope) bool {
	var p revokePayload
	if err := env.PayloadAs(&p); err != nil {
		g.replyError(sender, env, fmt.Sprintf("malformed capability/revoke: %v", err), "")
		return true
	}
	if len(env.To) == 0 || p.CapabilityID == "" {
		g.replyError(sender, env, "capability/revoke requires a recipient and capability_id", "")
		return true
	}
	target := env.To[0]
	if err := g.registry.Revoke(target, p.CapabilityID); err != nil {
		g.replyError(sender, env, fmt.Sprintf("revoke: %v", err), "")
		return true
	}
	g.logger.Info("capability revoked", "participant", target, "capability", p.CapabilityID, "revoked_by", sender.ID)
	return false
}

// setPausedFor toggles the paused flag of env's addressed participant (or
// the sender itself, absent an explicit recipient), then lets the envelope
// continue to route so the target's own runtime observes the instruction.
func (g *Gateway) setPausedFor(env *envelope.Envelope, paused bool) {
	target := env.From
	if len(env.To) > 0 {
		target = env.To[0]
	}
	if err := g.registry.SetPaused(target, paused); err != nil {
		g.logger.Warn("set paused failed", "participant", target, "error", err)
	}
}

type streamOpenPayload struct {
	StreamID    string `json:"stream_id"`
	RequestedBy string `json:"requested_by"`
}

type streamClosePayload struct {
	StreamID string `json:"stream_id"`
}

// handleStreamRequest assigns a fresh stream id and announces it, via
// stream/open, to the requester and every addressed peer.
func (g *Gateway) handleStreamRequest(sender *registry.Participant, env *envelope.Envelope) {
	id := g.streams.open(sender.ID, env.To, g.clock())

	open := g.stampSynthetic(&envelope.Envelope{
		Kind:          envelope.KindStreamOpen,
		From:          envelope.GatewayParticipantID,
		CorrelationID: []string{env.ID},
	})
	_ = open.SetPayload(streamOpenPayload{StreamID: id, RequestedBy: sender.ID})

	g.deliver(sender.ID, open.Clone())
	for _, to := range env.To {
		g.deliver(to, open.Clone())
	}
}

// handleStreamClose validates that the closer is party to the stream before
// reclaiming its id. The envelope still falls through to normal routing so
// the other side can react to the close.
func (g *Gateway) handleStreamClose(sender *registry.Participant, env *envelope.Envelope) {
	var p streamClosePayload
	if err := env.PayloadAs(&p); err != nil || p.StreamID == "" {
		g.replyError(sender, env, "malformed stream/close", "")
		return
	}
	if !g.streams.authorizedWriter(p.StreamID, sender.ID) {
		g.replyError(sender, env, fmt.Sprintf("not a party to stream %s", p.StreamID), "")
		return
	}
	g.streams.close(p.StreamID)
}

// replyError sends a system/error to to, correlated to original, with the
// payload shape {message, code?} spec.md §6/§7 define: code is set for the
// taxonomy of errors §7 names (capability_denied, unknown_recipient) and
// left empty for everything else.
func (g *Gateway) replyError(to *registry.Participant, original *envelope.Envelope, message, code string) {
	errEnv := g.stampSynthetic(&envelope.Envelope{
		Kind:          envelope.KindSystemError,
		From:          envelope.GatewayParticipantID,
		To:            []string{to.ID},
		CorrelationID: []string{original.ID},
	})
	_ = errEnv.SetPayload(envelope.ErrorPayload{Message: message, Code: code})
	g.deliver(to.ID, errEnv)
}

func (g *Gateway) recordDecisionAudit(env *envelope.Envelope, participantID, capabilityID, matchedSource string, allowed bool, reason string) {
	if g.audit == nil {
		return
	}
	_ = g.audit.RecordDecision(audit.DecisionRecord{
		EnvelopeID:    env.ID,
		ParticipantID: participantID,
		MatchedSource: matchedSource,
		CapabilityID:  capabilityID,
		Allowed:       allowed,
		Reason:        reason,
	})
}
