package gateway

import (
	"context"
	"fmt"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

// Sender is re-exported so callers of Join don't need to import
// pkg/registry just to satisfy the parameter type.
type Sender = registry.Sender

// Inbound is the minimal shape Join needs from a transport channel: an
// inbound stream of envelopes to route. Accepting an interface rather
// than *transport.Channel keeps this package transport-agnostic.
type Inbound interface {
	Inbound() <-chan *envelope.Envelope
}

// Channel is what a connecting participant presents: something that can
// both receive deliveries (Sender) and produce inbound traffic (Inbound).
type Channel interface {
	Sender
	Inbound
}

type joinPayload struct {
	Space         string `json:"space"`
	Token         string `json:"token"`
	ParticipantID string `json:"participantId"`
}

type rosterEntry struct {
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
}

type welcomePayload struct {
	Capabilities matcher.Set   `json:"capabilities"`
	Participants []rosterEntry `json:"participants"`
}

// Join completes the join handshake: the first frame off ch must be a
// system/join envelope naming this gateway's space, a join token, and the
// claimed participant id. On success it attaches the channel, replies with
// system/welcome, announces the new participant to the rest of the roster,
// and starts routing its subsequent inbound traffic. ctx bounds how long
// the handshake may take; callers should derive it with Config.JoinTimeout.
func (g *Gateway) Join(ctx context.Context, ch Channel) (*registry.Participant, error) {
	var frame *envelope.Envelope
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gateway: join: %w", ctx.Err())
	case f, ok := <-ch.Inbound():
		if !ok {
			return nil, fmt.Errorf("gateway: join: channel closed before join frame")
		}
		frame = f
	}

	if frame.Kind != envelope.KindSystemJoin {
		g.rejectJoin(ch, "first frame must be system/join")
		return nil, fmt.Errorf("gateway: join: unexpected first frame kind %q", frame.Kind)
	}

	var join joinPayload
	if err := frame.PayloadAs(&join); err != nil {
		g.rejectJoin(ch, "malformed join payload")
		return nil, fmt.Errorf("gateway: join: malformed payload: %w", err)
	}

	if join.Space != g.cfg.Space {
		g.rejectJoin(ch, "invalid space")
		return nil, fmt.Errorf("gateway: join: invalid space %q", join.Space)
	}
	if join.Token == "" {
		g.rejectJoin(ch, "authentication required")
		return nil, fmt.Errorf("gateway: join: missing token")
	}

	p, err := g.resolveJoinToken(join.Token, join.ParticipantID)
	if err != nil {
		g.rejectJoin(ch, "authentication failed")
		return nil, err
	}

	if err := g.registry.AttachChannel(p.ID, ch); err != nil {
		return nil, fmt.Errorf("gateway: join: attach channel: %w", err)
	}

	g.logger.Info("participant joined", "participant", p.ID, "kind", p.Kind)

	welcome := g.stampSynthetic(&envelope.Envelope{
		Kind: envelope.KindSystemWelcome,
		From: envelope.GatewayParticipantID,
		To:   []string{p.ID},
	})
	_ = welcome.SetPayload(welcomePayload{Capabilities: p.AllCapabilities(), Participants: g.rosterSummary()})
	g.deliver(p.ID, welcome)

	g.broadcastSystem(envelope.KindSystemParticipantJoin, p.ID, map[string]any{"participant_id": p.ID, "kind": string(p.Kind)})

	go g.routeInbound(p.ID, ch)

	return g.registry.Get(p.ID)
}

// resolveJoinToken authenticates a join token. When a token manager is
// configured it tries JWT verification first — a valid, space-matching
// token resolves straight to the claimed participant's roster entry
// without an opaque-token lookup. It falls through to the registry's
// ResolveByToken when no manager is configured, verification fails, or
// the claims name a different participant/space than the join frame.
func (g *Gateway) resolveJoinToken(token, claimedID string) (*registry.Participant, error) {
	if g.tokens != nil {
		if claims, err := g.tokens.VerifyToken(token); err == nil &&
			claims.ParticipantID == claimedID &&
			(claims.Space == "" || claims.Space == g.cfg.Space) {
			return g.registry.Get(claims.ParticipantID)
		}
	}
	p, err := g.registry.ResolveByToken(token)
	if err != nil || p.ID != claimedID {
		return nil, fmt.Errorf("gateway: join: authentication failed for %q", claimedID)
	}
	return p, nil
}

// rejectJoin sends a system/error directly over ch — the participant isn't
// registered yet, so this bypasses the outbound queue entirely — then lets
// the caller close the connection.
func (g *Gateway) rejectJoin(ch Channel, reason string) {
	errEnv := g.stampSynthetic(&envelope.Envelope{
		Kind: envelope.KindSystemError,
		From: envelope.GatewayParticipantID,
	})
	_ = errEnv.SetPayload(envelope.ErrorPayload{Message: reason})
	if err := ch.Send(errEnv); err != nil {
		g.logger.Debug("join rejection send failed", "error", err)
	}
}

func (g *Gateway) rosterSummary() []rosterEntry {
	connected := g.registry.Connected()
	out := make([]rosterEntry, 0, len(connected))
	for _, p := range connected {
		out = append(out, rosterEntry{ParticipantID: p.ID, Kind: string(p.Kind)})
	}
	return out
}

// Leave detaches a participant's channel, closes every stream it owns or
// receives, and announces its departure. The participant's roster entry and
// capabilities are preserved for a subsequent Join with the same id;
// envelopes addressed to it while it is disconnected are dropped by the
// outbound pump, not held for the reconnect.
func (g *Gateway) Leave(participantID string) {
	if err := g.registry.DetachChannel(participantID); err != nil {
		g.logger.Warn("leave: detach failed", "participant", participantID, "error", err)
		return
	}
	g.streams.closeAllFor(participantID)
	g.logger.Info("participant left", "participant", participantID)
	g.broadcastSystem(envelope.KindSystemParticipantLeave, participantID, map[string]any{"participant_id": participantID})
}

func (g *Gateway) routeInbound(participantID string, ch Channel) {
	defer g.Leave(participantID)
	for env := range ch.Inbound() {
		env.From = participantID
		g.Ingest(env)
	}
}

// broadcastSystem emits a gateway-originated envelope to every currently
// connected participant except excludeID.
func (g *Gateway) broadcastSystem(kind envelope.Kind, excludeID string, payload map[string]any) {
	env := g.stampSynthetic(&envelope.Envelope{
		Kind: kind,
		From: envelope.GatewayParticipantID,
	})
	_ = env.SetPayload(payload)

	for _, p := range g.registry.Connected() {
		if p.ID == excludeID {
			continue
		}
		g.deliver(p.ID, env.Clone())
	}
}
