package gateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mindburn-labs/mew-gateway/pkg/audit"
	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

// isControl reports whether an envelope kind is gateway-control traffic
// (joins, capability grants/revokes, lifecycle signals) that must never be
// silently dropped under backpressure — only ordinary message traffic
// (chat, mcp, reasoning, stream payloads) is eligible for eviction.
func isControl(kind envelope.Kind) bool {
	s := string(kind)
	return strings.HasPrefix(s, "system/") ||
		strings.HasPrefix(s, "capability/") ||
		strings.HasPrefix(s, "participant/")
}

// outboundQueue is a bounded, per-recipient backlog of envelopes awaiting
// delivery over that recipient's attached channel. On overflow it evicts
// the oldest non-control entry rather than blocking the router or
// dropping the newest envelope, so one slow participant can't stall
// delivery to everyone else and recent traffic isn't preferentially lost.
type outboundQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*envelope.Envelope
	depth    int
	closed   bool
	recipient string
}

func newOutboundQueue(recipient string, depth int) *outboundQueue {
	q := &outboundQueue{recipient: recipient, depth: depth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends env, evicting the oldest non-control entry if the queue
// is at capacity. It reports the evicted envelope, if any, so the caller
// can audit-log the drop.
func (q *outboundQueue) enqueue(env *envelope.Envelope) (dropped *envelope.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	if len(q.items) >= q.depth {
		for i, existing := range q.items {
			if !isControl(existing.Kind) {
				dropped = existing
				q.items = append(q.items[:i], q.items[i+1:]...)
				break
			}
		}
		if dropped == nil {
			// everything queued is control traffic; the new envelope is
			// the one that gets dropped instead of evicting control state
			if !isControl(env.Kind) {
				return env
			}
		}
	}

	q.items = append(q.items, env)
	q.cond.Signal()
	return dropped
}

// dequeue blocks until an envelope is available or the queue is closed.
func (q *outboundQueue) dequeue() (*envelope.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env, true
}

func (q *outboundQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// deliver starts (or reuses) the dispatcher goroutine for a recipient and
// enqueues env for delivery. An envelope for a recipient that is unknown or
// not connected when the dispatcher reaches it is dropped (see pump); it
// does not wait for a later AttachChannel.
func (g *Gateway) deliver(recipientID string, env *envelope.Envelope) {
	g.outboundMu.Lock()
	q, ok := g.outbound[recipientID]
	if !ok {
		q = newOutboundQueue(recipientID, g.cfg.OutboundQueueDepth)
		g.outbound[recipientID] = q
		go g.pump(recipientID, q)
	}
	g.outboundMu.Unlock()

	if dropped := q.enqueue(env); dropped != nil {
		g.metrics.recordDropped()
		g.recordEnvelopeAudit(audit.EnvelopeDropped, dropped, recipientID, "outbound queue full")
	}
}

// pump drains q, delivering to whichever sender is currently attached to
// recipientID. If the recipient is unknown or has no sender attached, the
// envelope is dropped, audited, and reported to its sender as
// unknown_recipient rather than held for a later reconnect.
func (g *Gateway) pump(recipientID string, q *outboundQueue) {
	for {
		env, ok := q.dequeue()
		if !ok {
			return
		}

		p, err := g.registry.Get(recipientID)
		if err != nil || !p.Connected() {
			// Recipient vanished or isn't connected; re-enqueue isn't
			// possible without risking infinite growth, so the envelope
			// is dropped, audited, and reported back to its sender as a
			// routing error per spec.md §7.
			g.metrics.recordDropped()
			g.recordEnvelopeAudit(audit.EnvelopeDropped, env, recipientID, "recipient not connected")
			g.notifyUnknownRecipient(env, recipientID)
			continue
		}

		if err := g.sendVia(p, env); err != nil {
			g.logger.Warn("delivery failed", "recipient", recipientID, "envelope", env.ID, "error", err)
			g.recordEnvelopeAudit(audit.EnvelopeRejected, env, recipientID, err.Error())
			continue
		}

		g.metrics.recordDelivered()
		g.recordEnvelopeAudit(audit.EnvelopeDelivered, env, recipientID, "")
	}
}

// notifyUnknownRecipient replies to env's sender with a system/error whose
// code is unknown_recipient once recipientID turns out to be unknown or
// unreachable. System/error envelopes never trigger another system/error,
// so a gateway-originated error that itself can't be delivered doesn't
// spawn an unbounded chain.
func (g *Gateway) notifyUnknownRecipient(env *envelope.Envelope, recipientID string) {
	if env.Kind == envelope.KindSystemError {
		return
	}
	sender, err := g.registry.Get(env.From)
	if err != nil {
		return
	}
	g.replyError(sender, env, fmt.Sprintf("recipient %q is unknown or not connected", recipientID), envelope.ErrorCodeUnknownRecipient)
}

func (g *Gateway) sendVia(p *registry.Participant, env *envelope.Envelope) error {
	sender := p.Sender()
	if sender == nil {
		return fmt.Errorf("gateway: %w", ErrNotConnected)
	}
	return sender.Send(env)
}

func (g *Gateway) recordEnvelopeAudit(event audit.EnvelopeEvent, env *envelope.Envelope, to, reason string) {
	if g.audit == nil {
		return
	}
	_ = g.audit.RecordEnvelope(audit.EnvelopeRecord{
		Event:      event,
		EnvelopeID: env.ID,
		From:       env.From,
		To:         to,
		Kind:       string(env.Kind),
		Reason:     reason,
	})
}
