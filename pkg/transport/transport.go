// Package transport implements the channel adapters a participant can use
// to exchange envelopes with the gateway: a bidirectional WebSocket-like
// channel, one-shot HTTP injection, and a framed child-process stdio pipe.
package transport

import "github.com/mindburn-labs/mew-gateway/pkg/envelope"

// Channel is a bidirectional envelope transport. Implementations satisfy
// registry.Sender (Send) and additionally expose an inbound stream and a
// lifecycle Close.
type Channel interface {
	// Send delivers env to the remote end. It must be safe to call
	// concurrently with Inbound's consumption and with Close.
	Send(env *envelope.Envelope) error

	// Inbound returns the channel of envelopes received from the remote
	// end. It is closed when the transport is closed or the remote end
	// disconnects.
	Inbound() <-chan *envelope.Envelope

	// Close shuts the channel down, releasing any underlying connection
	// or process. Safe to call more than once.
	Close() error
}
