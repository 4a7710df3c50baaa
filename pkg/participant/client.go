// Package participant implements the client-side runtime a space member
// uses to speak the gateway protocol: completing the join handshake,
// sending and correlating envelopes, dispatching MCP tool calls, and
// reacting to lifecycle control envelopes.
package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/transport"
)

// Config carries the identity and timing knobs a Client needs to join a
// space and correlate requests.
type Config struct {
	Space          string
	Token          string
	ParticipantID  string
	JoinTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig mirrors the gateway's own default timeouts so a participant
// built with zero-value Config still behaves reasonably.
func DefaultConfig() Config {
	return Config{
		JoinTimeout:    15 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Welcome is the decoded payload of the system/welcome envelope the gateway
// sends back once a join succeeds.
type Welcome struct {
	Capabilities []map[string]any `json:"capabilities"`
	Participants []RosterEntry    `json:"participants"`
}

// RosterEntry is one other participant's public roster summary.
type RosterEntry struct {
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
}

// Client owns one joined connection to a gateway. It pumps the transport's
// inbound stream into a dispatch loop, handing each envelope to registered
// handlers and resolving any pending correlated wait.
type Client struct {
	cfg Config
	ch  transport.Channel

	mu      sync.Mutex
	waiters map[string]chan *envelope.Envelope // keyed by correlation id
	handler EnvelopeHandler

	closeOnce sync.Once
	done      chan struct{}
}

// EnvelopeHandler is invoked for every inbound envelope that no pending
// correlated wait claims. Implementations must not block.
type EnvelopeHandler func(env *envelope.Envelope)

// Join performs the system/join handshake over ch: sends the join frame,
// waits for system/welcome (or system/error), and on success starts the
// dispatch loop. ctx bounds the handshake only; the returned Client's
// dispatch loop runs until Close.
func Join(ctx context.Context, cfg Config, ch transport.Channel, handler EnvelopeHandler) (*Client, *Welcome, error) {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}
	joinCtx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
	defer cancel()

	joinEnv := &envelope.Envelope{
		Protocol: envelope.ProtocolVersion,
		ID:       uuid.NewString(),
		TS:       time.Now().UTC(),
		Kind:     envelope.KindSystemJoin,
		From:     cfg.ParticipantID,
	}
	if err := joinEnv.SetPayload(map[string]any{
		"space":         cfg.Space,
		"token":         cfg.Token,
		"participantId": cfg.ParticipantID,
	}); err != nil {
		return nil, nil, fmt.Errorf("participant: join: encode payload: %w", err)
	}
	if err := ch.Send(joinEnv); err != nil {
		return nil, nil, fmt.Errorf("participant: join: send: %w", err)
	}

	var reply *envelope.Envelope
	select {
	case <-joinCtx.Done():
		return nil, nil, fmt.Errorf("participant: join: %w", joinCtx.Err())
	case env, ok := <-ch.Inbound():
		if !ok {
			return nil, nil, fmt.Errorf("participant: join: channel closed before reply")
		}
		reply = env
	}

	if reply.Kind == envelope.KindSystemError {
		var body envelope.ErrorPayload
		_ = reply.PayloadAs(&body)
		return nil, nil, fmt.Errorf("participant: join rejected: %s", body.Message)
	}
	if reply.Kind != envelope.KindSystemWelcome {
		return nil, nil, fmt.Errorf("participant: join: unexpected reply kind %q", reply.Kind)
	}

	var welcome Welcome
	if err := reply.PayloadAs(&welcome); err != nil {
		return nil, nil, fmt.Errorf("participant: join: decode welcome: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		ch:      ch,
		waiters: make(map[string]chan *envelope.Envelope),
		handler: handler,
		done:    make(chan struct{}),
	}
	go c.dispatchLoop()

	return c, &welcome, nil
}

// dispatchLoop is the sole reader of the underlying channel's inbound
// stream; it hands every envelope either to a waiting correlated request or
// to the registered handler.
func (c *Client) dispatchLoop() {
	defer close(c.done)
	for env := range c.ch.Inbound() {
		if c.resolveWaiter(env) {
			continue
		}
		if c.handler != nil {
			c.handler(env)
		}
	}
}

func (c *Client) resolveWaiter(env *envelope.Envelope) bool {
	for _, id := range env.CorrelationID {
		c.mu.Lock()
		ch, ok := c.waiters[id]
		if ok {
			delete(c.waiters, id)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			return true
		}
	}
	return false
}

// Send stamps a fresh id (if unset) and protocol/ts and delivers env over
// the underlying channel.
func (c *Client) Send(env *envelope.Envelope) error {
	if env.Protocol == "" {
		env.Protocol = envelope.ProtocolVersion
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}
	if env.From == "" {
		env.From = c.cfg.ParticipantID
	}
	return c.ch.Send(env)
}

// Request sends env and waits for a reply correlated to env's id, up to
// Config.RequestTimeout (overridable via ctx's own deadline).
func (c *Client) Request(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	wait := make(chan *envelope.Envelope, 1)
	c.mu.Lock()
	c.waiters[env.ID] = wait
	c.mu.Unlock()

	if err := c.Send(env); err != nil {
		c.mu.Lock()
		delete(c.waiters, env.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("participant: request: send: %w", err)
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case reply := <-wait:
		return reply, nil
	case <-reqCtx.Done():
		c.mu.Lock()
		delete(c.waiters, env.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("participant: request: %w", reqCtx.Err())
	}
}

// Close shuts down the underlying transport and waits for the dispatch
// loop to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ch.Close()
		<-c.done
	})
	return err
}

// ParticipantID returns the id this client joined as.
func (c *Client) ParticipantID() string { return c.cfg.ParticipantID }
