// Package gateway implements the Gateway Core: the router that accepts
// joined participants, enforces the capability matcher against every
// envelope, fans accepted envelopes out to their recipients, and records
// both outcomes to the audit log.
package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/mew-gateway/pkg/audit"
	"github.com/mindburn-labs/mew-gateway/pkg/backpressure"
	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/identity"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/mindburn-labs/mew-gateway/pkg/observability"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
)

// ErrUnknownParticipant is returned when an envelope names a recipient
// that isn't on the roster.
var ErrUnknownParticipant = errors.New("gateway: unknown participant")

// ErrCapabilityDenied is returned when a sender has no capability
// authorizing a given envelope.
var ErrCapabilityDenied = errors.New("gateway: capability denied")

// ErrNotConnected is returned when attempting to route to a participant
// with no attached channel.
var ErrNotConnected = errors.New("gateway: participant not connected")

// Config carries the gateway's operational knobs — see pkg/config for how
// these are populated from the environment.
type Config struct {
	// Space is this gateway's space id; a system/join frame naming any
	// other space is rejected.
	Space string
	// JoinTimeout bounds how long a freshly-accepted connection has to
	// complete the join handshake before it is dropped.
	JoinTimeout time.Duration
	// RequestTimeout is the default used by the participant runtime for
	// correlated request/response waits; the gateway itself only needs it
	// to size internal bookkeeping defaults.
	RequestTimeout time.Duration
	// StreamIdleTimeout closes a stream sub-channel that has carried no
	// traffic for this long.
	StreamIdleTimeout time.Duration
	// DedupWindow is how long a (sender, envelope id) pair is remembered
	// to silently drop retransmissions.
	DedupWindow time.Duration
	// OutboundQueueDepth bounds the per-recipient backlog before the
	// oldest non-control envelope is dropped.
	OutboundQueueDepth int
	// RateLimit bounds how many envelopes per minute a single sender may
	// push through Ingest before receiving a rate-limit system/error.
	RateLimit backpressure.BackpressurePolicy
}

// DefaultConfig returns the spec's default timeouts.
func DefaultConfig() Config {
	return Config{
		JoinTimeout:        15 * time.Second,
		RequestTimeout:     30 * time.Second,
		StreamIdleTimeout:  60 * time.Second,
		DedupWindow:        30 * time.Second,
		OutboundQueueDepth: 256,
		RateLimit:          backpressure.BackpressurePolicy{RPM: 600, Burst: 20},
	}
}

// Gateway is the routing core. One Gateway serves one space.
type Gateway struct {
	cfg      Config
	registry registry.Registry
	matcher  *matcher.Matcher
	audit    audit.Logger
	logger   *slog.Logger
	metrics  *Metrics

	dedup   *envelope.DedupWindow
	limiter backpressure.LimiterStore

	// obs and tokens are optional: nil leaves Ingest's per-envelope
	// tracing and Join's JWT path disabled, matching a gateway built
	// without WithObservability/WithTokenManager.
	obs    *observability.Provider
	tokens *identity.TokenManager

	outboundMu sync.Mutex
	outbound   map[string]*outboundQueue

	streams *streamTable

	clock func() time.Time
}

// Option configures optional Gateway behavior that isn't required for
// basic envelope routing: distributed tracing, an external rate-limit
// store, or JWT-based join authentication.
type Option func(*Gateway)

// WithObservability attaches an observability.Provider so Ingest starts a
// real span (and records RED metrics) per envelope, in addition to the
// always-on Metrics counters.
func WithObservability(p *observability.Provider) Option {
	return func(g *Gateway) { g.obs = p }
}

// WithRateLimiter overrides the default in-memory backpressure store —
// typically with a Redis-backed one shared across gateway replicas.
func WithRateLimiter(store backpressure.LimiterStore) Option {
	return func(g *Gateway) { g.limiter = store }
}

// WithTokenManager enables JWT-shaped join tokens alongside the
// registry's opaque bearer tokens: Join tries JWT verification first and
// falls back to ResolveByToken when no manager is configured or
// verification fails.
func WithTokenManager(tm *identity.TokenManager) Option {
	return func(g *Gateway) { g.tokens = tm }
}

// stampSynthetic fills in id/ts/protocol on a gateway-originated envelope,
// which never arrives with an id of its own.
func (g *Gateway) stampSynthetic(env *envelope.Envelope) *envelope.Envelope {
	if env.Protocol == "" {
		env.Protocol = envelope.ProtocolVersion
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return g.stampDefaults(env)
}

// stampDefaults fills in protocol/ts on an inbound envelope. It never
// touches id: a participant-supplied envelope with no id is a protocol
// violation, not a gap to paper over.
func (g *Gateway) stampDefaults(env *envelope.Envelope) *envelope.Envelope {
	if env.Protocol == "" {
		env.Protocol = envelope.ProtocolVersion
	}
	if env.TS.IsZero() {
		env.TS = g.clock().UTC()
	}
	return env
}

// New builds a Gateway over the given roster and matcher, using logger
// for structured diagnostics and auditLogger for the two audit streams.
// opts configures optional behavior (observability, an external rate
// limiter, JWT join tokens); a Gateway built with none still routes
// exactly as before.
func New(cfg Config, reg registry.Registry, m *matcher.Matcher, auditLogger audit.Logger, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		cfg:      cfg,
		registry: reg,
		matcher:  m,
		audit:    auditLogger,
		logger:   logger.With("component", "gateway"),
		dedup:    envelope.NewDedupWindow(cfg.DedupWindow),
		limiter:  backpressure.NewInMemoryLimiterStore(),
		outbound: make(map[string]*outboundQueue),
		clock:    time.Now,
	}
	g.metrics = newMetrics()
	g.streams = newStreamTable(cfg.StreamIdleTimeout, g.logger)
	for _, opt := range opts {
		opt(g)
	}
	return g
}
