package participant

import (
	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// LifecycleHooks are the callbacks a participant's runtime supplies to
// react to gateway-forwarded control envelopes. Any nil hook is a no-op
// for that event.
type LifecycleHooks struct {
	OnPause         func()
	OnResume        func()
	OnClear         func()
	OnRestart       func()
	OnShutdown      func()
	OnCompact       func()
	OnRequestStatus func() map[string]any
}

// LifecycleController dispatches participant/* control envelopes to the
// hooks supplied at construction, replying to participant/request-status
// with participant/status and to participant/compact with
// participant/compact-done.
type LifecycleController struct {
	client *Client
	hooks  LifecycleHooks
}

// NewLifecycleController wires hooks to react to control envelopes
// arriving over client.
func NewLifecycleController(client *Client, hooks LifecycleHooks) *LifecycleController {
	return &LifecycleController{client: client, hooks: hooks}
}

// Handle should be invoked from the client's EnvelopeHandler for every
// inbound envelope; it reports whether it recognized and acted on kind.
func (c *LifecycleController) Handle(env *envelope.Envelope) bool {
	switch env.Kind {
	case envelope.KindParticipantPause:
		c.invoke(c.hooks.OnPause)
	case envelope.KindParticipantResume:
		c.invoke(c.hooks.OnResume)
	case envelope.KindParticipantClear:
		c.invoke(c.hooks.OnClear)
	case envelope.KindParticipantRestart:
		c.invoke(c.hooks.OnRestart)
	case envelope.KindParticipantShutdown:
		c.invoke(c.hooks.OnShutdown)
	case envelope.KindParticipantCompact:
		c.invoke(c.hooks.OnCompact)
		c.replyCompactDone(env)
	case envelope.KindParticipantRequestStatus:
		c.replyStatus(env)
	default:
		return false
	}
	return true
}

func (c *LifecycleController) invoke(fn func()) {
	if fn != nil {
		fn()
	}
}

func (c *LifecycleController) replyCompactDone(original *envelope.Envelope) {
	reply := &envelope.Envelope{
		Kind:          envelope.KindParticipantCompactDone,
		To:            []string{original.From},
		CorrelationID: []string{original.ID},
	}
	_ = c.client.Send(reply)
}

func (c *LifecycleController) replyStatus(original *envelope.Envelope) {
	status := map[string]any{"state": "running"}
	if c.hooks.OnRequestStatus != nil {
		status = c.hooks.OnRequestStatus()
	}
	reply := &envelope.Envelope{
		Kind:          envelope.KindParticipantStatus,
		To:            []string{original.From},
		CorrelationID: []string{original.ID},
	}
	_ = reply.SetPayload(status)
	_ = c.client.Send(reply)
}
