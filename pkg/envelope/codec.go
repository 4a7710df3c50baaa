package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationError describes a single structural defect found while decoding
// or validating an envelope. Validation accumulates every defect instead of
// stopping at the first one, so a caller can report the complete picture
// back to a misbehaving participant in one system/error envelope.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// ValidationResult is the outcome of validating an envelope.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Codec encodes and decodes envelopes, enforcing the wire contract: a known
// protocol tag, a non-empty id and kind, and correlation_id only ever a list.
type Codec struct {
	// MaxBytes bounds the size of a single encoded envelope accepted by
	// Decode. Zero means unbounded.
	MaxBytes int
	// clock allows deterministic tests to control generated timestamps.
	clock func() time.Time
}

// NewCodec returns a codec with no size limit and the system clock.
func NewCodec() *Codec {
	return &Codec{clock: time.Now}
}

// WithClock overrides the codec's clock, for deterministic tests.
func (c *Codec) WithClock(clock func() time.Time) *Codec {
	c.clock = clock
	return c
}

// Decode parses raw wire bytes into an Envelope and validates it
// structurally. It returns the envelope (possibly nil if JSON parsing
// itself failed) alongside a ValidationResult; callers should always check
// result.Valid before trusting the returned envelope's semantics.
func (c *Codec) Decode(raw []byte) (*Envelope, *ValidationResult) {
	result := &ValidationResult{Valid: true}

	if c.MaxBytes > 0 && len(raw) > c.MaxBytes {
		c.addError(result, "", "TOO_LARGE", fmt.Sprintf("envelope exceeds %d bytes", c.MaxBytes))
		return nil, result
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.addError(result, "", "MALFORMED_JSON", err.Error())
		return nil, result
	}

	c.validate(&env, result)
	if !result.Valid {
		return &env, result
	}
	return &env, result
}

// Encode serializes an envelope, stamping id/ts/protocol defaults if they
// are unset. It does not re-validate the caller's supplied fields beyond
// filling these defaults.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	if env.Protocol == "" {
		env.Protocol = ProtocolVersion
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.TS.IsZero() {
		env.TS = c.clock().UTC()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return raw, nil
}

func (c *Codec) validate(env *Envelope, result *ValidationResult) {
	if env.Protocol == "" {
		c.addError(result, "protocol", "REQUIRED", "protocol is required")
	} else if env.Protocol != ProtocolVersion {
		c.addError(result, "protocol", "UNSUPPORTED_VERSION",
			fmt.Sprintf("unsupported protocol %q, expected %q", env.Protocol, ProtocolVersion))
	}

	if env.ID == "" {
		c.addError(result, "id", "REQUIRED", "id is required")
	}

	if env.Kind == "" {
		c.addError(result, "kind", "REQUIRED", "kind is required")
	}

	for _, target := range env.To {
		if target == "" {
			c.addError(result, "to", "EMPTY_RECIPIENT", "to entries must not be empty strings")
			break
		}
	}

	if len(env.Payload) > 0 && !json.Valid(env.Payload) {
		c.addError(result, "payload", "MALFORMED_JSON", "payload is not valid JSON")
	}
}

func (c *Codec) addError(result *ValidationResult, field, code, message string) {
	result.Valid = false
	result.Errors = append(result.Errors, ValidationError{Field: field, Code: code, Message: message})
}
