package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// InjectFunc handles one envelope injected by a participant that has no
// standing connection — it decides whether the envelope is accepted and
// returns the outcome to report back over HTTP.
type InjectFunc func(participantID string, env *envelope.Envelope) error

// HTTPInjector implements the one-shot "POST /participants/{id}/messages"
// surface: a participant without a live WebSocket or stdio channel can
// still send envelopes by posting them one at a time. There is no
// standing inbound stream on this adapter — delivery to that participant
// still has to happen over whatever channel it does have attached, or be
// polled for separately; this adapter only covers the inbound half.
type HTTPInjector struct {
	inject InjectFunc
	codec  *envelope.Codec
	logger *slog.Logger
}

// NewHTTPInjector builds an injector that calls fn for each accepted
// envelope.
func NewHTTPInjector(fn InjectFunc, logger *slog.Logger) *HTTPInjector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInjector{inject: fn, codec: envelope.NewCodec(), logger: logger.With("component", "transport.http")}
}

// Handle serves one injection request. The path is expected to be
// "/participants/{id}/messages"; Handler (below) does the routing, and
// Handle assumes participantID has already been extracted.
func (h *HTTPInjector) Handle(participantID string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	env, result := h.codec.Decode(raw)
	if !result.Valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(result)
		return
	}

	if err := h.inject(participantID, env); err != nil {
		h.logger.Warn("injection rejected", "participant", participantID, "error", err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Handler returns an http.Handler that extracts the participant id from a
// path of the form prefix+"{id}/messages" and delegates to Handle. prefix
// must end in "/" (e.g. "/participants/").
func (h *HTTPInjector) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		id, suffix, ok := strings.Cut(rest, "/")
		if !ok || suffix != "messages" || id == "" {
			http.NotFound(w, r)
			return
		}
		h.Handle(id, w, r)
	})
}
