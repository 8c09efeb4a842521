package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/domain"
	apperrors "github.com/pscheid92/deskpulse/internal/platform/errors"
)

// RateLimiter is consulted before every dispatch.
type RateLimiter interface {
	IsAllowed(connectionID string) bool
	ShouldDisconnect(connectionID string) bool
	RetryAfter(connectionID string) time.Duration
}

type OutcomeKind int

const (
	// OutcomeOK means the handler succeeded.
	OutcomeOK OutcomeKind = iota
	// OutcomeRejected is a well-formed request the server refused
	// (authorization, missing entity, upstream failure).
	OutcomeRejected
	// OutcomeProtocolError is malformed input: bad JSON, missing type or
	// fields, unknown type.
	OutcomeProtocolError
	OutcomeRateLimited
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRejected:
		return "rejected"
	case OutcomeProtocolError:
		return "protocol_error"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Outcome is the result of routing one inbound frame. Response is always
// set and must be sent to the client.
type Outcome struct {
	Kind     OutcomeKind
	Response domain.Envelope
	// Disconnect asks the connection manager to terminate the connection
	// after sending Response.
	Disconnect bool
}

// Router dispatches inbound envelopes by type using a table built once at
// construction.
type Router struct {
	handlers map[string]Handler
	limiter  RateLimiter
	clock    clockwork.Clock
}

// NewRouter panics when two handlers claim the same type.
func NewRouter(limiter RateLimiter, clock clockwork.Clock, handlers ...Handler) *Router {
	table := make(map[string]Handler)
	for _, h := range handlers {
		for _, t := range h.SupportedTypes() {
			if _, dup := table[t]; dup {
				panic(fmt.Sprintf("protocol: message type %q registered twice", t))
			}
			table[t] = h
		}
	}
	return &Router{handlers: table, limiter: limiter, clock: clock}
}

// Types returns the sorted set of routable request types.
func (r *Router) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Route rate-limits, parses and dispatches one raw frame from s.
func (r *Router) Route(ctx context.Context, s Session, raw []byte) Outcome {
	if !r.limiter.IsAllowed(s.ID()) {
		env, _ := parseInbound(raw)
		resp := errorEnvelope(env.Type, "rate limit exceeded", string(apperrors.TypeRateLimited))
		if wait := r.limiter.RetryAfter(s.ID()); wait > 0 {
			resp.Data["retry_after_ms"] = wait.Milliseconds()
		}
		return r.outcome(OutcomeRateLimited, resp, env.RequestID, r.limiter.ShouldDisconnect(s.ID()))
	}

	env, reason := parseInbound(raw)
	if reason != "" {
		return r.outcome(OutcomeProtocolError, errorEnvelope(env.Type, reason, string(apperrors.TypeValidation)), env.RequestID, false)
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		resp := errorEnvelope(env.Type, "unknown message type: "+env.Type, domain.CodeUnknownMessageType)
		return r.outcome(OutcomeProtocolError, resp, env.RequestID, false)
	}

	resp, err := h.Handle(ctx, s, env)
	if err != nil {
		kind, errResp := r.handlerError(ctx, env, err)
		return r.outcome(kind, errResp, env.RequestID, false)
	}
	return r.outcome(OutcomeOK, resp, env.RequestID, false)
}

func (r *Router) handlerError(ctx context.Context, env domain.Envelope, err error) (OutcomeKind, domain.Envelope) {
	se := apperrors.AsStructuredError(err)

	reason := se.Message
	if !se.ClientVisible() {
		slog.ErrorContext(ctx, "Handler failed", "type", env.Type, "error", err)
		reason = "internal error"
	}

	kind := OutcomeRejected
	if se.Type == apperrors.TypeValidation {
		kind = OutcomeProtocolError
	}
	return kind, errorEnvelope(env.Type, reason, string(se.Type))
}

func (r *Router) outcome(kind OutcomeKind, resp domain.Envelope, requestID string, disconnect bool) Outcome {
	return Outcome{
		Kind:       kind,
		Response:   resp.WithRequestID(requestID).Stamped(r.clock.Now()),
		Disconnect: disconnect,
	}
}

// acknowledgedTypes get success/error fields on their responses.
var acknowledgedTypes = map[string]bool{
	domain.TypeSubscribeTicket:   true,
	domain.TypeUnsubscribeTicket: true,
	domain.TypeSubscribeJob:      true,
	domain.TypeUnsubscribeJob:    true,
}

func errorEnvelope(originalType, reason, code string) domain.Envelope {
	data := map[string]any{"reason": reason}
	if originalType != "" {
		data["original_type"] = originalType
	}
	env := domain.NewEnvelope(domain.TypeError, data)
	env.Code = code
	if acknowledgedTypes[originalType] {
		env = env.WithSuccess(false, reason)
	}
	return env
}

// parseInbound decodes a client frame leniently so request_id and type can
// be recovered from frames that are otherwise invalid. A non-empty reason
// means the frame must be rejected.
func parseInbound(raw []byte) (domain.Envelope, string) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return domain.Envelope{}, "malformed message: expected a JSON object"
	}

	var env domain.Envelope
	switch id := fields["request_id"].(type) {
	case string:
		env.RequestID = id
	case json.Number:
		env.RequestID = id.String()
	}

	msgType, _ := fields["type"].(string)
	env.Type = strings.TrimSpace(msgType)
	if env.Type == "" {
		return env, "missing required field: type"
	}

	switch data := fields["data"].(type) {
	case nil:
		env.Data = map[string]any{}
	case map[string]any:
		env.Data = data
	default:
		return env, "invalid field: data must be an object"
	}
	return env, ""
}
