// Package router implements the Router: the component that ties together
// validation, rate limiting, context translation, and delivery to the
// I-side PeerConnection for every request arriving from an E-side
// Session, then matches responses back to the Session that asked for them.
package router

import (
	"sync"
	"time"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
	"github.com/qhp-bridge/bridge/pkg/bridge/ratelimit"
	"github.com/qhp-bridge/bridge/pkg/bridge/translate"
	"github.com/qhp-bridge/bridge/pkg/bridge/validate"
)

// DefaultRequestTimeout is how long the Router waits for a correlated
// response before it fails the request with a timeout error.
const DefaultRequestTimeout = 30 * time.Second

// Responder is anything the Router can deliver a response frame to — a
// satisfied by acceptor.Session, kept narrow so this package does not
// depend on acceptor.
type Responder interface {
	Send(f *message.Frame) error
}

// Forwarder is anything the Router can hand an outbound internal message
// to for delivery toward I — satisfied by peer.Connection. Ready reports
// whether a Send would transmit immediately rather than enter the durable
// queue, which decides whether the Session gets a queued acknowledgement.
type Forwarder interface {
	Send(m *message.Message) error
	Ready() bool
}

type pendingRequest struct {
	responder Responder
	requestID string
	toolName  string
	deadline  time.Time
}

// Router is the Router component. It is wired with one Forwarder (the
// I-side PeerConnection) and optionally a set of monitoring Responders
// that receive broadcast copies of unmatched responses.
type Router struct {
	translator *translate.Translator
	limiter    *ratelimit.Limiter
	validator  *validate.Validator
	forwarder  Forwarder
	log        logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest

	monMu      sync.RWMutex
	monitoring map[string]Responder

	requestTimeout time.Duration
}

// New constructs a Router.
func New(t *translate.Translator, rl *ratelimit.Limiter, v *validate.Validator, forwarder Forwarder, log logger.Logger) *Router {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Router{
		translator:     t,
		limiter:        rl,
		validator:      v,
		forwarder:      forwarder,
		log:            log,
		pending:        make(map[string]*pendingRequest),
		monitoring:     make(map[string]Responder),
		requestTimeout: DefaultRequestTimeout,
	}
}

// WithRequestTimeout overrides the default correlation deadline.
func (r *Router) WithRequestTimeout(d time.Duration) *Router {
	r.requestTimeout = d
	return r
}

// AddMonitor registers a Responder that receives broadcast copies of any
// response whose correlation id does not match a pending request.
func (r *Router) AddMonitor(id string, resp Responder) {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	r.monitoring[id] = resp
}

// RemoveMonitor unregisters a monitoring responder.
func (r *Router) RemoveMonitor(id string) {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	delete(r.monitoring, id)
}

// HandleRequest runs the full request path: structural/anti-injection
// validation, rate-limit admission, translation to the internal envelope,
// correlation bookkeeping, and forwarding toward I. Signature and replay
// enforcement live on the peer channel, not here — E-side clients carry
// no signing key. Failures anywhere in the chain produce a structured
// error frame sent back to the responder; they are never forwarded or
// retried.
func (r *Router) HandleRequest(f *message.Frame, toolName string, resp Responder) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.RouterRequestDuration.WithLabelValues("e_to_i").Observe(time.Since(start).Seconds())
		metrics.RouterRequests.WithLabelValues("e_to_i", outcome).Inc()
		metrics.GetGlobalCollector().RecordRouted(outcome == "ok" || outcome == "queued", time.Since(start))
	}()

	if r.validator != nil {
		if err := r.validator.CheckRequest(f); err != nil {
			outcome = "validation_failure"
			r.sendError(resp, f.ID, message.ErrValidationFailure, err.Error(), false)
			return
		}
	}

	if _, known := r.translator.Capability(toolName); !known {
		outcome = "unsupported_tool"
		r.sendErrorWithSuggestions(resp, f.ID, message.ErrUnsupportedTool,
			"unsupported tool: "+toolName, false, r.translator.KnownTools())
		return
	}

	decision := r.limiter.Admit(toolName)
	if !decision.Admitted {
		outcome = "rate_limited"
		r.send(resp, &message.Frame{
			Kind: message.KindError,
			ID:   f.ID,
			Content: message.ErrorPayload{
				Error:       "rate limit exceeded for " + decision.Category,
				ErrorType:   message.ErrRateLimitExceeded,
				Recoverable: true,
				Details: map[string]interface{}{
					"category":          decision.Category,
					"remainingCategory": decision.RemainingCategory,
					"remainingGlobal":   decision.RemainingGlobal,
				},
			},
		})
		return
	}

	var req translate.ExternalRequest
	if err := decodeInto(f.Content, &req); err != nil {
		outcome = "invalid_json"
		r.sendError(resp, f.ID, message.ErrInvalidJSON, "malformed request payload: "+err.Error(), false)
		return
	}
	if req.ID == "" {
		req.ID = f.ID
	}
	if req.Name == "" {
		req.Name = toolName
	}

	internal, err := r.translator.ToInternal(&req)
	if err != nil {
		outcome = "translation_failure"
		r.sendError(resp, f.ID, message.ErrValidationFailure, err.Error(), false)
		return
	}

	r.mu.Lock()
	r.pending[internal.ID] = &pendingRequest{
		responder: resp,
		requestID: internal.ID,
		toolName:  req.Name,
		deadline:  time.Now().Add(r.requestTimeout),
	}
	metrics.RouterPendingRequests.Set(float64(len(r.pending)))
	r.mu.Unlock()

	internal.CorrelationID = internal.ID
	ready := r.forwarder.Ready()
	if err := r.forwarder.Send(internal); err != nil {
		outcome = "forward_failure"
		r.mu.Lock()
		delete(r.pending, internal.ID)
		metrics.RouterPendingRequests.Set(float64(len(r.pending)))
		r.mu.Unlock()
		r.sendError(resp, f.ID, message.ErrCommunicationFailure, "forward to peer failed: "+err.Error(), true)
		return
	}

	// The peer link was down, so Send entered the durable queue; tell the
	// Session its request is accepted for delivery rather than in flight.
	if !ready {
		outcome = "queued"
		r.send(resp, &message.Frame{
			Kind:    message.KindResponse,
			ID:      f.ID,
			Content: map[string]interface{}{"status": "queued", "requestId": internal.ID},
		})
	}
}

// HandleResponse runs the response path for a message arriving from the
// I-side PeerConnection: it looks up the correlation id, translates back
// to the external shape, and delivers to the owning Session. An
// unmatched correlation id is broadcast to monitoring responders and
// otherwise discarded, never treated as an error.
func (r *Router) HandleResponse(m *message.Message, protocolVersion string) {
	corrID := m.CorrelationID
	if corrID == "" {
		corrID = m.ID
	}

	r.mu.Lock()
	p, ok := r.pending[corrID]
	if ok {
		delete(r.pending, corrID)
		metrics.RouterPendingRequests.Set(float64(len(r.pending)))
	}
	r.mu.Unlock()

	ext, err := r.translator.ToExternal(m, protocolVersion)
	if err != nil {
		metrics.RouterRequests.WithLabelValues("i_to_e", "translation_failure").Inc()
		r.log.Error("router: translate response failed", logger.Error(err))
		return
	}

	if !ok {
		metrics.RouterRequests.WithLabelValues("i_to_e", "unmatched").Inc()
		r.broadcast(ext)
		return
	}

	frame := &message.Frame{Kind: message.KindResponse, ID: p.requestID, Content: ext}
	r.sign(frame)
	if err := p.responder.Send(frame); err != nil {
		metrics.RouterRequests.WithLabelValues("i_to_e", "delivery_failure").Inc()
		r.log.Warn("router: deliver response to session failed", logger.Error(err))
		return
	}
	metrics.RouterRequests.WithLabelValues("i_to_e", "ok").Inc()
}

// SweepDeadlines fails any pending request whose deadline has passed with
// a timeout error, called periodically by the Supervisor.
func (r *Router) SweepDeadlines() {
	now := time.Now()
	var expired []*pendingRequest

	r.mu.Lock()
	for id, p := range r.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(r.pending, id)
		}
	}
	metrics.RouterPendingRequests.Set(float64(len(r.pending)))
	r.mu.Unlock()

	for _, p := range expired {
		metrics.RouterCorrelationTimeouts.Inc()
		r.sendError(p.responder, p.requestID, message.ErrTimeout, "no response received within request timeout", true)
	}
}

func (r *Router) broadcast(ext *translate.ExternalResponse) {
	r.monMu.RLock()
	defer r.monMu.RUnlock()
	if len(r.monitoring) == 0 {
		return
	}
	frame := &message.Frame{Kind: message.KindResponse, ID: message.NewID(), Content: ext}
	r.sign(frame)
	for id, resp := range r.monitoring {
		if err := resp.Send(frame); err != nil {
			r.log.Warn("router: broadcast to monitor failed", logger.String("monitor", id), logger.Error(err))
		}
	}
}

func (r *Router) sendError(resp Responder, id string, code message.ErrorType, reason string, recoverable bool) {
	r.sendErrorWithSuggestions(resp, id, code, reason, recoverable, nil)
}

func (r *Router) sendErrorWithSuggestions(resp Responder, id string, code message.ErrorType, reason string, recoverable bool, suggestions []string) {
	metrics.ValidationFailures.WithLabelValues(string(code)).Inc()
	r.send(resp, &message.Frame{
		Kind: message.KindError,
		ID:   id,
		Content: message.ErrorPayload{
			Error:       reason,
			ErrorType:   code,
			Recoverable: recoverable,
			Suggestions: suggestions,
		},
	})
}

// send signs and delivers one frame to a session-side responder; every
// outbound frame leaves with meta.messageId/timestamp/signature attached.
func (r *Router) send(resp Responder, frame *message.Frame) {
	r.sign(frame)
	if err := resp.Send(frame); err != nil {
		r.log.Warn("router: deliver frame to session failed", logger.Error(err))
	}
}

func (r *Router) sign(frame *message.Frame) {
	if r.validator != nil && frame.Meta == nil {
		r.validator.SignOutbound(frame, message.NewID())
	}
}

func decodeInto(v interface{}, out interface{}) error {
	return remarshal(v, out)
}
