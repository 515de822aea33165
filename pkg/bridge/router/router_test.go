package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhp-bridge/bridge/pkg/bridge/message"
	"github.com/qhp-bridge/bridge/pkg/bridge/ratelimit"
	"github.com/qhp-bridge/bridge/pkg/bridge/translate"
	"github.com/qhp-bridge/bridge/pkg/bridge/validate"
)

type captureResponder struct {
	mu     sync.Mutex
	frames []*message.Frame
	fail   bool
}

func (c *captureResponder) Send(f *message.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("responder closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureResponder) all() []*message.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*message.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

type stubForwarder struct {
	mu    sync.Mutex
	sent  []*message.Message
	ready bool
	err   error
}

func (s *stubForwarder) Send(m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *stubForwarder) Ready() bool { return s.ready }

// newTestRouter wires a real Validator: E-side requests carry no
// signature, and the request path must accept them regardless.
func newTestRouter(t *testing.T, fw Forwarder, limits map[string]ratelimit.BucketConfig) *Router {
	t.Helper()
	if limits == nil {
		limits = map[string]ratelimit.BucketConfig{
			"default": {Capacity: 100, RefillPerMinute: 100},
		}
	}
	limiter := ratelimit.New(limits, ratelimit.BucketConfig{Capacity: 1000, RefillPerMinute: 1000}, nil)
	translator := translate.New(map[string]string{
		"compress_data":   "compression",
		"execute_formula": "formula_execution",
	})
	v, err := validate.New([]byte("router-test-key"), nil)
	require.NoError(t, err)
	return New(translator, limiter, v, fw, nil)
}

func requestFrame(id, name string) *message.Frame {
	return &message.Frame{
		Kind: message.KindRequest,
		ID:   id,
		Content: map[string]interface{}{
			"name": name,
			"id":   id,
			"parameters": map[string]interface{}{
				"data": "xyz",
			},
		},
	}
}

func errorPayload(t *testing.T, f *message.Frame) message.ErrorPayload {
	t.Helper()
	var p message.ErrorPayload
	require.NoError(t, remarshal(f.Content, &p))
	return p
}

func TestUnsupportedToolRejectedWithKnownNames(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	r.HandleRequest(requestFrame("req-1", "no_such_tool"), "no_such_tool", resp)

	frames := resp.all()
	require.Len(t, frames, 1)
	assert.Equal(t, message.KindError, frames[0].Kind)
	p := errorPayload(t, frames[0])
	assert.Equal(t, message.ErrUnsupportedTool, p.ErrorType)
	assert.False(t, p.Recoverable)
	assert.Equal(t, []string{"compress_data", "execute_formula"}, p.Suggestions)
	assert.Empty(t, fw.sent, "rejected request must not be forwarded")
}

func TestRateLimitDenialCarriesRemainingQuota(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, map[string]ratelimit.BucketConfig{
		"default": {Capacity: 5, RefillPerMinute: 1},
	})
	resp := &captureResponder{}

	for i := 0; i < 5; i++ {
		r.HandleRequest(requestFrame(fmt.Sprintf("req-%d", i), "compress_data"), "compress_data", resp)
	}
	require.Len(t, fw.sent, 5)

	r.HandleRequest(requestFrame("req-6", "compress_data"), "compress_data", resp)
	frames := resp.all()
	require.Len(t, frames, 1) // the five admitted requests produce no frames until their responses arrive
	last := frames[0]
	assert.Equal(t, message.KindError, last.Kind)
	p := errorPayload(t, last)
	assert.Equal(t, message.ErrRateLimitExceeded, p.ErrorType)
	assert.True(t, p.Recoverable)
	require.NotNil(t, p.Details)
	assert.Contains(t, p.Details, "remainingCategory")
	assert.Contains(t, p.Details, "remainingGlobal")
	assert.Len(t, fw.sent, 5, "denied request must not be forwarded")
}

func TestRequestForwardedWhenPeerReady(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	r.HandleRequest(requestFrame("req-42", "compress_data"), "compress_data", resp)

	require.Len(t, fw.sent, 1)
	m := fw.sent[0]
	assert.Equal(t, "req-42", m.ID)
	assert.Equal(t, "req-42", m.CorrelationID)
	assert.Equal(t, "compression", m.Context.What)
	assert.Empty(t, resp.all(), "no ack until the correlated response arrives")
}

func TestDisconnectedPeerYieldsQueuedAcks(t *testing.T) {
	fw := &stubForwarder{ready: false}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	for _, id := range []string{"r1", "r2", "r3"} {
		r.HandleRequest(requestFrame(id, "compress_data"), "compress_data", resp)
	}

	frames := resp.all()
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, message.KindResponse, f.Kind)
		var ack map[string]interface{}
		require.NoError(t, remarshal(f.Content, &ack))
		assert.Equal(t, "queued", ack["status"])
		assert.Equal(t, fmt.Sprintf("r%d", i+1), f.ID)
	}
	// the forwarder (whose queue stands in for the durable queue here)
	// received all three in order
	require.Len(t, fw.sent, 3)
	for i, m := range fw.sent {
		assert.Equal(t, fmt.Sprintf("r%d", i+1), m.ID)
	}
}

func TestResponseCorrelationDeliversExactlyOnce(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	r.HandleRequest(requestFrame("req-42", "compress_data"), "compress_data", resp)
	require.Len(t, fw.sent, 1)

	reply := &message.Message{
		ID:            message.NewID(),
		Kind:          message.KindResponse,
		Payload:       map[string]interface{}{"ok": true},
		CorrelationID: "req-42",
		Context: message.Context{
			Who: "I", What: "compression", When: time.Now(),
			Where: "internal", Why: "test", How: "bridge", Extent: "single",
		},
	}
	r.HandleResponse(reply, "1.0")

	frames := resp.all()
	require.Len(t, frames, 1)
	assert.Equal(t, message.KindResponse, frames[0].Kind)
	assert.Equal(t, "req-42", frames[0].ID)
	var ext translate.ExternalResponse
	require.NoError(t, remarshal(frames[0].Content, &ext))
	result, ok := ext.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, "1.0", ext.ProtocolVersion)
	assert.Equal(t, "I", ext.Metadata["who"])

	// a second reply with the same correlation id is dropped
	r.HandleResponse(reply, "1.0")
	assert.Len(t, resp.all(), 1)
}

func TestUnmatchedResponseBroadcastToMonitors(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	mon := &captureResponder{}
	r.AddMonitor("mon-1", mon)

	r.HandleResponse(&message.Message{
		ID:            message.NewID(),
		Kind:          message.KindResponse,
		Payload:       "stray",
		CorrelationID: "never-asked",
		Context:       message.Context{Who: "I", What: "x", When: time.Now()},
	}, "1.0")

	assert.Len(t, mon.all(), 1)

	r.RemoveMonitor("mon-1")
	r.HandleResponse(&message.Message{
		ID:            message.NewID(),
		Kind:          message.KindResponse,
		CorrelationID: "never-asked-2",
		Context:       message.Context{Who: "I", What: "x", When: time.Now()},
	}, "1.0")
	assert.Len(t, mon.all(), 1)
}

func TestMonitorFailureDoesNotBlockMainPath(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	r.AddMonitor("dead", &captureResponder{fail: true})
	live := &captureResponder{}
	r.AddMonitor("live", live)

	r.HandleResponse(&message.Message{
		ID:            message.NewID(),
		Kind:          message.KindResponse,
		CorrelationID: "unmatched",
		Context:       message.Context{Who: "I", What: "x", When: time.Now()},
	}, "1.0")

	assert.Len(t, live.all(), 1)
}

func TestSweepDeadlinesTimesOutPendingRequests(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil).WithRequestTimeout(10 * time.Millisecond)
	resp := &captureResponder{}

	r.HandleRequest(requestFrame("req-99", "compress_data"), "compress_data", resp)
	require.Empty(t, resp.all())

	time.Sleep(20 * time.Millisecond)
	r.SweepDeadlines()

	frames := resp.all()
	require.Len(t, frames, 1)
	p := errorPayload(t, frames[0])
	assert.Equal(t, message.ErrTimeout, p.ErrorType)
	assert.True(t, p.Recoverable)

	// a late response matching the swept id is dropped
	r.HandleResponse(&message.Message{
		ID:            message.NewID(),
		Kind:          message.KindResponse,
		CorrelationID: "req-99",
		Context:       message.Context{Who: "I", What: "x", When: time.Now()},
	}, "1.0")
	assert.Len(t, resp.all(), 1)
}

func TestSweepLeavesUnexpiredRequests(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	r.HandleRequest(requestFrame("req-1", "compress_data"), "compress_data", resp)
	r.SweepDeadlines()
	assert.Empty(t, resp.all())
}

func TestForwardFailureReturnsCommunicationError(t *testing.T) {
	fw := &stubForwarder{ready: true, err: fmt.Errorf("wire down")}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	r.HandleRequest(requestFrame("req-1", "compress_data"), "compress_data", resp)

	frames := resp.all()
	require.Len(t, frames, 1)
	p := errorPayload(t, frames[0])
	assert.Equal(t, message.ErrCommunicationFailure, p.ErrorType)
	assert.True(t, p.Recoverable)

	// the pending entry was rolled back; a late matching response is unmatched
	// and a sweep finds nothing to time out
	r.HandleResponse(&message.Message{
		ID:            message.NewID(),
		Kind:          message.KindResponse,
		CorrelationID: "req-1",
		Context:       message.Context{Who: "I", What: "x", When: time.Now()},
	}, "1.0")
	r.SweepDeadlines()
	assert.Len(t, resp.all(), 1)
}

func TestInjectionAttemptRejected(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	f := &message.Frame{
		Kind: message.KindRequest,
		ID:   "req-evil",
		Content: map[string]interface{}{
			"name": "compress_data",
			"id":   "req-evil",
			"parameters": map[string]interface{}{
				"data": "<script>alert(1)</script>",
			},
		},
	}
	r.HandleRequest(f, "compress_data", resp)

	frames := resp.all()
	require.Len(t, frames, 1)
	p := errorPayload(t, frames[0])
	assert.Equal(t, message.ErrValidationFailure, p.ErrorType)
	assert.Empty(t, fw.sent, "rejected request must not be forwarded")
}

func TestMalformedRequestPayloadRejected(t *testing.T) {
	fw := &stubForwarder{ready: true}
	r := newTestRouter(t, fw, nil)
	resp := &captureResponder{}

	f := &message.Frame{Kind: message.KindRequest, ID: "req-1", Content: "not-an-object"}
	r.HandleRequest(f, "compress_data", resp)

	frames := resp.all()
	require.Len(t, frames, 1)
	p := errorPayload(t, frames[0])
	assert.Equal(t, message.ErrInvalidJSON, p.ErrorType)
}
