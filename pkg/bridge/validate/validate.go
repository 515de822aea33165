// Package validate implements the Validator: structural schema and
// anti-injection checking on every inbound frame, plus HMAC-SHA256
// signature verification with replay detection and outbound signing for
// the authenticated peer channel.
package validate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/qhp-bridge/bridge/internal/logger"
	"github.com/qhp-bridge/bridge/internal/metrics"
	"github.com/qhp-bridge/bridge/pkg/bridge/message"
)

// ReplayCacheSize is the bounded LRU size for the message-id replay table.
const ReplayCacheSize = 1000

// FreshnessWindow rejects frames whose meta.timestamp is older than this.
const FreshnessWindow = 5 * time.Minute

// Content bounds enforced by the anti-injection scan.
const (
	maxContentDepth  = 16
	maxStringLength  = 1 << 16
	maxContentFields = 256
)

// injectionPatterns have no business inside a well-formed tool request;
// any match (case-insensitive) in a content string or key rejects the
// frame.
var injectionPatterns = []string{
	"<script",
	"javascript:",
	"data:text/html",
	"../",
	"..\\",
	"\x00",
	"$(",
	"union select",
	"; drop ",
	"' or '1'='1",
}

// Failure describes why a frame failed validation.
type Failure struct {
	Reason string
	Code   message.ErrorType
}

func (f *Failure) Error() string { return f.Reason }

// Validator performs structural, signature, freshness, and replay checks
// on inbound frames, and signs outbound frames. Safe for concurrent use.
type Validator struct {
	key    []byte
	replay *lru.Cache
	log    logger.Logger
}

// New constructs a Validator with an HMAC key derived from machine/process
// identity (callers pass the derived key; derivation itself is an
// operator/deployment concern outside this package's contract).
func New(key []byte, log logger.Logger) (*Validator, error) {
	cache, err := lru.New(ReplayCacheSize)
	if err != nil {
		return nil, fmt.Errorf("validate: create replay cache: %w", err)
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Validator{key: key, replay: cache, log: log}, nil
}

// CheckRequest runs the structural and anti-injection checks that gate
// requests arriving from E-side clients. Those clients never hold the
// peer channel's signing key, so signature, freshness, and replay
// enforcement do not apply here; they run on the peer boundary via
// CheckInbound.
func (v *Validator) CheckRequest(f *message.Frame) error {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.ValidationDuration.Observe(time.Since(start).Seconds())
		metrics.GetGlobalCollector().RecordValidation(outcome == "ok", time.Since(start))
	}()

	if err := v.checkStructural(f); err != nil {
		outcome = "structural_failure"
		metrics.ValidationFailures.WithLabelValues("structural").Inc()
		return err
	}
	if err := v.checkInjection(f); err != nil {
		outcome = "injection"
		metrics.ValidationFailures.WithLabelValues("injection").Inc()
		v.log.Warn("validate: injection attempt rejected", logger.String("frameId", f.ID))
		return err
	}
	return nil
}

// CheckInbound runs the full peer-boundary pipeline on frame: structural,
// anti-injection, freshness, signature, and replay checks, in that order,
// short-circuiting on first failure.
func (v *Validator) CheckInbound(f *message.Frame) error {
	start := time.Now()
	var outcome string
	defer func() {
		metrics.ValidationDuration.Observe(time.Since(start).Seconds())
		metrics.SignatureVerifications.WithLabelValues(outcome).Inc()
		metrics.GetGlobalCollector().RecordValidation(outcome == "ok", time.Since(start))
	}()

	if err := v.checkStructural(f); err != nil {
		outcome = "structural_failure"
		metrics.ValidationFailures.WithLabelValues("structural").Inc()
		return err
	}

	if err := v.checkInjection(f); err != nil {
		outcome = "injection"
		metrics.ValidationFailures.WithLabelValues("injection").Inc()
		v.log.Warn("validate: injection attempt rejected", logger.String("frameId", f.ID))
		return err
	}

	if f.Meta == nil {
		outcome = "missing_signature"
		metrics.ValidationFailures.WithLabelValues("missing_signature").Inc()
		return &Failure{Reason: "frame missing meta.signature", Code: message.ErrValidationFailure}
	}

	if err := v.checkFreshness(f.Meta.Timestamp); err != nil {
		outcome = "stale"
		metrics.ValidationFailures.WithLabelValues("freshness").Inc()
		return err
	}

	if err := v.checkSignature(f); err != nil {
		outcome = "bad_signature"
		metrics.ValidationFailures.WithLabelValues("signature").Inc()
		return err
	}

	if v.replay.Contains(f.Meta.MessageID) {
		outcome = "replay"
		metrics.ReplayAttacksDetected.Inc()
		v.log.Warn("validate: replay detected", logger.String("messageId", f.Meta.MessageID))
		return &Failure{Reason: "duplicate message id: replay detected", Code: message.ErrValidationFailure}
	}
	v.replay.Add(f.Meta.MessageID, struct{}{})

	outcome = "ok"
	return nil
}

func (v *Validator) checkStructural(f *message.Frame) error {
	if f.Kind == "" {
		return &Failure{Reason: "frame missing kind", Code: message.ErrValidationFailure}
	}
	if f.ID == "" {
		return &Failure{Reason: "frame missing id", Code: message.ErrValidationFailure}
	}
	return nil
}

// checkInjection walks the frame content, rejecting strings or keys that
// match a known injection pattern, exceed the length bound, or nest past
// the depth bound.
func (v *Validator) checkInjection(f *message.Frame) error {
	if reason := scanValue(f.Content, 0); reason != "" {
		return &Failure{Reason: reason, Code: message.ErrValidationFailure}
	}
	return nil
}

func scanValue(val interface{}, depth int) string {
	if depth > maxContentDepth {
		return "content nested beyond depth limit"
	}
	switch t := val.(type) {
	case string:
		return scanString(t)
	case map[string]interface{}:
		if len(t) > maxContentFields {
			return "content object exceeds field limit"
		}
		for k, nested := range t {
			if reason := scanString(k); reason != "" {
				return reason
			}
			if reason := scanValue(nested, depth+1); reason != "" {
				return reason
			}
		}
	case []interface{}:
		if len(t) > maxContentFields {
			return "content array exceeds element limit"
		}
		for _, nested := range t {
			if reason := scanValue(nested, depth+1); reason != "" {
				return reason
			}
		}
	}
	return ""
}

func scanString(s string) string {
	if len(s) > maxStringLength {
		return "content string exceeds length limit"
	}
	lower := strings.ToLower(s)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Sprintf("content matches injection pattern %q", pattern)
		}
	}
	return ""
}

func (v *Validator) checkFreshness(ts int64) error {
	sent := time.Unix(ts, 0)
	if time.Since(sent) > FreshnessWindow {
		return &Failure{Reason: "frame timestamp outside freshness window", Code: message.ErrValidationFailure}
	}
	return nil
}

func (v *Validator) checkSignature(f *message.Frame) error {
	expected := v.computeSignature(f)
	if !hmac.Equal([]byte(expected), []byte(f.Meta.Signature)) {
		return &Failure{Reason: "signature mismatch", Code: message.ErrValidationFailure}
	}
	return nil
}

// SignOutbound adds meta.messageId, meta.timestamp, and meta.signature to
// f, computed over the sorted canonical JSON of the frame minus its
// signature field.
func (v *Validator) SignOutbound(f *message.Frame, id string) {
	f.Meta = &message.SignatureMeta{
		MessageID: id,
		Timestamp: time.Now().Unix(),
	}
	f.Meta.Signature = v.computeSignature(f)
}

// computeSignature canonicalizes f with an empty signature field and
// returns the hex-encoded HMAC-SHA256 over that canonical form.
func (v *Validator) computeSignature(f *message.Frame) string {
	clone := *f
	metaCopy := *f.Meta
	metaCopy.Signature = ""
	clone.Meta = &metaCopy

	canonical := canonicalJSON(clone)
	mac := hmac.New(sha256.New, v.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalJSON marshals v to JSON with object keys sorted recursively,
// so the same logical frame always produces the same bytes regardless of
// field ordering.
func canonicalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return data
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) []byte {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, marshalSorted(val[k])...)
		}
		out = append(out, '}')
		return out
	case []interface{}:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, marshalSorted(item)...)
		}
		out = append(out, ']')
		return out
	default:
		b, _ := json.Marshal(val)
		return b
	}
}
