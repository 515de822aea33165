// Package translate implements the ContextTranslator: the component that
// converts between the external tool-call request/response shape and the
// internal 7-dimensional context envelope.
package translate

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/qhp-bridge/bridge/pkg/bridge/message"
)

// ExternalRequest is the shape a request arrives in from an E-side client.
type ExternalRequest struct {
	Name        string                 `json:"name"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	ID          string                 `json:"id"`
	UserContext map[string]interface{} `json:"userContext,omitempty"`
}

// ExternalResponse is the shape returned to an E-side client.
type ExternalResponse struct {
	ID              string                 `json:"id"`
	Result          interface{}            `json:"result"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ProtocolVersion string                 `json:"protocolVersion,omitempty"`
}

// millisecondThreshold is the heuristic boundary (10^10) above which a
// numeric timestamp is assumed to be milliseconds rather than seconds.
const millisecondThreshold = 1e10

// Translator converts between the external request/response shape and the
// internal Message/Context envelope. It is stateless and safe for
// concurrent use; the tool-name-to-capability map is supplied at
// construction and treated as read-only configuration.
type Translator struct {
	toolMap map[string]string
}

// New constructs a Translator bound to a closed, enumerated tool name map.
func New(toolMap map[string]string) *Translator {
	if toolMap == nil {
		toolMap = map[string]string{}
	}
	return &Translator{toolMap: toolMap}
}

// Capability resolves a tool name through the mapping, reporting whether
// the name is part of the closed set.
func (t *Translator) Capability(name string) (string, bool) {
	mapped, ok := t.toolMap[name]
	return mapped, ok
}

// KnownTools returns every tool name the mapping accepts, for inclusion in
// unsupported-tool rejections.
func (t *Translator) KnownTools() []string {
	names := make([]string, 0, len(t.toolMap))
	for name := range t.toolMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToInternal converts an external request into an internal Message,
// applying the seven to-internal derivation rules.
func (t *Translator) ToInternal(req *ExternalRequest) (*message.Message, error) {
	if req == nil {
		return nil, fmt.Errorf("translate: nil external request")
	}

	uc := req.UserContext
	who := stringField(uc, "identity")
	if who == "" {
		who = stringField(uc, "user")
	}
	if who == "" {
		who = "System"
	}

	what := stringField(uc, "operation")
	if what == "" {
		what = stringField(uc, "type")
	}
	if what == "" {
		if mapped, ok := t.toolMap[req.Name]; ok {
			what = mapped
		} else {
			what = "unknown_operation"
		}
	}

	when := t.deriveWhen(uc)

	where := deriveWhere(req.Parameters)
	if where == "" {
		where = "bridge"
	}

	why := stringField(uc, "purpose")
	if why == "" {
		why = "operation_" + req.Name
	}

	how := stringField(uc, "method")
	if how == "" {
		how = "bridge"
	}

	extent := stringField(uc, "scope")
	if extent == "" {
		extent = deriveExtent(req.Parameters)
	}

	originalRequest, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("translate: marshal original request: %w", err)
	}

	ctx := message.Context{
		Who:    who,
		What:   what,
		When:   when,
		Where:  where,
		Why:    why,
		How:    how,
		Extent: extent,
		Metadata: map[string]interface{}{
			"originalRequest": json.RawMessage(originalRequest),
		},
	}

	return &message.Message{
		ID:      req.ID,
		Kind:    message.KindRequest,
		Payload: req.Parameters,
		Context: ctx,
	}, nil
}

// ToExternal converts an internal message back into the external response
// shape, extracting the 7D fields into a metadata block and decompressing
// `when` back to wall time.
func (t *Translator) ToExternal(m *message.Message, protocolVersion string) (*ExternalResponse, error) {
	if m == nil {
		return nil, fmt.Errorf("translate: nil internal message")
	}

	result := m.Payload
	if text, ok := m.Payload.(string); ok {
		var structured interface{}
		if err := json.Unmarshal([]byte(text), &structured); err == nil {
			result = structured
		} else {
			result = map[string]interface{}{"content": text}
		}
	}

	metadata := map[string]interface{}{
		"who":    m.Context.Who,
		"what":   m.Context.What,
		"when":   decompress(m.Context.When).Format(time.RFC3339Nano),
		"where":  m.Context.Where,
		"why":    m.Context.Why,
		"how":    m.Context.How,
		"extent": m.Context.Extent,
	}
	for k, v := range m.Context.Metadata {
		metadata[k] = v
	}

	return &ExternalResponse{
		ID:              m.ID,
		Result:          result,
		Metadata:        metadata,
		ProtocolVersion: protocolVersion,
	}, nil
}

// Compress is the opaque context-compression hook applied to `when` before
// it crosses the wire. The only contract is that it round-trips; this
// implementation carries the wall-clock instant as RFC3339Nano text so
// Decompress inverts it exactly.
func Compress(when time.Time) string {
	return when.UTC().Format(time.RFC3339Nano)
}

// Decompress inverts Compress. An unparsable input falls back to the zero
// value's caller-visible behavior (time.Time{}), never a panic.
func Decompress(s string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func decompress(when time.Time) time.Time {
	return Decompress(Compress(when))
}

func (t *Translator) deriveWhen(uc map[string]interface{}) time.Time {
	if uc == nil {
		return time.Now().UTC()
	}
	raw, ok := uc["timestamp"]
	if !ok {
		return time.Now().UTC()
	}
	switch v := raw.(type) {
	case float64:
		return normalizeNumericTimestamp(v)
	case int64:
		return normalizeNumericTimestamp(float64(v))
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed
		}
	}
	return time.Now().UTC()
}

func normalizeNumericTimestamp(v float64) time.Time {
	if v > millisecondThreshold {
		v = v / 1000
	}
	return time.Unix(int64(v), 0).UTC()
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func deriveWhere(params map[string]interface{}) string {
	if params == nil {
		return ""
	}
	for _, key := range []string{"path", "resource", "resourcePath"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func deriveExtent(params map[string]interface{}) string {
	if params == nil {
		return "single"
	}
	for _, key := range []string{"list", "page", "pageSize", "ids"} {
		if _, ok := params[key]; ok {
			return "multiple"
		}
	}
	return "single"
}
