package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Codec encodes and decodes wire frames. The bridge depends on this
// interface rather than the concrete JSON implementation so a binary or
// CBOR codec could be swapped in without touching PeerConnection or
// AcceptorServer.
type Codec interface {
	Encode(f *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
}

// JSONCodec implements Codec over the single JSON text frame shape
// described in the wire protocol section: every frame is `{kind, id, ...}`
// marshaled as JSON text, framed one-per-websocket-message.
type JSONCodec struct{}

// NewJSONCodec constructs the default wire codec.
func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (c *JSONCodec) Encode(f *Frame) ([]byte, error) {
	if f.Kind == "" {
		return nil, fmt.Errorf("message: cannot encode frame with empty kind")
	}
	if f.ID == "" {
		return nil, fmt.Errorf("message: cannot encode frame with empty id")
	}
	return json.Marshal(f)
}

func (c *JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("message: decode frame: %w", err)
	}
	if f.Kind == "" || f.ID == "" {
		return nil, fmt.Errorf("message: frame missing required kind/id fields")
	}
	return &f, nil
}

// NewID returns a fresh globally-unique message id.
func NewID() string {
	return uuid.NewString()
}

// ToFrame converts an internal Message into its wire Frame representation.
func ToFrame(m *Message) *Frame {
	ctx := m.Context
	return &Frame{
		Kind:          m.Kind,
		ID:            m.ID,
		Content:       m.Payload,
		Context:       &ctx,
		CorrelationID: m.CorrelationID,
	}
}

// FromFrame converts a wire Frame into the internal Message record. The
// caller supplies the context when the frame itself carries none (e.g. a
// ping/pong that never had one attached).
func FromFrame(f *Frame, fallback Context) *Message {
	ctx := fallback
	if f.Context != nil {
		ctx = *f.Context
	}
	return &Message{
		ID:            f.ID,
		Kind:          f.Kind,
		Payload:       f.Content,
		Context:       ctx,
		CorrelationID: f.CorrelationID,
	}
}
