package peer

import "encoding/json"

// remarshal round-trips v (typically a map[string]interface{} produced by
// decoding a Frame's Content field) into out via JSON. Frame.Content is
// interface{} on the wire, so typed payloads need this one conversion
// after JSON decode.
func remarshal(v interface{}, out interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
