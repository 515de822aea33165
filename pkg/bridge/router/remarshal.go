package router

import "encoding/json"

// remarshal round-trips v through JSON into out, used to decode a frame's
// loosely-typed content field into a concrete struct.
func remarshal(v interface{}, out interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
