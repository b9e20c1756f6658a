package gateway

import (
	"bytes"
	"encoding/json"
)

// strictDecoder returns a *json.Decoder configured to reject unknown
// fields — the Go equivalent of Pydantic's extra='forbid', required for
// create/update bodies per spec.md §4.1 step 5.
func strictDecoder(body []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec
}
