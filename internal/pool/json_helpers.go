// Package pool holds shared codec helpers for the control API.
package pool

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// EncodeJSON marshals v without HTML escaping, trimming the trailing
// newline the streaming encoder appends.
func EncodeJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
