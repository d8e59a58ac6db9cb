package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeJSONNoHTMLEscape(t *testing.T) {
	data, err := EncodeJSON(map[string]any{"url": "/api/workers?drain=true&x=<1>"})
	require.NoError(t, err)
	require.Equal(t, `{"url":"/api/workers?drain=true&x=<1>"}`, string(data))
}

func TestEncodeJSONTrimsTrailingNewline(t *testing.T) {
	data, err := EncodeJSON(map[string]any{"v": 1})
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data))
}

func TestEncodeJSONUnsupportedValue(t *testing.T) {
	_, err := EncodeJSON(map[string]any{"fn": func() {}})
	require.Error(t, err)
}
