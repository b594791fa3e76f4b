package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
)

func TestStdio_RoundTripsRequestResponse(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer

	stdio := NewStdio(in, &out, zap.NewNop())
	err := stdio.Serve(context.Background(), func(_ context.Context, req *protocol.Request) *protocol.Response {
		assert.Equal(t, "ping", req.Method)
		return &protocol.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
	})
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.Equal(t, float64(1), resp["id"])
	assert.Equal(t, map[string]any{}, resp["result"])
}

func TestStdio_SkipsMalformedLines(t *testing.T) {
	in := strings.NewReader("not json at all\n" + `{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n")
	var out bytes.Buffer
	var calls int

	stdio := NewStdio(in, &out, zap.NewNop())
	err := stdio.Serve(context.Background(), func(_ context.Context, req *protocol.Request) *protocol.Response {
		calls++
		return &protocol.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestStdio_NotificationProducesNoOutput(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	var out bytes.Buffer

	stdio := NewStdio(in, &out, zap.NewNop())
	err := stdio.Serve(context.Background(), func(_ context.Context, req *protocol.Request) *protocol.Response {
		assert.True(t, req.IsNotification())
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, out.Bytes())
}
