package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
)

func echoDispatcher(_ context.Context, req *protocol.Request) *protocol.Response {
	return &protocol.Response{ID: req.ID, Result: []byte(`{"ok":true}`)}
}

func TestSSE_StreamOpensSessionAndWritesEndpoint(t *testing.T) {
	sse := NewSSE(echoDispatcher, "/sse", "/message", nil, zap.NewNop())
	srv := httptest.NewServer(sse.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	assert.Contains(t, body, "event: endpoint")
	assert.Contains(t, body, "/message?session_id=")
	assert.Equal(t, 1, sse.SessionCount())
}

func TestSSE_MessageUnknownSessionReturnsNotFound(t *testing.T) {
	sse := NewSSE(echoDispatcher, "/sse", "/message", nil, zap.NewNop())
	srv := httptest.NewServer(sse.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message?session_id=bogus", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSE_MessageRejectsNonPost(t *testing.T) {
	sse := NewSSE(echoDispatcher, "/sse", "/message", nil, zap.NewNop())
	srv := httptest.NewServer(sse.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/message?session_id=whatever")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
