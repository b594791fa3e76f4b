package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/infra/child"
	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
	"github.com/Soflution1/mcp-on-demand/internal/infra/search"
)

func sampleIndexedTools() []domain.IndexedTool {
	return []domain.IndexedTool{
		{
			QualifiedName: "git__commit", OriginalName: "commit", ServerName: "git",
			Description: "create a git commit",
			ToolDef:     domain.ToolDef{Name: "commit", Description: "create a git commit"},
		},
		{
			QualifiedName: "db__query", OriginalName: "query", ServerName: "db",
			Description: "run a SQL query",
			ToolDef:     domain.ToolDef{Name: "query", Description: "run a SQL query"},
		},
	}
}

func newTestRouter(t *testing.T, mode domain.Mode) *Router {
	t.Helper()
	manager := child.NewManager(0, zap.NewNop(), nil)
	manager.UpdateConfigs(map[string]domain.ServerConfig{
		"git": {Command: "true"},
		"db":  {Command: "true"},
	})

	idx := search.NewIndex()
	idx.BuildIndex(sampleIndexedTools())

	return NewRouter(manager, idx, nil, mode, zap.NewNop())
}

func reqFor(t *testing.T, id int, method string, params any) *protocol.Request {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	return &protocol.Request{ID: json.RawMessage(mustJSON(t, id)), Method: method, Params: raw}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatch_Initialize(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "initialize", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result initializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, domain.ProtocolVersion, result.ProtocolVersion)
	assert.NotNil(t, result.Capabilities.Tools)
	assert.NotNil(t, result.Capabilities.Prompts)
	assert.NotNil(t, result.Capabilities.Resources)
}

func TestDispatch_Ping(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "ping", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, "{}", string(resp.Result))
}

func TestDispatch_NotificationsYieldNoResponse(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	req := &protocol.Request{Method: "notifications/initialized"}
	assert.True(t, req.IsNotification())
	assert.Nil(t, r.Dispatch(context.Background(), req))

	cancelled := &protocol.Request{Method: "notifications/cancelled", Params: json.RawMessage(`{"requestId":1}`)}
	assert.Nil(t, r.Dispatch(context.Background(), cancelled))
}

func TestDispatch_UnknownMethod(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "nonsense/method", nil))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.JSONRPCMethodNotFound, resp.Error.Code)
}

func TestDispatch_ToolsList_DiscoverMode(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "tools/list", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result toolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 2)
	names := []string{result.Tools[0].Name, result.Tools[1].Name}
	assert.ElementsMatch(t, []string{"discover", "execute"}, names)
}

func TestDispatch_ToolsList_PassthroughMode(t *testing.T) {
	r := newTestRouter(t, domain.ModePassthrough)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "tools/list", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result toolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 2)
	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"git__commit", "db__query"}, names)
}

func TestDispatch_ToolsCall_Discover(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "tools/call", map[string]any{
		"name":      "discover",
		"arguments": map[string]any{"query": "git"},
	}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var wrapped toolCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &wrapped))
	require.Len(t, wrapped.Content, 1)
	assert.Equal(t, "text", wrapped.Content[0].Type)

	var result discoverResult
	require.NoError(t, json.Unmarshal([]byte(wrapped.Content[0].Text), &result))
	assert.Equal(t, 2, result.TotalServers)
}

func TestDispatch_ToolsCall_PassthroughMalformedName(t *testing.T) {
	r := newTestRouter(t, domain.ModePassthrough)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "tools/call", map[string]any{
		"name":      "notqualified",
		"arguments": map[string]any{},
	}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.JSONRPCInvalidParams, resp.Error.Code)
}

func TestDispatch_ToolsCall_ExecuteRequiresServerAndTool(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "tools/call", map[string]any{
		"name":      "execute",
		"arguments": map[string]any{"server": "git"},
	}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.JSONRPCInvalidParams, resp.Error.Code)
}

func TestDispatch_CompletionComplete(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	resp := r.Dispatch(context.Background(), reqFor(t, 1, "completion/complete", nil))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result completionResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Empty(t, result.Completion.Values)
}

func TestSplitQualifiedName(t *testing.T) {
	server, tool, ok := splitQualifiedName("git__commit")
	require.True(t, ok)
	assert.Equal(t, "git", server)
	assert.Equal(t, "commit", tool)

	_, _, ok = splitQualifiedName("noseparator")
	assert.False(t, ok)

	_, _, ok = splitQualifiedName("__commit")
	assert.False(t, ok)

	_, _, ok = splitQualifiedName("git__")
	assert.False(t, ok)
}

func TestRunDiscover_FallsBackToServerNameMatch(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	// "gi" matches no indexed token or tool name, but is a substring of
	// the server name "git", so git's tools come back via the fallback.
	result := r.runDiscover("gi", domain.DefaultTopK)
	assert.Equal(t, 2, result.TotalServers)
	assert.ElementsMatch(t, []string{"git", "db"}, result.AvailableServers)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "commit", result.Results[0].Tool)
}

func TestRunDiscover_AvailableServersAlwaysPopulated(t *testing.T) {
	r := newTestRouter(t, domain.ModeDiscover)
	result := r.runDiscover("query", domain.DefaultTopK)
	assert.Equal(t, 2, result.TotalServers)
	assert.ElementsMatch(t, []string{"git", "db"}, result.AvailableServers)
	assert.NotEmpty(t, result.Results)
}
