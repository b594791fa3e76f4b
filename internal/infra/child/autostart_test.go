package child

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

// TestCallMethod_NeverAutoStarts_UnlikeCallTool exercises spec §9's
// Open Question resolution directly: call_tool auto-starts an absent
// server, call_method never does.
func TestCallMethod_NeverAutoStarts_UnlikeCallTool(t *testing.T) {
	m := NewManager(0, nil, nil)
	m.UpdateConfigs(map[string]domain.ServerConfig{
		"git": {Command: "this-binary-does-not-exist-xyz"},
	})

	_, callMethodErr := m.CallMethod(context.Background(), "git", "resources/list", nil)
	require.Error(t, callMethodErr)
	assert.Equal(t, domain.CodeFailedPrecond, domain.CodeFrom(callMethodErr))

	m.mu.Lock()
	_, poolCreated := m.pools["git"]
	m.mu.Unlock()
	assert.False(t, poolCreated, "call_method must not create a pool for an absent server")

	_, callToolErr := m.CallTool(context.Background(), "git", "sometool", nil)
	require.Error(t, callToolErr)
	assert.NotEqual(t, domain.CodeFailedPrecond, domain.CodeFrom(callToolErr),
		"call_tool attempts to auto-start rather than failing precondition immediately")
}
