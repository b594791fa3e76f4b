package child

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

func TestResolveName(t *testing.T) {
	m := NewManager(0, nil, nil)
	m.UpdateConfigs(map[string]domain.ServerConfig{
		"My-Server_Name": {Command: "true"},
	})

	for _, candidate := range []string{"My-Server_Name", "my-server_name", "myservername", "MY_SERVER-NAME"} {
		resolved, ok := m.ResolveName(candidate)
		require.True(t, ok, "expected %q to resolve", candidate)
		assert.Equal(t, "My-Server_Name", resolved)
	}

	_, ok := m.ResolveName("other")
	assert.False(t, ok)
}

func TestUpdateConfigs_StopsChangedAndRemoved(t *testing.T) {
	m := NewManager(0, nil, nil)
	m.UpdateConfigs(map[string]domain.ServerConfig{
		"git": {Command: "git-mcp"},
		"db":  {Command: "db-mcp"},
	})

	// Simulate running pools directly (bypassing the real spawn) so we
	// can assert update_configs tears down the right ones.
	m.mu.Lock()
	m.pools["git"] = newPool("git", m.configs["git"], newTestInstances(1))
	m.pools["db"] = newPool("db", m.configs["db"], newTestInstances(1))
	m.mu.Unlock()

	m.UpdateConfigs(map[string]domain.ServerConfig{
		"git": {Command: "git-mcp", Args: []string{"--verbose"}}, // changed
		// db removed entirely
	})

	m.mu.Lock()
	_, gitStillPooled := m.pools["git"]
	_, dbStillPooled := m.pools["db"]
	m.mu.Unlock()

	assert.False(t, gitStillPooled)
	assert.False(t, dbStillPooled)
}
