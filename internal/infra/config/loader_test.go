package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

func TestIsSelf(t *testing.T) {
	assert.True(t, IsSelf("mcphub", domain.ServerConfig{Command: "anything"}))
	assert.True(t, IsSelf("MCPHub-local", domain.ServerConfig{Command: "anything"}))
	assert.True(t, IsSelf("other", domain.ServerConfig{Command: "mcp-on-demand"}))
	assert.False(t, IsSelf("git", domain.ServerConfig{Command: "git-mcp"}))
}

func TestParseServers_McpServersKey(t *testing.T) {
	raw := rawConfig{
		McpServers: map[string]rawServerEntry{
			"git":       {Command: "git-mcp"},
			"_internal": {Command: "skip-me"},
			"disabled":  {Command: "skip-me", Disabled: true},
			"mcphub":    {Command: "self"},
		},
	}
	servers := parseServers(raw)
	require.Contains(t, servers, "git")
	assert.NotContains(t, servers, "_internal")
	assert.NotContains(t, servers, "disabled")
	assert.NotContains(t, servers, "mcphub")
	assert.Len(t, servers, 1)
}

// TestParseServers_FromYAMLFixture exercises the same rawConfig decode
// target against a YAML-authored fixture instead of viper's JSON path,
// a convenient way to express example server configs in tests without
// escaping JSON string literals.
func TestParseServers_FromYAMLFixture(t *testing.T) {
	fixture := `
mcpServers:
  git:
    command: git-mcp
    args: ["--stdio"]
    pool: 2
  _scratch:
    command: skip-me
`
	var raw rawConfig
	require.NoError(t, yaml.Unmarshal([]byte(fixture), &raw))

	servers := parseServers(raw)
	require.Contains(t, servers, "git")
	assert.NotContains(t, servers, "_scratch")
	assert.Equal(t, 2, servers["git"].PoolSize)
	assert.Equal(t, []string{"--stdio"}, servers["git"].Args)
}

func TestParseServers_FallsBackToServersKey(t *testing.T) {
	raw := rawConfig{
		Servers: map[string]rawServerEntry{
			"db": {Command: "db-mcp", Pool: 2},
		},
	}
	servers := parseServers(raw)
	require.Contains(t, servers, "db")
	assert.Equal(t, 2, servers["db"].PoolSize)
}

func TestLoad_McpServersAndSettingsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"mcpServers": {
			"git": {"command": "git-mcp", "args": ["--stdio"], "pool": 3}
		},
		"settings": {"mode": "passthrough", "idleTimeout": 120}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := Load(path)
	require.NoError(t, err)

	expect := &Config{
		Servers: map[string]domain.ServerConfig{
			"git": {Command: "git-mcp", Args: []string{"--stdio"}, PoolSize: 3},
		},
		Mode:                domain.ModePassthrough,
		Preload:             domain.PreloadAll, // default, unset in file
		IdleTimeout:         120 * time.Second,
		HealthCheckInterval: domain.DefaultHealthCheckInterval,
		HealthAutoRestart:   domain.DefaultHealthAutoRestart,
		HealthNotifications: domain.DefaultHealthNotifications,
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}
