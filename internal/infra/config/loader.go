// Package config loads the proxy's server configuration (spec §6)
// and hosts the hot-reload watcher (spec §4.G). Parsing rules —
// mcpServers/servers dual-key acceptance, "_"-prefix skip, disabled
// skip, and the is_self self-identification heuristic — are ported
// from original_source/config.rs; the cross-editor config-path
// auto-detection in the same file is out of scope (spec §1).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

// rawServerEntry mirrors one entry of the config file's
// mcpServers/servers object. Carries both mapstructure tags (for
// viper's JSON decode of the real config file) and yaml tags (so test
// fixtures can be authored as YAML literals against the same keys,
// see loader_test.go).
type rawServerEntry struct {
	Command  string            `mapstructure:"command" yaml:"command"`
	Args     []string          `mapstructure:"args" yaml:"args"`
	Env      map[string]string `mapstructure:"env" yaml:"env"`
	Pool     int               `mapstructure:"pool" yaml:"pool"`
	Disabled bool              `mapstructure:"disabled" yaml:"disabled"`
}

type rawHealthSettings struct {
	CheckInterval int  `mapstructure:"checkInterval" yaml:"checkInterval"`
	AutoRestart   bool `mapstructure:"autoRestart" yaml:"autoRestart"`
	Notifications bool `mapstructure:"notifications" yaml:"notifications"`
}

type rawSettings struct {
	Mode        string            `mapstructure:"mode" yaml:"mode"`
	Preload     string            `mapstructure:"preload" yaml:"preload"`
	IdleTimeout int               `mapstructure:"idleTimeout" yaml:"idleTimeout"`
	Health      rawHealthSettings `mapstructure:"health" yaml:"health"`
}

type rawConfig struct {
	McpServers map[string]rawServerEntry `mapstructure:"mcpServers" yaml:"mcpServers"`
	Servers    map[string]rawServerEntry `mapstructure:"servers" yaml:"servers"`
	Settings   rawSettings               `mapstructure:"settings" yaml:"settings"`
}

// Config is the parsed, ready-to-wire configuration (spec §3's
// authoritative ServerConfig map, plus the settings block of spec §6).
type Config struct {
	Servers map[string]domain.ServerConfig

	Mode    domain.Mode
	Preload domain.Preload

	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	HealthAutoRestart   bool
	HealthNotifications bool
}

// Load reads and parses the config file at path, applying the
// defaults of original_source/config.rs's ProxyConfig and the two
// environment overrides of spec §6.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("settings.mode", string(domain.ModeDiscover))
	v.SetDefault("settings.preload", string(domain.PreloadAll))
	v.SetDefault("settings.idleTimeout", int(domain.DefaultIdleTimeout/time.Second))
	v.SetDefault("settings.health.checkInterval", int(domain.DefaultHealthCheckInterval/time.Second))
	v.SetDefault("settings.health.autoRestart", domain.DefaultHealthAutoRestart)
	v.SetDefault("settings.health.notifications", domain.DefaultHealthNotifications)

	_ = v.BindEnv("settings.mode", domain.EnvMode)
	_ = v.BindEnv("settings.preload", domain.EnvPreload)

	if err := v.ReadInConfig(); err != nil {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "config.Load", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "config.Load", err)
	}

	return &Config{
		Servers:             parseServers(raw),
		Mode:                domain.Mode(v.GetString("settings.mode")),
		Preload:             domain.Preload(v.GetString("settings.preload")),
		IdleTimeout:         time.Duration(v.GetInt("settings.idleTimeout")) * time.Second,
		HealthCheckInterval: time.Duration(v.GetInt("settings.health.checkInterval")) * time.Second,
		HealthAutoRestart:   v.GetBool("settings.health.autoRestart"),
		HealthNotifications: v.GetBool("settings.health.notifications"),
	}, nil
}

// parseServers implements spec §6's "either mcpServers or servers is
// accepted" rule plus the "_"-prefix and disabled skips, and the
// is_self self-identification heuristic of original_source/config.rs.
func parseServers(raw rawConfig) map[string]domain.ServerConfig {
	source := raw.McpServers
	if len(source) == 0 {
		source = raw.Servers
	}

	out := make(map[string]domain.ServerConfig, len(source))
	for name, entry := range source {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if entry.Disabled {
			continue
		}
		cfg := domain.ServerConfig{
			Command:  entry.Command,
			Args:     entry.Args,
			Env:      entry.Env,
			PoolSize: entry.Pool,
		}
		if IsSelf(name, cfg) {
			continue
		}
		out[name] = cfg
	}
	return out
}

// IsSelf reports whether name or cfg.Command looks like the proxy
// identifying itself in its own config file (original_source/config.rs
// is_self()), so it is never spawned as an upstream server.
func IsSelf(name string, cfg domain.ServerConfig) bool {
	lowerName := strings.ToLower(name)
	lowerCmd := strings.ToLower(cfg.Command)
	for _, marker := range domain.SelfNameMarkers {
		if strings.Contains(lowerName, marker) || strings.Contains(lowerCmd, marker) {
			return true
		}
	}
	return false
}
