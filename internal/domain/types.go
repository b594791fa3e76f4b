package domain

import (
	"encoding/json"
	"time"
)

// ServerConfig is an immutable, structurally-equal record describing
// how to spawn one upstream MCP server (spec §3). It is produced by
// the config loader, keyed by server name, and replaced wholesale by
// hot-reload.
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	PoolSize int               `json:"pool,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// Equal reports structural equality, used by update_configs to decide
// whether a server's pool must be torn down.
func (c ServerConfig) Equal(other ServerConfig) bool {
	if c.Command != other.Command || c.PoolSize != other.PoolSize || c.Disabled != other.Disabled {
		return false
	}
	if len(c.Args) != len(other.Args) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != other.Args[i] {
			return false
		}
	}
	if len(c.Env) != len(other.Env) {
		return false
	}
	for k, v := range c.Env {
		if other.Env[k] != v {
			return false
		}
	}
	return true
}

// EffectivePoolSize returns PoolSize, defaulting to DefaultPoolSize
// when unset or invalid.
func (c ServerConfig) EffectivePoolSize() int {
	if c.PoolSize < 1 {
		return DefaultPoolSize
	}
	return c.PoolSize
}

// ToolDef is the tool metadata a child advertises via tools/list
// (spec §3). InputSchema is kept opaque (json.RawMessage) — the
// proxy never validates against it, only sanitizes it for discover
// results.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// IndexedTool is the derivative of a ToolDef plus its owning server,
// owned exclusively by the search engine's index (spec §3).
type IndexedTool struct {
	QualifiedName string // "{server}__{tool}"
	OriginalName  string
	ServerName    string
	Description   string
	ToolDef       ToolDef
}

// SchemaCache is the on-disk snapshot persisted by the cache store
// (spec §3/§6).
type SchemaCache struct {
	VersionTag string               `json:"version"`
	Servers    map[string][]ToolDef `json:"servers"`
	Errors     map[string]string    `json:"errors"`
}

// ServerMetrics accumulates per-server call statistics (spec §3).
type ServerMetrics struct {
	CallCount      int64     `json:"call_count"`
	ErrorCount     int64     `json:"error_count"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	LastCallTime   time.Time `json:"last_call_time,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// GlobalMetrics is the process-wide metrics record, mutated only by
// the router on tool-call completion (spec §3).
type GlobalMetrics struct {
	StartTime         time.Time
	TotalRequests     int64
	ActiveSSESessions int64
	Servers           map[string]*ServerMetrics
}

// CatalogEntry is the passthrough/discover-catalog-friendly summary
// of an indexed tool (name+server+truncated description), used by
// get_catalog (spec §4.B).
type CatalogEntry struct {
	Server      string `json:"server"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
}
