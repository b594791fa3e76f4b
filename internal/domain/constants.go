package domain

import "time"

// Protocol and handshake defaults.
const (
	ProtocolVersion = "2024-11-05"

	DefaultPoolSize = 1

	StartMaxAttempts = 3
)

// StartBackoff is the sleep before attempts 2 and 3 of the start protocol,
// indexed by (attempt-2): attempt 2 sleeps StartBackoff[0], attempt 3
// sleeps StartBackoff[1].
var StartBackoff = []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond}

// Timeouts.
const (
	RequestTimeout     = 30 * time.Second
	PingTimeout        = 5 * time.Second
	RestartGracePeriod = 500 * time.Millisecond
)

// Background tick intervals.
const (
	IdleReapInterval   = 60 * time.Second
	DefaultIdleTimeout = 5 * time.Minute
	ConfigPollInterval = 5 * time.Second
)

// Health check defaults, mirroring original_source/config.rs ProxyConfig defaults.
const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthAutoRestart   = true
	DefaultHealthNotifications = true
	MaxHealthRestartAttempts   = 3
	HealthRestartBackoffBase   = 2 * time.Second
)

// Preload staggering, mirroring original_source/proxy.rs preload_servers.
const DefaultPreloadDelay = 200 * time.Millisecond

// BM25 parameters (spec §4.B).
const (
	BM25K1 = 1.2
	BM25B  = 0.75
)

// Discover-mode defaults.
const (
	DefaultTopK = 10
	MaxTopK     = 50

	DiscoverDescriptionTruncate = 200
	CatalogDescriptionTruncate  = 120
)

// Mode is the tool-exposure mode (spec GLOSSARY: discover / passthrough).
type Mode string

const (
	ModeDiscover    Mode = "discover"
	ModePassthrough Mode = "passthrough"
)

// Preload selects which servers are started eagerly at startup.
type Preload string

const (
	PreloadAll  Preload = "all"
	PreloadNone Preload = "none"
)

// Environment variable overrides (spec §6).
const (
	EnvMode    = "MCP_ON_DEMAND_MODE"
	EnvPreload = "MCP_ON_DEMAND_PRELOAD"
)

// Self-identification substrings (original_source/config.rs is_self()).
var SelfNameMarkers = []string{"mcphub", "mcp-on-demand"}

// JSON-RPC error codes used by the proxy (spec §6/§7).
const (
	JSONRPCParseError     = -32700
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCServerError    = -32000
)

const QualifiedNameSeparator = "__"
