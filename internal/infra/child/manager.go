package child

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

func osEnviron() []string { return os.Environ() }

// Manager is the child-process manager of spec §4.D: it owns every
// ChildProcess, keyed by pool, and exposes the lifecycle/routing
// operations the router and background loops call.
type Manager struct {
	mu      sync.Mutex // guards configs and pools maps only; never held across child I/O (spec §5)
	configs map[string]domain.ServerConfig
	pools   map[string]*pool

	idleTimeout time.Duration
	logger      *zap.Logger
	metrics     *telemetry.Metrics
}

// NewManager constructs an empty Manager.
func NewManager(idleTimeout time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = domain.DefaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		configs:     make(map[string]domain.ServerConfig),
		pools:       make(map[string]*pool),
		idleTimeout: idleTimeout,
		logger:      logger.Named("child"),
		metrics:     metrics,
	}
}

// ResolveName implements spec §4.D.3: exact, then case-insensitive,
// then case-and-separator-insensitive match against the configured
// keys. The first match wins.
func (m *Manager) ResolveName(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveNameLocked(name)
}

func (m *Manager) resolveNameLocked(name string) (string, bool) {
	if _, ok := m.configs[name]; ok {
		return name, true
	}
	lower := strings.ToLower(name)
	for key := range m.configs {
		if strings.ToLower(key) == lower {
			return key, true
		}
	}
	norm := normalizeSeparators(lower)
	for key := range m.configs {
		if normalizeSeparators(strings.ToLower(key)) == norm {
			return key, true
		}
	}
	return "", false
}

func normalizeSeparators(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// ServerNames returns every configured server key.
func (m *Manager) ServerNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRunning reports whether name resolves to a pool in the Running
// state.
func (m *Manager) IsRunning(name string) bool {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return false
	}
	m.mu.Lock()
	p, ok := m.pools[resolved]
	m.mu.Unlock()
	return ok && p.getState() == stateRunning
}

// RunningCount returns the number of pools currently in the Running
// state, for the active-instances gauge.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pools {
		if p.getState() == stateRunning {
			n++
		}
	}
	return n
}

// StartServer implements spec §4.D "start_server": resolves name; if
// a pool already exists, refreshes its head instance and returns its
// cached tools; otherwise runs the start protocol with backoff.
func (m *Manager) StartServer(ctx context.Context, name string) ([]domain.ToolDef, error) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "child.start_server", "unknown server: "+name)
	}

	m.mu.Lock()
	if p, ok := m.pools[resolved]; ok && p.getState() == stateRunning {
		m.mu.Unlock()
		p.touchHead()
		return p.tools(), nil
	}
	cfg := m.configs[resolved]
	m.mu.Unlock()

	tools, err := m.startWithBackoff(ctx, resolved, cfg)
	if err != nil {
		return nil, err
	}
	return tools, nil
}

func (m *Manager) startWithBackoff(ctx context.Context, name string, cfg domain.ServerConfig) ([]domain.ToolDef, error) {
	var lastErr error
	for attempt := 1; attempt <= domain.StartMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(domain.StartBackoff[attempt-2]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		m.logger.Info("start attempt",
			telemetry.EventField(telemetry.EventStartAttempt),
			telemetry.ServerNameField(name),
			telemetry.AttemptField(attempt))

		p, err := m.tryStartPool(ctx, name, cfg)
		if err == nil {
			m.mu.Lock()
			m.pools[name] = p
			m.mu.Unlock()
			m.logger.Info("start success", telemetry.EventField(telemetry.EventStartSuccess), telemetry.ServerNameField(name))
			return p.tools(), nil
		}
		lastErr = err
		m.logger.Warn("start failure", telemetry.EventField(telemetry.EventStartFailure), telemetry.ServerNameField(name), telemetry.AttemptField(attempt), zap.Error(err))
	}
	return nil, domain.Wrap(domain.CodeUnavailable, "child.start_server", lastErr).
		WithMeta("detail", "(after 3 attempts)")
}

// tryStartPool implements spec §4.D.1 across pool_size instances: any
// single failure kills already-started instances and returns the
// attempt to Absent (the caller retries/backs off).
func (m *Manager) tryStartPool(ctx context.Context, name string, cfg domain.ServerConfig) (*pool, error) {
	size := cfg.EffectivePoolSize()
	instances := make([]*instance, 0, size)

	for i := 0; i < size; i++ {
		in, err := m.startInstance(ctx, name, i, cfg)
		if err != nil {
			for _, started := range instances {
				started.kill()
			}
			return nil, err
		}
		instances = append(instances, in)
	}

	return newPool(name, cfg, instances), nil
}

func (m *Manager) startInstance(ctx context.Context, name string, index int, cfg domain.ServerConfig) (*instance, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = buildEnv(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "child.start_instance", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "child.start_instance", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "child.start_instance", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "child.start_instance", err)
	}

	in := newInstance(name, index, m.logger)
	in.cmd = cmd
	in.stdin = stdin
	go in.readLoop(stdout)
	go mirrorStderr(name, stderr, m.logger)

	if err := m.handshake(ctx, in); err != nil {
		in.kill()
		return nil, err
	}
	return in, nil
}

// handshake implements spec §4.D.1 steps 3-6.
func (m *Manager) handshake(ctx context.Context, in *instance) error {
	initParams := map[string]any{
		"protocolVersion": domain.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-on-demand", "version": "1.0.0"},
	}
	result, err := in.call(ctx, "initialize", initParams)
	if err != nil {
		m.logger.Warn("initialize failed", telemetry.EventField(telemetry.EventInitializeFailure), telemetry.ServerNameField(in.serverName), zap.Error(err))
		return err
	}

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	_ = json.Unmarshal(result, &initResult)
	in.protocolVersion = initResult.ProtocolVersion
	if in.protocolVersion == "" {
		in.protocolVersion = domain.ProtocolVersion
	}

	if err := in.notify("notifications/initialized", map[string]any{}); err != nil {
		return err
	}

	toolsResult, err := in.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return err
	}
	in.tools = parseToolsList(toolsResult)
	in.touch()
	return nil
}

// buildEnv inherits the proxy's own environment and appends the
// server's configured overrides, matching original_source/child.rs's
// Command::envs() behavior.
func buildEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil // nil Cmd.Env means "inherit os.Environ()"
	}
	env := append([]string{}, osEnviron()...)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
