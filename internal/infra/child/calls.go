package child

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// CallTool implements spec §4.D "call_tool": resolves name,
// auto-starts the pool if absent, picks one instance round-robin,
// and on a connection-class error performs one restart-and-retry
// (spec §4.D, §7, testable property #10).
func (m *Manager) CallTool(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error) {
	resolved, ok := m.ResolveName(server)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "child.call_tool", "unknown server: "+server)
	}

	m.mu.Lock()
	p, running := m.pools[resolved]
	m.mu.Unlock()

	if !running || p.getState() != stateRunning {
		if _, err := m.StartServer(ctx, resolved); err != nil {
			return nil, err
		}
		m.mu.Lock()
		p = m.pools[resolved]
		m.mu.Unlock()
	}

	params := map[string]any{"name": tool, "arguments": rawOrEmptyObject(args)}

	result, err := m.callOnPool(ctx, p, "tools/call", params)
	if err == nil {
		return result, nil
	}
	if !isConnectionClass(err) {
		return nil, err
	}

	m.logger.Warn("connection error, restarting and retrying",
		telemetry.EventField(telemetry.EventRestartAndRetry),
		telemetry.ServerNameField(resolved), zap.Error(err))

	if _, restartErr := m.RestartServer(ctx, resolved); restartErr != nil {
		return nil, restartErr
	}
	m.mu.Lock()
	p = m.pools[resolved]
	m.mu.Unlock()
	return m.callOnPool(ctx, p, "tools/call", params)
}

// CallMethod implements spec §4.D "call_method": like CallTool but
// never auto-starts an absent pool (the asymmetry is deliberate, spec
// §9 Open Question).
func (m *Manager) CallMethod(ctx context.Context, server, method string, params json.RawMessage) (json.RawMessage, error) {
	resolved, ok := m.ResolveName(server)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "child.call_method", "unknown server: "+server)
	}

	m.mu.Lock()
	p, running := m.pools[resolved]
	m.mu.Unlock()
	if !running || p.getState() != stateRunning {
		return nil, domain.E(domain.CodeFailedPrecond, "child.call_method", "not running")
	}

	var decoded any
	if len(params) > 0 {
		_ = json.Unmarshal(params, &decoded)
	}

	result, err := m.callOnPool(ctx, p, method, decoded)
	if err == nil || !isConnectionClass(err) {
		return result, err
	}

	if _, restartErr := m.RestartServer(ctx, resolved); restartErr != nil {
		return nil, restartErr
	}
	m.mu.Lock()
	p = m.pools[resolved]
	m.mu.Unlock()
	return m.callOnPool(ctx, p, method, decoded)
}

func (m *Manager) callOnPool(ctx context.Context, p *pool, method string, params any) (json.RawMessage, error) {
	in := p.pick()
	if in == nil {
		return nil, domain.E(domain.CodeUnavailable, "child.call", "pool has no instances")
	}
	return in.call(ctx, method, params)
}

func rawOrEmptyObject(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

// RestartServer implements spec §4.D "restart_server": removes the
// pool, kills every instance, sleeps the restart grace period, then
// starts it again.
func (m *Manager) RestartServer(ctx context.Context, name string) (int, error) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return 0, domain.E(domain.CodeNotFound, "child.restart_server", "unknown server: "+name)
	}

	m.mu.Lock()
	p, exists := m.pools[resolved]
	delete(m.pools, resolved)
	m.mu.Unlock()

	if exists {
		p.killAll()
	}

	select {
	case <-time.After(domain.RestartGracePeriod):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	tools, err := m.StartServer(ctx, resolved)
	if err != nil {
		return 0, err
	}
	return len(tools), nil
}

// StopServer implements spec §4.D "stop_server": best-effort kill,
// never fails.
func (m *Manager) StopServer(name string) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return
	}
	m.mu.Lock()
	p, exists := m.pools[resolved]
	delete(m.pools, resolved)
	m.mu.Unlock()
	if exists {
		p.killAll()
		m.logger.Info("stop success", telemetry.EventField(telemetry.EventStopSuccess), telemetry.ServerNameField(resolved))
	}
}

// StopAll implements spec §4.D "stop_all".
func (m *Manager) StopAll() {
	m.mu.Lock()
	pools := make([]*pool, 0, len(m.pools))
	for name := range m.pools {
		pools = append(pools, m.pools[name])
		delete(m.pools, name)
	}
	m.mu.Unlock()
	for _, p := range pools {
		p.killAll()
	}
}

// ReapIdle implements spec §4.D "reap_idle": kills every pool whose
// every instance has been idle past the idle timeout (testable
// property #5).
func (m *Manager) ReapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var toReap []string
	var pools []*pool
	for name, p := range m.pools {
		if p.getState() == stateRunning && p.allIdleSince(cutoff) {
			toReap = append(toReap, name)
			pools = append(pools, p)
			delete(m.pools, name)
		}
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.killAll()
	}
	for _, name := range toReap {
		m.logger.Info("idle reap", telemetry.EventField(telemetry.EventIdleReap), telemetry.ServerNameField(name))
	}
}

// UpdateConfigs implements spec §4.D "update_configs": diffs against
// the current configs, stops every pool whose config changed or was
// removed, replaces the config map, and never eagerly (re)starts
// anything.
func (m *Manager) UpdateConfigs(newConfigs map[string]domain.ServerConfig) {
	m.mu.Lock()
	var toStop []string
	for name, oldCfg := range m.configs {
		newCfg, stillPresent := newConfigs[name]
		if !stillPresent || !oldCfg.Equal(newCfg) {
			toStop = append(toStop, name)
		}
	}
	m.configs = newConfigs
	var pools []*pool
	for _, name := range toStop {
		if p, ok := m.pools[name]; ok {
			pools = append(pools, p)
			delete(m.pools, name)
		}
	}
	m.mu.Unlock()

	for _, p := range pools {
		p.killAll()
	}
	for _, name := range toStop {
		m.logger.Info("config changed, pool stopped", telemetry.EventField(telemetry.EventConfigReload), telemetry.ServerNameField(name))
	}
}

type namedResult struct {
	Name   string
	Result json.RawMessage
	Err    error
}

// RequestAllRunning implements spec §4.D "request_all_running":
// parallel fan-out across running pools, one request per pool against
// the round-robin-selected instance. Used for prompts/resources
// enumeration (spec §4.E).
func (m *Manager) RequestAllRunning(ctx context.Context, method string, params any) []namedResult {
	m.mu.Lock()
	pools := make(map[string]*pool, len(m.pools))
	for name, p := range m.pools {
		if p.getState() == stateRunning {
			pools[name] = p
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	results := make([]namedResult, len(pools))
	i := 0
	for name, p := range pools {
		wg.Add(1)
		go func(idx int, name string, p *pool) {
			defer wg.Done()
			result, err := m.callOnPool(ctx, p, method, map[string]any{})
			results[idx] = namedResult{Name: name, Result: result, Err: err}
		}(i, name, p)
		i++
	}
	wg.Wait()
	return results
}

// ForwardNotification implements spec §4.D "forward_notification":
// best-effort delivery to every instance in the named pool.
func (m *Manager) ForwardNotification(name, method string, params any) {
	resolved, ok := m.ResolveName(name)
	if !ok {
		return
	}
	m.mu.Lock()
	p, exists := m.pools[resolved]
	m.mu.Unlock()
	if exists {
		p.forwardNotification(method, params)
	}
}

// ForwardNotificationToAllRunning broadcasts a notification to every
// running pool (used for notifications/cancelled, spec §4.E).
func (m *Manager) ForwardNotificationToAllRunning(method string, params any) {
	m.mu.Lock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		if p.getState() == stateRunning {
			pools = append(pools, p)
		}
	}
	m.mu.Unlock()
	for _, p := range pools {
		p.forwardNotification(method, params)
	}
}
