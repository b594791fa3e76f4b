package child

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// HealthResult names one pool the health check found dead, and why
// (spec §4.D "health_check").
type HealthResult struct {
	Name   string
	Reason string
}

// HealthCheck implements spec §4.D "health_check": for every running
// pool, in instance order, checks liveness then pings with a 5s
// timeout; on failure the pool is marked dead, killed, and removed.
// Returns the names and reasons of every pool killed this cycle.
func (m *Manager) HealthCheck(ctx context.Context) []HealthResult {
	m.mu.Lock()
	pools := make(map[string]*pool, len(m.pools))
	for name, p := range m.pools {
		pools[name] = p
	}
	m.mu.Unlock()

	var dead []HealthResult
	var toKill []*pool
	for name, p := range pools {
		if p.getState() != stateRunning {
			continue
		}
		reason := ""
		for _, in := range p.allInstances() {
			if !in.alive() {
				reason = "process exited"
				break
			}
			if err := ping(in, m.logger); err != nil {
				reason = err.Error()
				break
			}
		}
		if reason != "" {
			dead = append(dead, HealthResult{Name: name, Reason: reason})
			toKill = append(toKill, p)
		}
	}

	if len(dead) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, hr := range dead {
		delete(m.pools, hr.Name)
	}
	m.mu.Unlock()

	for _, p := range toKill {
		p.killAll()
	}
	for _, hr := range dead {
		m.logger.Warn("health check failed",
			telemetry.EventField(telemetry.EventHealthFailure),
			telemetry.ServerNameField(hr.Name),
			zap.String("reason", hr.Reason))
	}
	return dead
}

// HealthMonitor is the supplemented background collaborator grounded
// on original_source/health.rs: it runs HealthCheck on an interval
// and, when auto-restart is enabled, retries a dead pool with a
// doubling backoff up to domain.MaxHealthRestartAttempts consecutive
// failures before leaving it Dead. The OS-specific desktop
// notification dispatch from the original is out of scope (spec §1);
// only the structured log event survives.
type HealthMonitor struct {
	manager     *Manager
	interval    time.Duration
	autoRestart bool
	logger      *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// NewHealthMonitor constructs a HealthMonitor. interval and
// autoRestart come from the config file's settings.health block
// (spec §6), defaulting per original_source/config.rs's
// ProxyConfig defaults.
func NewHealthMonitor(manager *Manager, interval time.Duration, autoRestart bool, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = domain.DefaultHealthCheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		manager:     manager,
		interval:    interval,
		autoRestart: autoRestart,
		logger:      logger.Named("health"),
		attempts:    make(map[string]int),
	}
}

// Run blocks, checking health on Monitor.interval until ctx is done.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkCycle(ctx)
		}
	}
}

func (h *HealthMonitor) checkCycle(ctx context.Context) {
	for _, hr := range h.manager.HealthCheck(ctx) {
		if !h.autoRestart {
			h.logger.Warn("server dead, auto-restart disabled",
				telemetry.EventField(telemetry.EventHealthDead), telemetry.ServerNameField(hr.Name))
			continue
		}
		h.tryRestart(ctx, hr.Name)
	}
}

func (h *HealthMonitor) tryRestart(ctx context.Context, name string) {
	h.mu.Lock()
	attempt := h.attempts[name]
	h.mu.Unlock()

	if attempt >= domain.MaxHealthRestartAttempts {
		h.logger.Error("giving up after max health restart attempts",
			telemetry.ServerNameField(name), zap.Int("attempts", attempt))
		return
	}

	backoff := domain.HealthRestartBackoffBase * time.Duration(int64(1)<<uint(attempt))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return
	}

	if _, err := h.manager.RestartServer(ctx, name); err != nil {
		h.mu.Lock()
		h.attempts[name] = attempt + 1
		h.mu.Unlock()
		h.logger.Warn("health restart failed",
			telemetry.EventField(telemetry.EventHealthRestart), telemetry.ServerNameField(name), zap.Error(err))
		h.tryRestart(ctx, name)
		return
	}

	h.mu.Lock()
	h.attempts[name] = 0
	h.mu.Unlock()
	h.logger.Info("health restart succeeded",
		telemetry.EventField(telemetry.EventHealthRestart), telemetry.ServerNameField(name))
}
