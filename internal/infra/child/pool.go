package child

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// poolState is the per-pool state machine of spec §4.D.4.
type poolState int

const (
	stateStarting poolState = iota
	stateRunning
	stateRestarting
	stateDead
)

func (s poolState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateRestarting:
		return "restarting"
	case stateDead:
		return "dead"
	default:
		return "absent"
	}
}

// pool is one ServerPool (spec §3): instances sharing a ServerConfig,
// selected round-robin.
type pool struct {
	name   string
	config domain.ServerConfig

	mu        sync.RWMutex
	instances []*instance
	nextIdx   atomic.Uint64
	state     poolState

	healthRestarts int
}

func newPool(name string, cfg domain.ServerConfig, instances []*instance) *pool {
	return &pool{name: name, config: cfg, instances: instances, state: stateRunning}
}

func (p *pool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// pick selects the next instance round-robin (fetch_add mod len),
// satisfying the round-robin-fairness testable property (spec §8.4).
func (p *pool) pick() *instance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.instances) == 0 {
		return nil
	}
	idx := p.nextIdx.Add(1) - 1
	return p.instances[idx%uint64(len(p.instances))]
}

func (p *pool) allInstances() []*instance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*instance, len(p.instances))
	copy(out, p.instances)
	return out
}

func (p *pool) tools() []domain.ToolDef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.instances) == 0 {
		return nil
	}
	return p.instances[0].tools
}

func (p *pool) touchHead() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.instances) > 0 {
		p.instances[0].touch()
	}
}

// allIdleSince reports whether every instance's last-used time is
// older than cutoff (spec §4.D "reap_idle").
func (p *pool) allIdleSince(cutoff time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, in := range p.instances {
		if in.lastUsed().After(cutoff) {
			return false
		}
	}
	return true
}

func (p *pool) killAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range p.instances {
		in.kill()
	}
	p.instances = nil
	p.state = stateDead
}

func (p *pool) setState(s poolState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *pool) getState() poolState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// forwardNotification delivers method/params to every instance in
// the pool, best-effort (spec §4.D "forward_notification").
func (p *pool) forwardNotification(method string, params any) {
	for _, in := range p.allInstances() {
		_ = in.notify(method, params)
	}
}

// ping issues a ping with PingTimeout against in, used by
// health_check (spec §4.D "health_check").
func ping(in *instance, logger *zap.Logger) error {
	if !in.alive() {
		return domain.ErrConnectionClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), domain.PingTimeout)
	defer cancel()
	_, err := in.call(ctx, "ping", struct{}{})
	if err != nil {
		logger.Warn("ping failed", telemetry.EventField(telemetry.EventPingFailure), telemetry.ServerNameField(in.serverName), zap.Error(err))
		return err
	}
	return nil
}

// parseToolsList decodes a tools/list result, defaulting to an empty
// slice on malformed content (spec §4.D.1 step 5).
func parseToolsList(raw json.RawMessage) []domain.ToolDef {
	var out struct {
		Tools []domain.ToolDef `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out.Tools
}
