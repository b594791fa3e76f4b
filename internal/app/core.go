// Package app wires the proxy's collaborators into the single owned
// "core" value spec §9 calls for: the manager, search engine, and
// router share no back-pointers, only unidirectional ownership from
// Core outward (grounded on the teacher's
// internal/app/bootstrap.ServerStartupOrchestrator's orchestration
// shape, adapted away from its catalog/init-manager domain).
package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/infra/cache"
	"github.com/Soflution1/mcp-on-demand/internal/infra/child"
	"github.com/Soflution1/mcp-on-demand/internal/infra/config"
	"github.com/Soflution1/mcp-on-demand/internal/infra/router"
	"github.com/Soflution1/mcp-on-demand/internal/infra/search"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// Core owns every collaborator of the proxy and is shared by
// reference with every transport and background task (spec §9
// "Shared mutable state"). Nothing outside this package reaches back
// into a collaborator's internals; Core is the only thing holding all
// of manager, search engine and router at once.
type Core struct {
	Manager *child.Manager
	Search  *search.Index
	Router  *router.Router
	Metrics *telemetry.Metrics
	Health  *child.HealthMonitor

	cfg        *config.Config
	store      *cache.Store
	watcher    *config.Watcher
	logger     *zap.Logger
	configPath string

	toolsMu    sync.Mutex
	knownTools map[string][]domain.ToolDef
	knownErrs  map[string]string
}

// New constructs a Core from a loaded Config and opens/loads the
// schema cache (spec §6).
func New(cfgPath string, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := telemetry.NewMetrics(nil)
	manager := child.NewManager(cfg.IdleTimeout, logger, metrics)
	manager.UpdateConfigs(cfg.Servers)

	idx := search.NewIndex()

	store, err := cache.NewStore("", logger)
	if err != nil {
		return nil, err
	}

	c := &Core{
		Manager:    manager,
		Search:     idx,
		Metrics:    metrics,
		cfg:        cfg,
		store:      store,
		logger:     logger.Named("core"),
		configPath: cfgPath,
		knownTools: make(map[string][]domain.ToolDef),
		knownErrs:  make(map[string]string),
	}

	if snapshot, ok := store.Load(); ok {
		c.toolsMu.Lock()
		c.knownTools = snapshot.Servers
		c.toolsMu.Unlock()
		c.rebuildIndexLocked()
	}

	c.Router = router.NewRouter(manager, idx, metrics, cfg.Mode, logger)
	c.Health = child.NewHealthMonitor(manager, cfg.HealthCheckInterval, cfg.HealthAutoRestart, logger)
	c.watcher = config.NewWatcher(cfgPath, store.Path, domain.ConfigPollInterval, c.reloadConfig, c.reloadCache, logger)

	return c, nil
}

// rebuildIndexLocked rebuilds the search index from the current
// knownTools snapshot. Callers must not hold toolsMu.
func (c *Core) rebuildIndexLocked() {
	c.toolsMu.Lock()
	tools := flattenTools(c.knownTools)
	c.toolsMu.Unlock()
	c.Search.BuildIndex(tools)
}

func flattenTools(byServer map[string][]domain.ToolDef) []domain.IndexedTool {
	var tools []domain.IndexedTool
	for server, defs := range byServer {
		for _, def := range defs {
			tools = append(tools, domain.IndexedTool{
				QualifiedName: server + domain.QualifiedNameSeparator + def.Name,
				OriginalName:  def.Name,
				ServerName:    server,
				Description:   def.Description,
				ToolDef:       def,
			})
		}
	}
	return tools
}

// recordTools registers a server's currently advertised tools and
// rebuilds the index, so a server started through startAndRecord has
// its tools searchable immediately rather than waiting for the next
// schema-cache hot-reload tick. Starts and restarts made by the
// manager itself (auto-start, restart-and-retry, health restarts) do
// not pass through here.
func (c *Core) recordTools(server string, tools []domain.ToolDef) {
	c.toolsMu.Lock()
	c.knownTools[server] = tools
	delete(c.knownErrs, server)
	c.toolsMu.Unlock()
	c.rebuildIndexLocked()
}

func (c *Core) recordStartError(server string, err error) {
	c.toolsMu.Lock()
	c.knownErrs[server] = err.Error()
	c.toolsMu.Unlock()
}

func (c *Core) reloadConfig() {
	newCfg, err := config.Load(c.configPath)
	if err != nil {
		c.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
		return
	}
	c.cfg = newCfg
	c.Manager.UpdateConfigs(newCfg.Servers)
	c.Router.SetMode(newCfg.Mode)
	c.logger.Info("config reloaded", zap.Int("servers", len(newCfg.Servers)))
}

func (c *Core) reloadCache() {
	snapshot, ok := c.store.Load()
	if !ok {
		return
	}
	c.toolsMu.Lock()
	c.knownTools = snapshot.Servers
	c.toolsMu.Unlock()
	c.rebuildIndexLocked()
	c.logger.Info("schema cache reloaded", zap.Int("tools", c.Search.ToolCount()))
}

// PersistCache snapshots every known server's currently advertised
// tools into the schema cache file (spec §6).
func (c *Core) PersistCache() error {
	c.toolsMu.Lock()
	snapshot := domain.SchemaCache{
		VersionTag: domain.ProtocolVersion,
		Servers:    copyToolMap(c.knownTools),
		Errors:     copyStringMap(c.knownErrs),
	}
	c.toolsMu.Unlock()
	return c.store.Save(snapshot)
}

func copyToolMap(m map[string][]domain.ToolDef) map[string][]domain.ToolDef {
	out := make(map[string][]domain.ToolDef, len(m))
	for k, v := range m {
		out[k] = append([]domain.ToolDef{}, v...)
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// startAndRecord starts server name and records its resulting tools
// (or failure) into the known-tools accumulator.
func (c *Core) startAndRecord(ctx context.Context, name string) {
	tools, err := c.Manager.StartServer(ctx, name)
	if err != nil {
		c.recordStartError(name, err)
		c.logger.Warn("start failed", zap.String("server", name), zap.Error(err))
		return
	}
	c.recordTools(name, tools)
}

// Bootstrap implements spec §9's startup sequence: when
// settings.preload is "all", every configured server is started with
// a staggered delay between each (original_source/proxy.rs
// preload_servers), each success immediately feeding the search index
// rather than waiting for the first hot-reload poll. The on-disk
// schema cache is written once, after the preload loop, whether or not
// preload ran.
func (c *Core) Bootstrap(ctx context.Context) {
	if c.cfg.Preload == domain.PreloadAll {
		names := c.Manager.ServerNames()
		for i, name := range names {
			if i > 0 {
				select {
				case <-time.After(domain.DefaultPreloadDelay):
				case <-ctx.Done():
					return
				}
			}
			c.startAndRecord(ctx, name)
		}
	}

	if err := c.PersistCache(); err != nil {
		c.logger.Warn("failed to persist schema cache after bootstrap", zap.Error(err))
	}
}

// RunBackground starts the idle-reap loop, the health monitor, and
// the config/cache hot-reload watcher, all blocking until ctx is
// done. Intended to be run in its own goroutine by cmd/mcp-on-demand.
func (c *Core) RunBackground(ctx context.Context) {
	go c.Health.Run(ctx)
	go c.watcher.Run(ctx)

	ticker := time.NewTicker(domain.IdleReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Manager.ReapIdle()
			c.Metrics.SetActiveInstances(c.Manager.RunningCount())
		}
	}
}

// Shutdown stops every running server and persists the latest schema
// cache snapshot. Best-effort, never fails fatally.
func (c *Core) Shutdown() {
	c.Manager.StopAll()
	if err := c.PersistCache(); err != nil {
		c.logger.Warn("failed to persist schema cache on shutdown", zap.Error(err))
	}
}
