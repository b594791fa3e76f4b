// Package cache persists the schema-cache snapshot described in spec
// §3/§4.C/§6, grounded on original_source/cache.rs. Unlike the
// original, the persisted document also carries a per-server
// "errors" map (spec §3), populated when preload fails to start a
// server.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

const (
	cacheDirName  = ".mcp-on-demand"
	cacheFileName = "schema-cache.json"
)

// DefaultPath returns the stable path under the user's home
// configuration directory (spec §4.C).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, cacheDirName, cacheFileName), nil
}

// Store reads and writes the schema-cache document at Path.
type Store struct {
	Path   string
	logger *zap.Logger
}

// NewStore constructs a Store. If path is empty, DefaultPath is used.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Path: path, logger: logger.Named("cache")}, nil
}

// Load reads the cache document. A missing file returns a zero-value
// cache and ok=false ("no cache"); a malformed file logs a warning
// and likewise returns ok=false, rather than erroring (spec §4.C).
func (s *Store) Load() (domain.SchemaCache, bool) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return emptyCache(), false
	}

	var c domain.SchemaCache
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("malformed schema cache, ignoring", zap.String("path", s.Path), zap.Error(err))
		return emptyCache(), false
	}
	if c.Servers == nil {
		c.Servers = make(map[string][]domain.ToolDef)
	}
	if c.Errors == nil {
		c.Errors = make(map[string]string)
	}
	return c, true
}

// Save replaces the cache document: directory is created on demand,
// then the whole file is written pretty-printed in place with
// os.WriteFile (spec §4.C). The write is not atomic; no temporary file
// or rename is used.
func (s *Store) Save(c domain.SchemaCache) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema cache: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write schema cache: %w", err)
	}
	return nil
}

// ModTime returns the cache file's modification time, used by the
// hot-reload watcher's mtime polling (spec §4.C, §4.G). A missing
// file returns the zero time and ok=false.
func (s *Store) ModTime() (time.Time, bool) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func emptyCache() domain.SchemaCache {
	return domain.SchemaCache{
		Servers: make(map[string][]domain.ToolDef),
		Errors:  make(map[string]string),
	}
}
