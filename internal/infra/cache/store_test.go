package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

func TestLoad_MissingFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "absent.json"), nil)
	require.NoError(t, err)

	c, ok := store.Load()
	assert.False(t, ok)
	assert.Empty(t, c.Servers)
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewStore(path, nil)
	require.NoError(t, err)

	c, ok := store.Load()
	assert.False(t, ok)
	assert.Empty(t, c.Servers)
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "nested", "cache.json"), nil)
	require.NoError(t, err)

	c := domain.SchemaCache{
		VersionTag: "v1",
		Servers: map[string][]domain.ToolDef{
			"git": {{Name: "commit", Description: "create a git commit"}},
		},
		Errors: map[string]string{"db": "connection refused"},
	}
	require.NoError(t, store.Save(c))

	loaded, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "v1", loaded.VersionTag)
	assert.Equal(t, "create a git commit", loaded.Servers["git"][0].Description)
	assert.Equal(t, "connection refused", loaded.Errors["db"])

	_, hasModTime := store.ModTime()
	assert.True(t, hasModTime)
}
