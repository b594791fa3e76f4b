package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/infra/cache"
	"github.com/Soflution1/mcp-on-demand/internal/infra/search"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "schema-cache.json"), zap.NewNop())
	require.NoError(t, err)

	return &Core{
		Search:     search.NewIndex(),
		store:      store,
		logger:     zap.NewNop(),
		knownTools: make(map[string][]domain.ToolDef),
		knownErrs:  make(map[string]string),
	}
}

func TestRecordTools_PopulatesIndexAndAccumulator(t *testing.T) {
	c := newTestCore(t)

	c.recordTools("git", []domain.ToolDef{{Name: "commit", Description: "make a commit"}})
	assert.Equal(t, 1, c.Search.ToolCount())

	_, ok := c.Search.FindTool("git", "commit")
	assert.True(t, ok)
}

func TestRecordTools_ReplacesPreviousServerEntry(t *testing.T) {
	c := newTestCore(t)

	c.recordTools("git", []domain.ToolDef{{Name: "commit"}, {Name: "push"}})
	c.recordTools("git", []domain.ToolDef{{Name: "commit"}})

	assert.Equal(t, 1, c.Search.ToolCount())
}

func TestRecordStartError_ClearedByLaterSuccess(t *testing.T) {
	c := newTestCore(t)

	c.recordStartError("git", assertError("spawn failed"))
	assert.Equal(t, "spawn failed", c.knownErrs["git"])

	c.recordTools("git", []domain.ToolDef{{Name: "commit"}})
	_, stillPresent := c.knownErrs["git"]
	assert.False(t, stillPresent)
}

func TestPersistCache_RoundTripsThroughStore(t *testing.T) {
	c := newTestCore(t)
	c.recordTools("git", []domain.ToolDef{{Name: "commit", Description: "make a commit"}})
	c.recordStartError("db", assertError("connection refused"))

	require.NoError(t, c.PersistCache())

	snapshot, ok := c.store.Load()
	require.True(t, ok)
	require.Len(t, snapshot.Servers["git"], 1)
	assert.Equal(t, "commit", snapshot.Servers["git"][0].Name)
	assert.Equal(t, "connection refused", snapshot.Errors["db"])
}

func TestReloadCache_RebuildsIndexFromDisk(t *testing.T) {
	c := newTestCore(t)
	c.recordTools("git", []domain.ToolDef{{Name: "commit"}})
	require.NoError(t, c.PersistCache())

	fresh := newTestCore(t)
	fresh.store = c.store

	fresh.reloadCache()
	assert.Equal(t, 1, fresh.Search.ToolCount())
}

type assertErrorString string

func (e assertErrorString) Error() string { return string(e) }

func assertError(msg string) error { return assertErrorString(msg) }
