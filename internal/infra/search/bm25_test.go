package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

func sampleTools() []domain.IndexedTool {
	return []domain.IndexedTool{
		{QualifiedName: "git__commit", OriginalName: "commit", ServerName: "git", Description: "create a git commit"},
		{QualifiedName: "db__query", OriginalName: "query", ServerName: "db", Description: "run a SQL query"},
		{QualifiedName: "mail__send", OriginalName: "send", ServerName: "mail", Description: "send an email"},
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("readFileAsync v2")
	assert.Contains(t, tokens, "read")
	assert.Contains(t, tokens, "file")
	assert.Contains(t, tokens, "async")
	assert.Contains(t, tokens, "v2")
	for _, tok := range tokens {
		assert.Greater(t, len(tok), 1)
		_, isStop := stopwords[tok]
		assert.False(t, isStop)
	}
}

func TestSearch_S1Discover(t *testing.T) {
	ix := NewIndex()
	ix.BuildIndex(sampleTools())

	results := ix.Search("git commit", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "commit", results[0].OriginalName)

	for _, r := range results[1:] {
		assert.NotEqual(t, "commit", r.OriginalName)
	}
}

func TestSearch_ExactNameBoostWins(t *testing.T) {
	ix := NewIndex()
	ix.BuildIndex(sampleTools())

	results := ix.Search("query", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "query", results[0].OriginalName)
}

func TestSearch_Deterministic(t *testing.T) {
	ix := NewIndex()
	ix.BuildIndex(sampleTools())

	a := ix.Search("send email", 10)
	b := ix.Search("send email", 10)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].QualifiedName, b[i].QualifiedName)
	}
}

func TestSearch_TopKClamped(t *testing.T) {
	ix := NewIndex()
	ix.BuildIndex(sampleTools())

	results := ix.Search("commit query send", 1000)
	assert.LessOrEqual(t, len(results), domain.MaxTopK)
}

func TestGetCatalogAndFindTool(t *testing.T) {
	ix := NewIndex()
	ix.BuildIndex(sampleTools())

	catalog := ix.GetCatalog()
	assert.Len(t, catalog, 3)

	tool, ok := ix.FindTool("git", "commit")
	require.True(t, ok)
	assert.Equal(t, "git__commit", tool.QualifiedName)

	_, ok = ix.FindTool("git", "missing")
	assert.False(t, ok)
}
