package search

import (
	"math"
	"sort"
	"strings"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

// document is the tokenized form of one IndexedTool, keyed by its
// position in Index.tools.
type document struct {
	termFreq map[string]int
	length   int
}

// Index is the BM25 state described in spec §3: a tool vector,
// per-document term frequencies, per-term document frequencies,
// precomputed IDF, and the average document length. It is rebuilt
// wholesale by BuildIndex and never incrementally mutated (spec
// §4.B).
type Index struct {
	tools     []domain.IndexedTool
	docs      []document
	idf       map[string]float64
	avgDocLen float64
	byServer  map[string]map[string]int // server -> original_name -> tools index
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byServer: make(map[string]map[string]int)}
}

// BuildIndex rebuilds the index wholesale from tools (spec §4.B).
func (ix *Index) BuildIndex(tools []domain.IndexedTool) {
	docs := make([]document, len(tools))
	df := make(map[string]int)
	totalLen := 0
	byServer := make(map[string]map[string]int, len(tools))

	for i, tool := range tools {
		text := strings.ToLower(tool.OriginalName + " " + tool.QualifiedName + " " + tool.Description)
		tokens := Tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		docs[i] = document{termFreq: tf, length: len(tokens)}
		totalLen += len(tokens)
		for tok := range tf {
			df[tok]++
		}

		servers, ok := byServer[tool.ServerName]
		if !ok {
			servers = make(map[string]int)
			byServer[tool.ServerName] = servers
		}
		servers[tool.OriginalName] = i
	}

	n := float64(len(tools))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		d := float64(count)
		idf[term] = math.Log((n-d+0.5)/(d+0.5) + 1)
	}

	avg := 0.0
	if len(docs) > 0 {
		avg = float64(totalLen) / float64(len(docs))
	}

	ix.tools = tools
	ix.docs = docs
	ix.idf = idf
	ix.avgDocLen = avg
	ix.byServer = byServer
}

type scored struct {
	index int
	score float64
}

// Search implements spec §4.B's ranked retrieval: BM25 accumulation
// over query terms, name boosts (+10 exact, +5 substring) applied
// against the lowercased raw query, drop non-positive scores, stable
// sort descending, clamp to top_k ≤ MaxTopK.
func (ix *Index) Search(query string, topK int) []domain.IndexedTool {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	if topK > domain.MaxTopK {
		topK = domain.MaxTopK
	}

	terms := Tokenize(query)
	lowerQuery := strings.ToLower(strings.TrimSpace(query))

	results := make([]scored, 0, len(ix.docs))
	for i, doc := range ix.docs {
		score := ix.bm25Score(terms, doc)

		name := strings.ToLower(ix.tools[i].OriginalName)
		switch {
		case lowerQuery != "" && name == lowerQuery:
			score += 10
		case lowerQuery != "" && strings.Contains(name, lowerQuery):
			score += 5
		}

		if score > 0 {
			results = append(results, scored{index: i, score: score})
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]domain.IndexedTool, len(results))
	for i, r := range results {
		out[i] = ix.tools[r.index]
	}
	return out
}

func (ix *Index) bm25Score(terms []string, doc document) float64 {
	if len(doc.termFreq) == 0 || len(terms) == 0 {
		return 0
	}
	var score float64
	for _, term := range terms {
		tf, ok := doc.termFreq[term]
		if !ok {
			continue
		}
		idf := ix.idf[term]
		num := idf * float64(tf) * (domain.BM25K1 + 1)
		denom := float64(tf) + domain.BM25K1*(1-domain.BM25B+domain.BM25B*float64(doc.length)/ix.avgDocLen)
		score += num / denom
	}
	return score
}

// ToolCount returns the number of indexed tools.
func (ix *Index) ToolCount() int { return len(ix.tools) }

// GetCatalog returns name+server+first-120-chars description for
// every indexed tool, for passthrough listings (spec §4.B).
func (ix *Index) GetCatalog() []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, len(ix.tools))
	for i, tool := range ix.tools {
		out[i] = domain.CatalogEntry{
			Server:      tool.ServerName,
			Tool:        tool.OriginalName,
			Description: truncate(tool.Description, domain.CatalogDescriptionTruncate),
		}
	}
	return out
}

// FindTool looks up the IndexedTool for (server, tool) in O(1).
func (ix *Index) FindTool(server, tool string) (domain.IndexedTool, bool) {
	servers, ok := ix.byServer[server]
	if !ok {
		return domain.IndexedTool{}, false
	}
	i, ok := servers[tool]
	if !ok {
		return domain.IndexedTool{}, false
	}
	return ix.tools[i], true
}

// ServerNames returns the distinct set of server names with at least
// one indexed tool.
func (ix *Index) ServerNames() []string {
	names := make([]string, 0, len(ix.byServer))
	for name := range ix.byServer {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
