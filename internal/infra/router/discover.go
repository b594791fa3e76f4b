package router

import (
	"strings"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

// runDiscover implements spec §4.E's tools/call{name:"discover"}
// handler: a ranked BM25 search, falling back to a server-name
// substring match (over the tools already in the index) when the
// search returns nothing, and always enumerating every configured
// server name in AvailableServers.
func (r *Router) runDiscover(query string, topK int) discoverResult {
	servers := r.manager.ServerNames()

	results := r.search.Search(query, topK)
	if len(results) == 0 {
		results = r.fallbackServerMatch(query, servers)
	}

	entries := make([]discoverEntry, 0, len(results))
	for _, tool := range results {
		entries = append(entries, discoverEntry{
			Server:      tool.ServerName,
			Tool:        tool.OriginalName,
			Description: truncateDescription(tool.Description),
			InputSchema: SanitizeSchema(tool.ToolDef.InputSchema),
		})
	}

	return discoverResult{
		Query:            query,
		TotalIndexed:     r.search.ToolCount(),
		TotalServers:     len(servers),
		AvailableServers: servers,
		Results:          entries,
	}
}

// fallbackServerMatch implements the discover handler's second-tier
// fallback (spec §4.E): a substring match of the query against
// configured server names. If that too yields nothing, the caller's
// entries list stays empty but AvailableServers still enumerates
// every server name, satisfying the third-tier "enumerate all server
// names" fallback.
func (r *Router) fallbackServerMatch(query string, servers []string) []domain.IndexedTool {
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	if lowerQuery == "" {
		return nil
	}

	var matched []domain.IndexedTool
	for _, name := range servers {
		if !strings.Contains(strings.ToLower(name), lowerQuery) {
			continue
		}
		for _, tool := range r.search.GetCatalog() {
			if tool.Server != name {
				continue
			}
			if found, ok := r.search.FindTool(tool.Server, tool.Tool); ok {
				matched = append(matched, found)
			}
		}
	}
	return matched
}

func truncateDescription(s string) string {
	if len(s) <= domain.DiscoverDescriptionTruncate {
		return s
	}
	return s[:domain.DiscoverDescriptionTruncate]
}
