// Package search provides the retrieval tools: keyword search over the
// chunk index and semantic search over the vector store.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/chunks"
	"github.com/haasonsaas/anvil/internal/index"
	"github.com/haasonsaas/anvil/internal/tools"
)

// DefaultLimit is the result count when the model does not ask for one.
const DefaultLimit = 8

// SearchCode is the keyword search tool.
type SearchCode struct {
	idx *index.Index
}

// NewSearchCode creates the search_code tool.
func NewSearchCode(idx *index.Index) *SearchCode {
	return &SearchCode{idx: idx}
}

func (t *SearchCode) Name() string { return "search_code" }

func (t *SearchCode) Description() string {
	return "Keyword search over indexed source chunks. Query terms are ANDed."
}

func (t *SearchCode) Schema() json.RawMessage {
	return schemaJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Keywords to search for.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return.",
				"minimum":     1,
			},
			"path_prefix": map[string]any{
				"type":        "string",
				"description": "Restrict results to sources under this prefix.",
			},
		},
		"required": []string{"query"},
	})
}

func (t *SearchCode) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	query := tools.StringArg(args, "query", "")
	limit := tools.IntArg(args, "limit", DefaultLimit)

	results := t.idx.SearchKeyword(query, limit, chunks.SearchOptions{
		PathPrefix:    tools.StringArg(args, "path_prefix", ""),
		Deterministic: true,
	})
	if len(results) == 0 {
		return tools.Ok("No matches."), nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s:%d-%d [%s", i+1, r.Source, r.StartLine, r.EndLine, r.Kind)
		if r.Name != "" {
			fmt.Fprintf(&b, " %s", r.Name)
		}
		fmt.Fprintf(&b, "] (chunk %s)\n", r.ChunkID)
		if r.Snippet != "" {
			b.WriteString(indent(r.Snippet))
		}
	}
	return tools.Ok(strings.TrimRight(b.String(), "\n")), nil
}

// SemanticSearch is the embedding-based search tool.
type SemanticSearch struct {
	idx *index.Index
}

// NewSemanticSearch creates the semantic_search tool.
func NewSemanticSearch(idx *index.Index) *SemanticSearch {
	return &SemanticSearch{idx: idx}
}

func (t *SemanticSearch) Name() string { return "semantic_search" }

func (t *SemanticSearch) Description() string {
	return "Search indexed source chunks by meaning using embeddings."
}

func (t *SemanticSearch) Schema() json.RawMessage {
	return schemaJSON(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural-language description of what to find.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return.",
				"minimum":     1,
			},
		},
		"required": []string{"query"},
	})
}

func (t *SemanticSearch) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	query := tools.StringArg(args, "query", "")
	limit := tools.IntArg(args, "limit", DefaultLimit)

	results, err := t.idx.SearchSemantic(ctx, query, limit)
	if err != nil {
		return tools.FailErr(err, map[string]any{"query": query}), nil
	}
	if len(results) == 0 {
		return tools.Ok("No matches."), nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s:%d-%d [%s", i+1, r.Source, r.StartLine, r.EndLine, r.Kind)
		if r.Name != "" {
			fmt.Fprintf(&b, " %s", r.Name)
		}
		fmt.Fprintf(&b, "] score=%.3f (chunk %s)\n", r.Score, r.ChunkID)
		if r.Snippet != "" {
			b.WriteString(indent(r.Snippet))
		}
	}
	return tools.Ok(strings.TrimRight(b.String(), "\n")), nil
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "   " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

func schemaJSON(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
