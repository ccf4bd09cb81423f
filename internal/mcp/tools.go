package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/retrieval"
	"github.com/chongs12/agentic-rag/internal/synth"
	"github.com/chongs12/agentic-rag/internal/websearch"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

const (
	ToolDocumentSearch = "document_search"
	ToolWebSearch      = "web_search"
)

// ErrInvalidArguments marks tool argument errors; the server maps it to
// JSON-RPC invalid params.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ToolHandler runs one tool and returns its text payload.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// DocumentSearcher is the retrieval surface used by document_search.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, topK int, sources []string) retrieval.Result
}

// Answerer turns passages into an answer.
type Answerer interface {
	Synthesize(ctx context.Context, query string, passages []string) synth.Answer
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// DocumentSearchTool searches the document index, falling back to the web
// when allowed, and synthesizes an answer from whatever was found.
func DocumentSearchTool(engine DocumentSearcher, answerer Answerer, defaultTopK int) (Tool, ToolHandler) {
	tool := Tool{
		Name:        ToolDocumentSearch,
		Description: "Search ingested documents for relevant chunks. Falls back to web search when nothing matches.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":   map[string]any{"type": "string"},
				"top_k":   map[string]any{"type": "integer", "default": defaultTopK},
				"sources": map[string]any{"type": []string{"array", "null"}, "items": map[string]any{"type": "string"}},
			},
			"required": []string{"query"},
		},
	}
	handler := func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args models.DocumentSearchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if strings.TrimSpace(args.Query) == "" {
			return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		if args.TopK <= 0 {
			args.TopK = defaultTopK
		}
		logger.Info(ctx, "document_search called", "query", args.Query, "sources", args.Sources)

		res := engine.Search(ctx, args.Query, args.TopK, args.Sources)
		payload := models.DocumentSearchPayload{Hits: res.Hits, UsedFallback: res.UsedFallback}
		if payload.Hits == nil {
			payload.Hits = []models.Hit{}
		}
		switch res.Status {
		case retrieval.StatusFound:
			payload.Answer = answerer.Synthesize(ctx, args.Query, synth.Texts(res.Hits)).Text
		case retrieval.StatusWebFallback:
			snippets := make([]string, 0, len(res.WebHits))
			for _, w := range res.WebHits {
				snippets = append(snippets, w.Snippet)
			}
			payload.Answer = models.MsgWebPrefix + answerer.Synthesize(ctx, args.Query, snippets).Text
			payload.WebHits = res.WebHits
		case retrieval.StatusScopedNotFound:
			payload.Answer = models.MsgScopedNotFound
		default:
			payload.Answer = models.MsgNothingFound
		}
		return sonic.MarshalString(payload)
	}
	return tool, handler
}

// WebSearchTool exposes the keyword search client directly.
func WebSearchTool(web websearch.Searcher) (Tool, ToolHandler) {
	tool := Tool{
		Name:        ToolWebSearch,
		Description: "Web search. Returns up to five results with title, link and snippet.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}
	handler := func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args models.WebSearchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", err
		}
		if strings.TrimSpace(args.Query) == "" {
			return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		logger.Info(ctx, "web_search called", "query", args.Query)
		return sonic.MarshalString(web.Search(ctx, args.Query).Payload())
	}
	return tool, handler
}

// ParseDocumentSearch decodes a document_search result event.
func ParseDocumentSearch(ev *Event) (models.DocumentSearchPayload, error) {
	var p models.DocumentSearchPayload
	text := ev.Text()
	if text == "" {
		return p, fmt.Errorf("mcp: document_search returned no text")
	}
	if err := sonic.UnmarshalString(text, &p); err != nil {
		return p, fmt.Errorf("decode document_search payload: %w", err)
	}
	return p, nil
}

// ParseWebSearch decodes a web_search result event.
func ParseWebSearch(ev *Event) (models.WebSearchPayload, error) {
	var p models.WebSearchPayload
	text := ev.Text()
	if text == "" {
		return p, fmt.Errorf("mcp: web_search returned no text")
	}
	if err := sonic.UnmarshalString(text, &p); err != nil {
		return p, fmt.Errorf("decode web_search payload: %w", err)
	}
	return p, nil
}
