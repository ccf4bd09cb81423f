// Package websearch is the keyword search fallback used when the document
// index has nothing useful. Searches fail soft: every error is folded into
// an Outcome instead of being returned.
package websearch

import (
	"context"
	"fmt"

	"github.com/chongs12/agentic-rag/internal/common/models"
)

// MaxResults caps the number of organic results kept per search.
const MaxResults = 5

type Status int

const (
	StatusOK Status = iota
	StatusNoResults
	StatusNotConfigured
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoResults:
		return "no_results"
	case StatusNotConfigured:
		return "not_configured"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of one search. Err is set only for StatusFailed.
type Outcome struct {
	Status  Status
	Results []models.WebResult
	Err     error
}

func (o Outcome) HasResults() bool {
	return o.Status == StatusOK && len(o.Results) > 0
}

// Payload renders the outcome in the web_search tool format.
func (o Outcome) Payload() models.WebSearchPayload {
	switch o.Status {
	case StatusNotConfigured:
		return models.WebSearchPayload{Error: "SERPER_API_KEY not configured"}
	case StatusFailed:
		return models.WebSearchPayload{Error: fmt.Sprintf("Web search failed: %v", o.Err)}
	default:
		hits := o.Results
		if hits == nil {
			hits = []models.WebResult{}
		}
		return models.WebSearchPayload{Hits: hits}
	}
}

type Searcher interface {
	Search(ctx context.Context, query string) Outcome
}
