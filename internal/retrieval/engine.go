// Package retrieval ranks vector store candidates and falls back to web
// search when the document index has nothing to offer.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/vector"
	"github.com/chongs12/agentic-rag/internal/websearch"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
)

const (
	DefaultTopK = 8
	// MinCandidates is the over-fetch floor used before post-filtering.
	MinCandidates = 20
	// DedupePrefix is the number of runes compared when deduplicating hits.
	DedupePrefix = 100
)

// Status tells the caller which branch produced the result.
type Status int

const (
	// StatusFound: document hits were returned.
	StatusFound Status = iota
	// StatusScopedNotFound: a source-restricted query matched nothing and
	// web fallback was not attempted.
	StatusScopedNotFound
	// StatusWebFallback: documents had nothing, the web did.
	StatusWebFallback
	// StatusNotFound: neither documents nor web had anything.
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusScopedNotFound:
		return "scoped_not_found"
	case StatusWebFallback:
		return "web_fallback"
	default:
		return "not_found"
	}
}

// Result of one search. Hits is never nil.
type Result struct {
	Hits         []models.Hit
	WebHits      []models.WebResult
	UsedFallback bool
	Status       Status
	// Web is the raw fallback outcome, zero when no fallback ran.
	Web websearch.Outcome
}

type Options struct {
	// WebFallback enables the web search branch at all.
	WebFallback bool
	// ScopedFallback allows web fallback for queries restricted to sources.
	ScopedFallback bool
	DefaultTopK    int
}

// Engine 检索引擎：向量召回 + 排序去重 + Web 兜底
type Engine struct {
	store   vector.Store
	web     websearch.Searcher
	opts    Options
	metrics *metrics.BusinessMetrics
}

// NewEngine wires a store and an optional web searcher. A nil searcher
// disables the fallback branch.
func NewEngine(store vector.Store, web websearch.Searcher, opts Options) *Engine {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	return &Engine{store: store, web: web, opts: opts, metrics: metrics.Default()}
}

// Search runs one retrieval. Store errors are logged and treated as an
// empty candidate list so the caller still gets the fallback path.
func (e *Engine) Search(ctx context.Context, query string, topK int, sources []string) Result {
	if topK <= 0 {
		topK = e.opts.DefaultTopK
	}
	requested := sources != nil
	if sources = normalizeSources(sources); requested && len(sources) == 0 {
		logger.Debug(ctx, "Empty source list, searching all documents")
	}

	n := topK * 3
	if n < MinCandidates {
		n = MinCandidates
	}
	var hits []models.Hit
	res, err := e.store.Query(ctx, query, n, sources)
	if err != nil {
		logger.Error(ctx, "Vector query failed", "error", err, "sources", sources)
		e.metrics.RecordSearch("error")
	} else {
		hits = Rank(res, topK)
	}

	if len(hits) > 0 {
		e.metrics.RecordSearch(StatusFound.String())
		logger.Info(ctx, "Retrieval completed", "hits", len(hits), "top_k", topK)
		return Result{Hits: hits, Status: StatusFound}
	}

	if len(sources) > 0 && !e.opts.ScopedFallback {
		e.metrics.RecordSearch(StatusScopedNotFound.String())
		logger.Info(ctx, "No hits in selected sources", "sources", sources)
		return Result{Hits: []models.Hit{}, Status: StatusScopedNotFound}
	}
	if !e.opts.WebFallback || e.web == nil {
		e.metrics.RecordSearch(StatusNotFound.String())
		return Result{Hits: []models.Hit{}, Status: StatusNotFound}
	}

	out := e.web.Search(ctx, query)
	e.metrics.RecordWebFallback(out.Status.String())
	r := Result{Hits: []models.Hit{}, UsedFallback: true, Web: out, Status: StatusNotFound}
	if out.HasResults() {
		r.WebHits = out.Results
		r.Status = StatusWebFallback
	}
	e.metrics.RecordSearch(r.Status.String())
	logger.Info(ctx, "Web fallback completed", "status", out.Status.String(), "results", len(out.Results))
	return r
}

type candidate struct {
	text string
	meta vector.Metadata
	dist float64
}

// Rank zips the store arrays, sorts by distance, keeps topK and dedupes.
// Indexes not present in all three arrays are dropped.
func Rank(res *vector.QueryResult, topK int) []models.Hit {
	if res == nil {
		return []models.Hit{}
	}
	n := len(res.Documents)
	if len(res.Metadatas) < n {
		n = len(res.Metadatas)
	}
	if len(res.Distances) < n {
		n = len(res.Distances)
	}
	cands := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		d := res.Distances[i]
		if math.IsNaN(d) {
			d = 0
		}
		cands = append(cands, candidate{text: res.Documents[i], meta: res.Metadatas[i], dist: d})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if topK > 0 && len(cands) > topK {
		cands = cands[:topK]
	}

	hits := make([]models.Hit, 0, len(cands))
	for _, c := range cands {
		hits = append(hits, models.Hit{
			Text:    strings.TrimSpace(c.text),
			Source:  c.meta.String("source"),
			Page:    c.meta.Int("page", models.NoPage),
			ChunkID: c.meta.String("chunk_id"),
			Score:   Score(c.dist),
		})
	}
	return Dedupe(hits, DedupePrefix)
}

// Score maps a distance to (0,1]. Missing (NaN) distances count as 0.
func Score(d float64) float64 {
	if math.IsNaN(d) || d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

// Dedupe keeps the first hit for each trimmed text prefix of prefixLen
// runes and drops empty texts. Order is preserved.
func Dedupe(hits []models.Hit, prefixLen int) []models.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]models.Hit, 0, len(hits))
	for _, h := range hits {
		key := prefixKey(h.Text, prefixLen)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

func prefixKey(text string, n int) string {
	return vector.TruncateToRunes(strings.TrimSpace(text), n)
}

// normalizeSources drops blank entries; an empty result means unrestricted.
func normalizeSources(sources []string) []string {
	var out []string
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
