package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/vector"
	"github.com/chongs12/agentic-rag/internal/websearch"
)

type fakeStore struct {
	res      *vector.QueryResult
	err      error
	gotN     int
	gotSrc   []string
	queries  int
	filterBy bool
}

func (f *fakeStore) Upsert(context.Context, []string, []vector.Metadata, []string) error {
	return nil
}

func (f *fakeStore) Query(_ context.Context, _ string, n int, sources []string) (*vector.QueryResult, error) {
	f.queries++
	f.gotN = n
	f.gotSrc = sources
	if f.err != nil {
		return nil, f.err
	}
	if !f.filterBy || len(sources) == 0 {
		return f.res, nil
	}
	allowed := map[string]bool{}
	for _, s := range sources {
		allowed[s] = true
	}
	out := &vector.QueryResult{}
	for i := range f.res.Documents {
		if allowed[f.res.Metadatas[i].String("source")] {
			out.Documents = append(out.Documents, f.res.Documents[i])
			out.Metadatas = append(out.Metadatas, f.res.Metadatas[i])
			out.Distances = append(out.Distances, f.res.Distances[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeWeb struct {
	out   websearch.Outcome
	calls int
}

func (f *fakeWeb) Search(context.Context, string) websearch.Outcome {
	f.calls++
	return f.out
}

func meta(src string, page int, id string) vector.Metadata {
	return vector.Metadata{"source": src, "page": page, "chunk_id": id}
}

func TestRankOrdersByDistance(t *testing.T) {
	res := &vector.QueryResult{
		Documents: []string{"far", "near", "mid"},
		Metadatas: []vector.Metadata{meta("a.txt", -1, "a-c0"), meta("a.txt", -1, "a-c1"), meta("b.pdf", 2, "b-c0")},
		Distances: []float64{0.9, 0.1, 0.5},
	}
	hits := Rank(res, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].Text != "near" || hits[1].Text != "mid" {
		t.Fatalf("wrong order: %+v", hits)
	}
	if hits[1].Page != 2 || hits[1].Source != "b.pdf" || hits[1].ChunkID != "b-c0" {
		t.Fatalf("metadata not carried: %+v", hits[1])
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("scores not monotonic: %v <= %v", hits[0].Score, hits[1].Score)
	}
}

func TestRankTrimsHitText(t *testing.T) {
	res := &vector.QueryResult{
		Documents: []string{"\n  padded chunk text \t\n"},
		Metadatas: []vector.Metadata{meta("a.txt", -1, "a-c0")},
		Distances: []float64{0.2},
	}
	hits := Rank(res, 5)
	if len(hits) != 1 || hits[0].Text != "padded chunk text" {
		t.Fatalf("hit text not trimmed: %+v", hits)
	}
}

func TestRankDropsMisalignedEntries(t *testing.T) {
	res := &vector.QueryResult{
		Documents: []string{"one", "two", "three"},
		Metadatas: []vector.Metadata{meta("a", -1, "1"), meta("a", -1, "2")},
		Distances: []float64{0.3, 0.2, 0.1},
	}
	hits := Rank(res, 10)
	if len(hits) != 2 {
		t.Fatalf("expected index 2 to be dropped, got %+v", hits)
	}
	for _, h := range hits {
		if h.Text == "three" {
			t.Fatalf("misaligned entry kept")
		}
	}
}

func TestRankDedupesSharedPrefix(t *testing.T) {
	res := &vector.QueryResult{
		Documents: []string{"  Same passage text  ", "Same passage text", "   ", "other"},
		Metadatas: []vector.Metadata{meta("a", -1, "1"), meta("a", -1, "2"), meta("a", -1, "3"), meta("a", -1, "4")},
		Distances: []float64{0.4, 0.2, 0.1, 0.5},
	}
	hits := Rank(res, 10)
	if len(hits) != 2 {
		t.Fatalf("got %+v", hits)
	}
	if hits[0].ChunkID != "2" {
		t.Fatalf("dedupe must keep the best ranked copy, kept %s", hits[0].ChunkID)
	}
	if hits[1].Text != "other" {
		t.Fatalf("unexpected second hit %+v", hits[1])
	}
}

func TestRankStableTies(t *testing.T) {
	res := &vector.QueryResult{
		Documents: []string{"first", "second", "third"},
		Metadatas: []vector.Metadata{meta("a", -1, "1"), meta("a", -1, "2"), meta("a", -1, "3")},
		Distances: []float64{0.5, 0.5, 0.5},
	}
	hits := Rank(res, 3)
	for i, want := range []string{"first", "second", "third"} {
		if hits[i].Text != want {
			t.Fatalf("tie order broken at %d: %s", i, hits[i].Text)
		}
	}
}

func TestDedupeIdempotent(t *testing.T) {
	in := []models.Hit{{Text: "a"}, {Text: "a "}, {Text: "b"}, {Text: ""}}
	once := Dedupe(in, DedupePrefix)
	twice := Dedupe(once, DedupePrefix)
	if len(once) != 2 || len(twice) != len(once) {
		t.Fatalf("once=%v twice=%v", once, twice)
	}
}

func TestDedupeUsesPrefixOnly(t *testing.T) {
	base := strings.Repeat("x", DedupePrefix)
	in := []models.Hit{{Text: base + "tail one"}, {Text: base + "tail two"}}
	if got := Dedupe(in, DedupePrefix); len(got) != 1 {
		t.Fatalf("texts sharing a %d rune prefix should collapse, got %d", DedupePrefix, len(got))
	}
}

func TestScore(t *testing.T) {
	if Score(0) != 1 {
		t.Fatalf("score(0) = %v", Score(0))
	}
	if Score(math.NaN()) != 1 {
		t.Fatalf("missing distance should score like 0")
	}
	prev := Score(0)
	for _, d := range []float64{0.01, 0.5, 1, 4, 100} {
		s := Score(d)
		if s <= 0 || s > 1 || s >= prev {
			t.Fatalf("score(%v) = %v not in (0,%v)", d, s, prev)
		}
		prev = s
	}
}

func TestSearchOverFetches(t *testing.T) {
	st := &fakeStore{res: &vector.QueryResult{}}
	e := NewEngine(st, nil, Options{})
	e.Search(context.Background(), "q", 3, nil)
	if st.gotN != MinCandidates {
		t.Fatalf("n = %d, want %d", st.gotN, MinCandidates)
	}
	e.Search(context.Background(), "q", 10, []string{"", " "})
	if st.gotN != 30 {
		t.Fatalf("n = %d, want 30", st.gotN)
	}
	if st.gotSrc != nil {
		t.Fatalf("blank sources should mean no filter, got %v", st.gotSrc)
	}
}

func TestSearchScopedNoFallback(t *testing.T) {
	st := &fakeStore{filterBy: true, res: &vector.QueryResult{
		Documents: []string{"other content"},
		Metadatas: []vector.Metadata{meta("other.pdf", 1, "o-c0")},
		Distances: []float64{0.1},
	}}
	web := &fakeWeb{out: websearch.Outcome{Status: websearch.StatusOK, Results: []models.WebResult{{Title: "t"}}}}
	e := NewEngine(st, web, Options{WebFallback: true})

	r := e.Search(context.Background(), "skills", 5, []string{"resume.pdf"})
	if r.Status != StatusScopedNotFound {
		t.Fatalf("status = %s", r.Status)
	}
	if web.calls != 0 || r.UsedFallback {
		t.Fatalf("scoped query must not fall back to web")
	}
	if r.Hits == nil || len(r.Hits) != 0 {
		t.Fatalf("hits = %#v", r.Hits)
	}
}

func TestSearchScopedFallbackWhenEnabled(t *testing.T) {
	st := &fakeStore{res: &vector.QueryResult{}}
	web := &fakeWeb{out: websearch.Outcome{Status: websearch.StatusOK, Results: []models.WebResult{{Title: "t"}}}}
	e := NewEngine(st, web, Options{WebFallback: true, ScopedFallback: true})
	r := e.Search(context.Background(), "q", 5, []string{"resume.pdf"})
	if r.Status != StatusWebFallback || web.calls != 1 {
		t.Fatalf("status = %s calls = %d", r.Status, web.calls)
	}
}

func TestSearchUnscopedWebFallback(t *testing.T) {
	st := &fakeStore{res: &vector.QueryResult{}}
	web := &fakeWeb{out: websearch.Outcome{Status: websearch.StatusOK, Results: []models.WebResult{
		{Title: "Go", Link: "https://go.dev", Snippet: "The Go language"},
	}}}
	e := NewEngine(st, web, Options{WebFallback: true})
	r := e.Search(context.Background(), "what is go", 5, nil)
	if !r.UsedFallback || r.Status != StatusWebFallback {
		t.Fatalf("result = %+v", r)
	}
	if len(r.WebHits) != 1 || r.WebHits[0].Link != "https://go.dev" {
		t.Fatalf("web hits = %+v", r.WebHits)
	}
	if len(r.Hits) != 0 {
		t.Fatalf("document hits should be empty")
	}
}

func TestSearchStoreErrorFallsBack(t *testing.T) {
	st := &fakeStore{err: errors.New("store down")}
	web := &fakeWeb{out: websearch.Outcome{Status: websearch.StatusNoResults, Results: []models.WebResult{}}}
	e := NewEngine(st, web, Options{WebFallback: true})
	r := e.Search(context.Background(), "q", 5, nil)
	if web.calls != 1 {
		t.Fatalf("web not consulted after store error")
	}
	if r.Status != StatusNotFound || !r.UsedFallback || len(r.WebHits) != 0 {
		t.Fatalf("result = %+v", r)
	}
}

func TestSearchNotFoundWithoutWeb(t *testing.T) {
	e := NewEngine(&fakeStore{res: &vector.QueryResult{}}, nil, Options{WebFallback: true})
	r := e.Search(context.Background(), "q", 0, nil)
	if r.Status != StatusNotFound || r.UsedFallback {
		t.Fatalf("result = %+v", r)
	}
}

func TestSearchFound(t *testing.T) {
	st := &fakeStore{res: &vector.QueryResult{
		Documents: []string{"Go is a language"},
		Metadatas: []vector.Metadata{meta("go.txt", -1, "go-c0")},
		Distances: []float64{0.2},
	}}
	web := &fakeWeb{}
	r := NewEngine(st, web, Options{WebFallback: true}).Search(context.Background(), "go", 3, nil)
	if r.Status != StatusFound || r.UsedFallback || web.calls != 0 {
		t.Fatalf("result = %+v", r)
	}
	if r.Hits[0].Page != models.NoPage {
		t.Fatalf("page = %d", r.Hits[0].Page)
	}
}
