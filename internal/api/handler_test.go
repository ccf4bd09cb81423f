package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/ingest"
	"github.com/chongs12/agentic-rag/internal/mcp"
)

type call struct {
	name string
	args any
	id   int
}

type fakeTools struct {
	results    map[string]*mcp.Event
	errs       map[string]error
	calls      []call
	terminated int
}

func (f *fakeTools) CallTool(_ context.Context, name string, args any, id int) (*mcp.Event, error) {
	f.calls = append(f.calls, call{name: name, args: args, id: id})
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.results[name], nil
}

func (f *fakeTools) Terminate(context.Context) error {
	f.terminated++
	return nil
}

type fakeIngester struct {
	n    int
	err  error
	path string
}

func (f *fakeIngester) IngestAs(_ context.Context, path, _ string) (int, error) {
	f.path = path
	return f.n, f.err
}

func textEvent(t *testing.T, v any) *mcp.Event {
	t.Helper()
	s, err := sonic.MarshalString(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &mcp.Event{Result: mcp.StringResult(s)}
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.SetupRoutes(r)
	return r
}

func postQuery(t *testing.T, r http.Handler, question string) map[string]any {
	t.Helper()
	body, _ := sonic.Marshal(QueryRequest{Question: question})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := sonic.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func hits(n int) []models.Hit {
	out := make([]models.Hit, n)
	for i := range out {
		out[i] = models.Hit{Text: "t", Source: "a.pdf", Page: 1, ChunkID: "a-x-c" + string(rune('0'+i)), Score: 0.5}
	}
	return out
}

func TestQueryFoundCapsSources(t *testing.T) {
	tools := &fakeTools{results: map[string]*mcp.Event{
		mcp.ToolDocumentSearch: textEvent(t, models.DocumentSearchPayload{Answer: "answer [1]", Hits: hits(8)}),
	}}
	recent := ingest.NewRecentSources(5)
	recent.Add("a.pdf")
	r := newRouter(NewHandler(tools, &fakeIngester{}, recent, Options{}))

	out := postQuery(t, r, "  what?  ")
	if out["answer"] != "answer [1]" {
		t.Fatalf("answer = %v", out["answer"])
	}
	if got := len(out["sources"].([]any)); got != MaxAnswerSources {
		t.Fatalf("sources = %d", got)
	}
	if len(tools.calls) != 1 || tools.calls[0].id != 1 {
		t.Fatalf("calls = %+v", tools.calls)
	}
	args := tools.calls[0].args.(models.DocumentSearchArgs)
	if args.Query != "what?" || args.TopK != QueryTopK || len(args.Sources) != 1 || args.Sources[0] != "a.pdf" {
		t.Fatalf("args = %+v", args)
	}
}

func TestQueryScopedNotFound(t *testing.T) {
	tools := &fakeTools{results: map[string]*mcp.Event{
		mcp.ToolDocumentSearch: textEvent(t, models.DocumentSearchPayload{Answer: models.MsgScopedNotFound, Hits: []models.Hit{}}),
	}}
	recent := ingest.NewRecentSources(5)
	recent.Add("resume.pdf")
	r := newRouter(NewHandler(tools, &fakeIngester{}, recent, Options{}))

	out := postQuery(t, r, "experience?")
	if out["answer"] != models.MsgScopedNotFound {
		t.Fatalf("answer = %v", out["answer"])
	}
	if s, ok := out["sources"].([]any); !ok || len(s) != 0 {
		t.Fatalf("sources = %v", out["sources"])
	}
	if len(tools.calls) != 1 {
		t.Fatalf("web search must not run for scoped queries: %+v", tools.calls)
	}
}

func TestQueryServerWebFallback(t *testing.T) {
	web := []models.WebResult{{Title: "Go", Link: "https://go.dev", Snippet: "The Go language"}}
	tools := &fakeTools{results: map[string]*mcp.Event{
		mcp.ToolDocumentSearch: textEvent(t, models.DocumentSearchPayload{Answer: models.MsgWebPrefix + "Go is a language.", Hits: []models.Hit{}, WebHits: web, UsedFallback: true}),
	}}
	r := newRouter(NewHandler(tools, &fakeIngester{}, ingest.NewRecentSources(5), Options{}))

	out := postQuery(t, r, "what is go")
	if !strings.HasPrefix(out["answer"].(string), models.MsgWebPrefix) {
		t.Fatalf("answer = %v", out["answer"])
	}
	if len(out["web"].([]any)) != 1 || len(tools.calls) != 1 {
		t.Fatalf("out = %v calls = %+v", out, tools.calls)
	}
	if tools.calls[0].args.(models.DocumentSearchArgs).Sources != nil {
		t.Fatalf("sources must be nil without uploads")
	}
}

func TestQueryClientWebSearch(t *testing.T) {
	tools := &fakeTools{results: map[string]*mcp.Event{
		mcp.ToolDocumentSearch: textEvent(t, models.DocumentSearchPayload{Answer: models.MsgNothingFound, Hits: []models.Hit{}}),
		mcp.ToolWebSearch:      textEvent(t, models.WebSearchPayload{Hits: []models.WebResult{{Title: "a"}, {Title: "b"}}}),
	}}
	r := newRouter(NewHandler(tools, &fakeIngester{}, ingest.NewRecentSources(5), Options{}))

	out := postQuery(t, r, "anything")
	if out["answer"] != models.MsgWebInstead || len(out["web"].([]any)) != 2 {
		t.Fatalf("out = %v", out)
	}
	if len(tools.calls) != 2 || tools.calls[1].name != mcp.ToolWebSearch || tools.calls[1].id != 2 {
		t.Fatalf("calls = %+v", tools.calls)
	}
}

func TestQueryNothingAnywhere(t *testing.T) {
	tools := &fakeTools{results: map[string]*mcp.Event{
		mcp.ToolDocumentSearch: textEvent(t, models.DocumentSearchPayload{Hits: []models.Hit{}}),
		mcp.ToolWebSearch:      textEvent(t, models.WebSearchPayload{Error: "not configured"}),
	}}
	r := newRouter(NewHandler(tools, &fakeIngester{}, ingest.NewRecentSources(5), Options{}))
	if out := postQuery(t, r, "anything"); out["answer"] != models.MsgNothingFound {
		t.Fatalf("out = %v", out)
	}
}

func TestQueryServiceDown(t *testing.T) {
	tools := &fakeTools{errs: map[string]error{mcp.ToolDocumentSearch: &mcp.StatusError{StatusCode: 503}}}
	r := newRouter(NewHandler(tools, &fakeIngester{}, ingest.NewRecentSources(5), Options{}))
	out := postQuery(t, r, "anything")
	if out["answer"] != models.MsgServiceDown {
		t.Fatalf("out = %v", out)
	}
	if strings.Contains(out["answer"].(string), "503") {
		t.Fatalf("raw error leaked")
	}
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	r := newRouter(NewHandler(&fakeTools{}, &fakeIngester{}, ingest.NewRecentSources(5), Options{}))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query/", strings.NewReader(`{"question":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
}

func upload(t *testing.T, r http.Handler, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload_document/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	return w
}

func TestUploadDocument(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{n: 4}
	recent := ingest.NewRecentSources(5)
	r := newRouter(NewHandler(&fakeTools{}, ing, recent, Options{UploadDir: dir}))

	w := upload(t, r, "notes.txt", "hello world")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "File 'notes.txt' uploaded and ingested successfully! (4 chunks)") {
		t.Fatalf("body %s", w.Body.String())
	}
	if ing.path != filepath.Join(dir, "notes.txt") {
		t.Fatalf("path %s", ing.path)
	}
	if b, err := os.ReadFile(ing.path); err != nil || string(b) != "hello world" {
		t.Fatalf("saved file: %q %v", b, err)
	}
	if s := recent.Snapshot(); len(s) != 1 || s[0] != "notes.txt" {
		t.Fatalf("recent = %v", s)
	}
}

func TestUploadRejections(t *testing.T) {
	dir := t.TempDir()
	recent := ingest.NewRecentSources(5)

	r := newRouter(NewHandler(&fakeTools{}, &fakeIngester{n: 1}, recent, Options{UploadDir: dir}))
	if w := upload(t, r, "slides.pptx", "x"); w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), models.MsgUnsupportedType) {
		t.Fatalf("unsupported: %d %s", w.Code, w.Body.String())
	}

	r = newRouter(NewHandler(&fakeTools{}, &fakeIngester{err: ingest.ErrNoText}, recent, Options{UploadDir: dir}))
	if w := upload(t, r, "scan.pdf", "%PDF"); w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "is it scanned?") {
		t.Fatalf("no text: %d %s", w.Code, w.Body.String())
	}

	r = newRouter(NewHandler(&fakeTools{}, &fakeIngester{err: errors.New("store down")}, recent, Options{UploadDir: dir}))
	if w := upload(t, r, "a.txt", "x"); w.Code != http.StatusInternalServerError || strings.Contains(w.Body.String(), "store down") {
		t.Fatalf("failure: %d %s", w.Code, w.Body.String())
	}

	r = newRouter(NewHandler(&fakeTools{}, &fakeIngester{n: 1}, recent, Options{UploadDir: dir, MaxFileSize: 3}))
	if w := upload(t, r, "big.txt", "too large"); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("size: %d", w.Code)
	}

	if recent.Len() != 0 {
		t.Fatalf("failed uploads must not be recorded: %v", recent.Snapshot())
	}
}

func TestSourcesAndEndSession(t *testing.T) {
	tools := &fakeTools{}
	recent := ingest.NewRecentSources(5)
	r := newRouter(NewHandler(tools, &fakeIngester{}, recent, Options{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sources", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"sources":[]}` {
		t.Fatalf("sources: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/session", nil))
	if w.Code != http.StatusOK || tools.terminated != 1 {
		t.Fatalf("end session: %d terminated=%d", w.Code, tools.terminated)
	}
}
