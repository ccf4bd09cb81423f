package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/testutil"
)

func serperServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-API-KEY") != "key" {
			t.Errorf("missing api key header")
		}
		b, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := sonic.Unmarshal(b, &req); err != nil || req["q"] == "" {
			t.Errorf("bad request body %s", b)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func organic(n int) string {
	var items []string
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(`{"title":"t%d","link":"https://e.com/%d","snippet":"s%d","position":%d}`, i, i, i, i+1))
	}
	return `{"organic":[` + strings.Join(items, ",") + `]}`
}

func TestSerperKeepsFiveResults(t *testing.T) {
	srv, _ := serperServer(t, http.StatusOK, organic(8))
	out := (&Serper{APIKey: "key", URL: srv.URL, Doer: srv.Client()}).Search(context.Background(), "golang")
	if out.Status != StatusOK {
		t.Fatalf("status = %s (%v)", out.Status, out.Err)
	}
	if len(out.Results) != MaxResults {
		t.Fatalf("got %d results", len(out.Results))
	}
	if out.Results[0] != (models.WebResult{Title: "t0", Link: "https://e.com/0", Snippet: "s0"}) {
		t.Fatalf("unexpected first result %+v", out.Results[0])
	}
}

func TestSerperNotConfigured(t *testing.T) {
	out := (&Serper{}).Search(context.Background(), "golang")
	if out.Status != StatusNotConfigured {
		t.Fatalf("status = %s", out.Status)
	}
	p := out.Payload()
	if p.Error != "SERPER_API_KEY not configured" || p.Hits != nil {
		t.Fatalf("payload = %+v", p)
	}
}

func TestSerperFailuresAreSoft(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"bad json", http.StatusOK, "not json"},
	}
	for _, tc := range cases {
		srv, _ := serperServer(t, tc.status, tc.body)
		out := (&Serper{APIKey: "key", URL: srv.URL, Doer: srv.Client()}).Search(context.Background(), "q")
		if out.Status != StatusFailed || out.Err == nil {
			t.Fatalf("%s: status = %s err = %v", tc.name, out.Status, out.Err)
		}
		if !strings.HasPrefix(out.Payload().Error, "Web search failed: ") {
			t.Fatalf("%s: payload = %+v", tc.name, out.Payload())
		}
	}
}

func TestSerperNoResults(t *testing.T) {
	srv, _ := serperServer(t, http.StatusOK, `{"organic":[]}`)
	out := (&Serper{APIKey: "key", URL: srv.URL, Doer: srv.Client()}).Search(context.Background(), "q")
	if out.Status != StatusNoResults || out.HasResults() {
		t.Fatalf("status = %s", out.Status)
	}
	p := out.Payload()
	if p.Error != "" || p.Hits == nil || len(p.Hits) != 0 {
		t.Fatalf("empty payload should carry an empty hit list: %+v", p)
	}
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestSerperTransportError(t *testing.T) {
	out := (&Serper{APIKey: "key", Doer: failingDoer{}}).Search(context.Background(), "q")
	if out.Status != StatusFailed {
		t.Fatalf("status = %s", out.Status)
	}
}

func TestCachedSearch(t *testing.T) {
	rdb := testutil.StartRedis(t)
	srv, calls := serperServer(t, http.StatusOK, organic(2))
	c := NewCached(&Serper{APIKey: "key", URL: srv.URL, Doer: srv.Client()}, rdb, 0)

	ctx := context.Background()
	first := c.Search(ctx, "Golang")
	second := c.Search(ctx, "  golang ")
	if !first.HasResults() || !second.HasResults() {
		t.Fatalf("expected results, got %s / %s", first.Status, second.Status)
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream called %d times, want 1", calls.Load())
	}
	if len(second.Results) != 2 || second.Results[1].Link != "https://e.com/1" {
		t.Fatalf("cached results differ: %+v", second.Results)
	}
}
