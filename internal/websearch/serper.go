package websearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

const DefaultSerperURL = "https://google.serper.dev/search"

type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Serper queries google.serper.dev. An empty APIKey yields StatusNotConfigured.
type Serper struct {
	APIKey string
	URL    string
	Doer   Doer
}

func NewSerper(apiKey, url string) *Serper {
	if url == "" {
		url = DefaultSerperURL
	}
	return &Serper{
		APIKey: apiKey,
		URL:    url,
		Doer: &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *Serper) Search(ctx context.Context, query string) Outcome {
	if s.APIKey == "" {
		logger.Warn(ctx, "Web search skipped", "reason", "SERPER_API_KEY not configured")
		return Outcome{Status: StatusNotConfigured}
	}
	results, err := s.search(ctx, query)
	if err != nil {
		logger.Error(ctx, "Web search failed", "query", query, "error", err)
		return Outcome{Status: StatusFailed, Err: err}
	}
	if len(results) == 0 {
		return Outcome{Status: StatusNoResults, Results: []models.WebResult{}}
	}
	return Outcome{Status: StatusOK, Results: results}
}

func (s *Serper) search(ctx context.Context, q string) ([]models.WebResult, error) {
	if strings.TrimSpace(q) == "" {
		return nil, errors.New("serper: empty query")
	}
	doer := s.Doer
	if doer == nil {
		doer = &http.Client{Timeout: 20 * time.Second}
	}
	url := s.URL
	if url == "" {
		url = DefaultSerperURL
	}

	b, err := sonic.Marshal(map[string]string{"q": q})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serper: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("serper %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var raw struct {
		Organic []models.WebResult `json:"organic"`
	}
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("serper: decode: %w", err)
	}
	if len(raw.Organic) > MaxResults {
		raw.Organic = raw.Organic[:MaxResults]
	}
	return raw.Organic, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
