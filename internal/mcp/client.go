package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chongs12/agentic-rag/pkg/logger"
)

// State of the client session.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateTerminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// RetryPolicy retries transport failures and 5xx replies. Attempts counts
// the first try; values below 2 disable retrying.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request including reading its stream.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

func WithProtocolVersion(v string) ClientOption {
	return func(c *Client) {
		if v != "" {
			c.protocolVersion = v
		}
	}
}

// WithBearerToken sends Authorization: Bearer <token> on every request.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// Client speaks the session protocol to one server URL. It is safe for
// concurrent use; the first tool call initializes the session once.
type Client struct {
	url             string
	http            *http.Client
	timeout         time.Duration
	retry           RetryPolicy
	protocolVersion string
	token           string

	initMu sync.Mutex

	mu        sync.RWMutex
	sessionID string
	state     State
	handshake *Event
}

func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{url: url, protocolVersion: ProtocolVersion}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Handshake returns the first event of the last initialize stream, or nil.
func (c *Client) Handshake() *Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshake
}

// Initialize performs the handshake and stores the session token. The
// first data event is returned as the handshake result; it is nil when
// the stream carried none.
func (c *Client) Initialize(ctx context.Context) (*Event, error) {
	req := Request{
		JSONRPC: JSONRPCVersion,
		Method:  MethodInitialize,
		Params: InitializeParams{
			ProtocolVersion: c.protocolVersion,
			ClientInfo:      Implementation{Name: ClientName, Version: ClientVersion},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		},
		ID: 0,
	}
	resp, cancel, err := c.post(ctx, req, "")
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	sid := resp.Header.Get(HeaderSessionID)
	if sid == "" {
		return nil, ErrMissingSessionID
	}

	var first *Event
	if err := readEvents(resp, func(ev *Event) bool {
		first = ev
		return false
	}); err != nil {
		logger.Warn(ctx, "Initialize stream read failed", "error", err)
	}
	if first.Wrapped() {
		first = nil
	}

	c.mu.Lock()
	c.sessionID = sid
	c.state = StateInitialized
	c.handshake = first
	c.mu.Unlock()
	logger.Info(ctx, "MCP session initialized", "session_id", sid)
	return first, nil
}

// SendInitialized sends the notifications/initialized message and drains
// the reply without interpreting it.
func (c *Client) SendInitialized(ctx context.Context) error {
	sid := c.SessionID()
	if sid == "" {
		return ErrNoSession
	}
	req := Request{JSONRPC: JSONRPCVersion, Method: MethodInitialized, Params: map[string]any{}, ID: nil}
	resp, cancel, err := c.post(ctx, req, sid)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ensureSession initializes lazily. Concurrent callers share one handshake.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if sid := c.SessionID(); sid != "" {
		return sid, nil
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if sid := c.SessionID(); sid != "" {
		return sid, nil
	}
	if _, err := c.Initialize(ctx); err != nil {
		return "", err
	}
	if err := c.SendInitialized(ctx); err != nil {
		// a half-open session would never be announced; start over next call
		c.mu.Lock()
		c.sessionID = ""
		c.state = StateUninitialized
		c.handshake = nil
		c.mu.Unlock()
		return "", err
	}
	return c.SessionID(), nil
}

// CallTool invokes a tool and returns the last event of the stream.
// A JSON-RPC error in that event is also returned as *RPCError.
func (c *Client) CallTool(ctx context.Context, name string, args any, requestID int) (*Event, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	req := Request{
		JSONRPC: JSONRPCVersion,
		Method:  MethodToolsCall,
		Params:  map[string]any{"name": name, "arguments": args},
		ID:      requestID,
	}
	last, err := c.roundTrip(ctx, req, sid)
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	if last.Error != nil {
		return last, last.Error
	}
	return last, nil
}

// ListTools returns the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context, requestID int) ([]Tool, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	last, err := c.roundTrip(ctx, Request{JSONRPC: JSONRPCVersion, Method: MethodToolsList, Params: map[string]any{}, ID: requestID}, sid)
	if err != nil {
		return nil, err
	}
	if last.Error != nil {
		return nil, last.Error
	}
	var res ListToolsResult
	if err := last.Result.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	return res.Tools, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request, sid string) (*Event, error) {
	resp, cancel, err := c.post(ctx, req, sid)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	var last *Event
	if err := readEvents(resp, func(ev *Event) bool {
		last = ev
		return true
	}); err != nil && last == nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyResponse
	}
	return last, nil
}

// Terminate notifies the server and always clears the local session,
// even when the remote request fails.
func (c *Client) Terminate(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	sid := c.SessionID()
	if sid == "" {
		return nil
	}
	defer func() {
		c.mu.Lock()
		c.sessionID = ""
		c.state = StateTerminated
		c.handshake = nil
		c.mu.Unlock()
	}()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set(HeaderSessionID, sid)
	httpReq.Header.Set("User-Agent", UserAgent)
	c.setAuth(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.Warn(ctx, "MCP session delete failed", "session_id", sid, "error", err)
		return fmt.Errorf("terminate session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	logger.Info(ctx, "MCP session terminated", "session_id", sid)
	return nil
}

// post sends req with retries. The returned cancel must be called after
// the body is consumed.
func (c *Client) post(ctx context.Context, req Request, sid string) (*http.Response, context.CancelFunc, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", req.Method, err)
	}
	attempts := c.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := c.retry.Backoff * time.Duration(1<<(i-1))
			logger.Warn(ctx, "Retrying MCP request", "method", req.Method, "attempt", i+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		resp, cancel, err := c.postOnce(ctx, body, sid)
		if err == nil {
			return resp, cancel, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, nil, lastErr
}

func (c *Client) postOnce(ctx context.Context, body []byte, sid string) (*http.Response, context.CancelFunc, error) {
	rctx, cancel := c.withTimeout(ctx)
	httpReq, err := http.NewRequestWithContext(rctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	h := httpReq.Header
	h.Set("Content-Type", "application/json")
	h.Set("Accept", AcceptHeader)
	h.Set("User-Agent", UserAgent)
	h.Set(HeaderProtocolVersion, c.protocolVersion)
	if sid != "" {
		h.Set(HeaderSessionID, sid)
	}
	c.setAuth(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		cancel()
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, cancel, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) setAuth(r *http.Request) {
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
