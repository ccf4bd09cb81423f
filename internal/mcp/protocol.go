// Package mcp implements a streamable HTTP JSON-RPC session protocol:
// a client state machine with lazy initialization and a gin server that
// exposes retrieval tools over server-sent events.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	ProtocolVersion = "2025-06-18"
	JSONRPCVersion  = "2.0"

	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"

	AcceptHeader  = "application/json, text/event-stream"
	UserAgent     = "Agentic-RAG-Client/1.0"
	ClientName    = "AgenticRAGClient"
	ClientVersion = "0.1"
	ServerName    = "agentic-rag-server"
	ServerVersion = "0.1"

	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
	MethodProgress    = "notifications/progress"

	doneMarker = "[DONE]"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// SupportedVersions lists accepted protocol versions, newest first.
var SupportedVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

func versionSupported(v string) bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

var (
	// ErrNoSession is returned when an operation needs a session token and
	// none has been negotiated.
	ErrNoSession = errors.New("mcp: session not initialized")
	// ErrMissingSessionID means initialize succeeded without a session header.
	ErrMissingSessionID = errors.New("mcp: did not receive session ID from initialize")
	// ErrEmptyResponse means a call stream ended before any data event.
	ErrEmptyResponse = errors.New("mcp: response stream carried no events")
)

// Request is an outgoing JSON-RPC request or notification. A nil ID is
// encoded as null.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      any    `json:"id"`
}

// incoming is the server-side view of a request with undecoded params.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

func (r *incoming) isNotification() bool {
	return r.ID == nil || strings.HasPrefix(r.Method, "notifications/")
}

// Response is a JSON-RPC response written by the server.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// Notification is a server-to-client JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp rpc error %d: %s", e.Code, e.Message)
}

// StatusError is a non-2xx HTTP reply from the server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("mcp: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("mcp: http status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      Implementation `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      Implementation `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      *RequestMeta    `json:"_meta,omitempty"`
}

type RequestMeta struct {
	ProgressToken any `json:"progressToken,omitempty"`
}

// Tool describes a callable tool in tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the server's tools/call result envelope.
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError"`
}

func textResult(text string, isError bool) CallToolResult {
	return CallToolResult{Content: []TextContent{{Type: "text", Text: text}}, IsError: isError}
}

// ResultKind tags the shape a result arrived in.
type ResultKind int

const (
	ResultNone ResultKind = iota
	// ResultString: the result is a bare JSON string.
	ResultString
	// ResultContent: {"content":[{"text":...}, ...]}.
	ResultContent
	// ResultTextField: {"text": ...}.
	ResultTextField
	// ResultOther: any other JSON value.
	ResultOther
)

// Result is the tolerant view of a "result" member. Text extracts the
// payload from whichever of the known shapes was received.
type Result struct {
	Kind ResultKind
	Raw  json.RawMessage
	text string
}

// StringResult wraps plain text, used for unparsable stream lines.
func StringResult(s string) Result {
	raw, _ := sonic.Marshal(s)
	return Result{Kind: ResultString, Raw: raw, text: s}
}

func (r *Result) UnmarshalJSON(b []byte) error {
	r.Raw = append(r.Raw[:0], b...)
	r.text = ""
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		r.Kind = ResultNone
		return nil
	}
	var s string
	if sonic.Unmarshal(b, &s) == nil {
		r.Kind, r.text = ResultString, s
		return nil
	}
	var obj struct {
		Content []struct {
			Text *string `json:"text"`
		} `json:"content"`
		Text *string `json:"text"`
	}
	if sonic.Unmarshal(b, &obj) == nil {
		if len(obj.Content) > 0 && obj.Content[0].Text != nil {
			r.Kind, r.text = ResultContent, *obj.Content[0].Text
			return nil
		}
		if obj.Text != nil {
			r.Kind, r.text = ResultTextField, *obj.Text
			return nil
		}
	}
	r.Kind = ResultOther
	return nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// Text returns the textual payload, or "" for unknown shapes.
func (r Result) Text() string {
	return r.text
}

// Decode unmarshals the raw result into v.
func (r Result) Decode(v any) error {
	if len(r.Raw) == 0 {
		return fmt.Errorf("mcp: empty result")
	}
	return sonic.Unmarshal(r.Raw, v)
}

// Event is one decoded data line of a response stream.
type Event struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  Result          `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`

	wrapped bool
}

// Wrapped reports whether the event is an unparsable line kept as text.
func (e *Event) Wrapped() bool {
	return e != nil && e.wrapped
}

// Text is shorthand for e.Result.Text() that tolerates a nil event.
func (e *Event) Text() string {
	if e == nil {
		return ""
	}
	return e.Result.Text()
}

// decodeEvent parses one data payload. Lines that are not JSON objects are
// kept as a string result rather than dropped.
func decodeEvent(data string) *Event {
	var ev Event
	if err := sonic.UnmarshalString(data, &ev); err != nil {
		return &Event{Result: StringResult(data), wrapped: true}
	}
	return &ev
}
