package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
	"github.com/chongs12/agentic-rag/pkg/middleware"
)

const maxBodyBytes = 1 << 20

type registeredTool struct {
	tool    Tool
	handler ToolHandler
}

type ServerOptions struct {
	// Heartbeat is the interval of SSE comment lines written while a tool
	// runs. Zero disables heartbeats.
	Heartbeat time.Duration
}

// Server MCP 会话协议服务端：会话管理 + 工具分发 + SSE 输出
type Server struct {
	sessions  SessionStore
	heartbeat time.Duration
	metrics   *metrics.BusinessMetrics

	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

func NewServer(sessions SessionStore, opts ServerOptions) *Server {
	return &Server{
		sessions:  sessions,
		heartbeat: opts.Heartbeat,
		metrics:   metrics.Default(),
		tools:     make(map[string]registeredTool),
	}
}

// RegisterTool adds or replaces a tool.
func (s *Server) RegisterTool(t Tool, h ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.Name]; !ok {
		s.order = append(s.order, t.Name)
	}
	s.tools[t.Name] = registeredTool{tool: t, handler: h}
}

func (s *Server) listTools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name].tool)
	}
	return out
}

func (s *Server) lookup(name string) (registeredTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// SetupRoutes 注册路由
func (s *Server) SetupRoutes(r gin.IRoutes, mws ...gin.HandlerFunc) {
	post := append(append([]gin.HandlerFunc{}, mws...), s.HandlePost)
	del := append(append([]gin.HandlerFunc{}, mws...), s.HandleDelete)
	r.POST("/mcp", post...)
	r.DELETE("/mcp", del...)
}

// HandlePost dispatches one JSON-RPC message.
func (s *Server) HandlePost(c *gin.Context) {
	ctx := c.Request.Context()
	if v := c.GetHeader(HeaderProtocolVersion); v != "" && !versionSupported(v) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported protocol version: " + v})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{JSONRPC: JSONRPCVersion, Error: &RPCError{Code: CodeParseError, Message: "Parse error"}})
		return
	}
	var req incoming
	if err := sonic.Unmarshal(body, &req); err != nil {
		logger.Warn(ctx, "Invalid JSON-RPC message", "error", err)
		c.JSON(http.StatusBadRequest, Response{JSONRPC: JSONRPCVersion, Error: &RPCError{Code: CodeParseError, Message: "Parse error"}})
		return
	}
	if req.Method == "" {
		c.JSON(http.StatusBadRequest, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidRequest, Message: "Invalid Request: method is required"}})
		return
	}

	if req.Method == MethodInitialize {
		s.initialize(c, &req)
		return
	}

	sid := c.GetHeader(HeaderSessionID)
	if sid == "" {
		c.JSON(http.StatusBadRequest, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidRequest, Message: "Bad Request: missing session ID"}})
		return
	}
	sess, err := s.sessions.Get(ctx, sid)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidRequest, Message: "Session not found"}})
		return
	}
	if err != nil {
		logger.Error(ctx, "Session lookup failed", "session_id", sid, "error", err)
		c.JSON(http.StatusInternalServerError, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInternalError, Message: "Internal error"}})
		return
	}
	middleware.InjectSessionIDToContext(c, sid)
	ctx = c.Request.Context()

	if req.isNotification() {
		if req.Method == MethodInitialized && !sess.Initialized {
			sess.Initialized = true
			if err := s.sessions.Save(ctx, sess); err != nil {
				logger.Warn(ctx, "Session save failed", "session_id", sid, "error", err)
			}
		}
		c.Status(http.StatusAccepted)
		return
	}

	switch req.Method {
	case MethodPing:
		s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: map[string]any{}})
	case MethodToolsList:
		s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: ListToolsResult{Tools: s.listTools()}})
	case MethodToolsCall:
		s.callTool(c, &req)
	default:
		s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method}})
	}
}

func (s *Server) initialize(c *gin.Context, req *incoming) {
	ctx := c.Request.Context()
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := sonic.Unmarshal(req.Params, &params); err != nil {
			s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidParams, Message: "Invalid params: " + err.Error()}})
			return
		}
	}
	version := params.ProtocolVersion
	if !versionSupported(version) {
		version = ProtocolVersion
	}

	sess := &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: version,
		Client:          params.ClientInfo,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		logger.Error(ctx, "Session create failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInternalError, Message: "Internal error"}})
		return
	}
	s.metrics.SessionOpened()
	logger.Info(ctx, "MCP session created", "session_id", sess.ID, "client", params.ClientInfo.Name, "protocol_version", version)

	c.Header(HeaderSessionID, sess.ID)
	s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      Implementation{Name: ServerName, Version: ServerVersion},
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
	}})
}

func (s *Server) callTool(c *gin.Context, req *incoming) {
	ctx := c.Request.Context()
	var params CallToolParams
	if err := sonic.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		msg := "Invalid params: tool name is required"
		if err != nil {
			msg = "Invalid params: " + err.Error()
		}
		s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidParams, Message: msg}})
		return
	}
	t, ok := s.lookup(params.Name)
	if !ok {
		s.reply(c, Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidParams, Message: "Unknown tool: " + params.Name}})
		return
	}

	w := newSSEWriter(c, http.StatusOK)
	var token any
	if params.Meta != nil {
		token = params.Meta.ProgressToken
	}
	if token != nil {
		_ = w.event(Notification{JSONRPC: JSONRPCVersion, Method: MethodProgress, Params: map[string]any{
			"progressToken": token, "progress": 0, "total": 1, "message": "running " + params.Name,
		}})
	}

	type outcome struct {
		text string
		err  error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "Tool panicked", "tool", params.Name, "panic", r)
				done <- outcome{err: errors.New("internal tool error")}
			}
		}()
		text, err := t.handler(ctx, params.Arguments)
		done <- outcome{text: text, err: err}
	}()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	var out outcome
wait:
	for {
		select {
		case out = <-done:
			break wait
		case <-tick:
			w.comment("ping")
		case <-ctx.Done():
			logger.Warn(context.WithoutCancel(ctx), "Client went away during tool call", "tool", params.Name)
			s.metrics.RecordToolCall(params.Name, "canceled", time.Since(start))
			return
		}
	}

	status := "ok"
	var resp Response
	switch {
	case out.err == nil:
		resp = Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: textResult(out.text, false)}
	case errors.Is(out.err, ErrInvalidArguments):
		status = "invalid"
		resp = Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: &RPCError{Code: CodeInvalidParams, Message: out.err.Error()}}
	default:
		status = "error"
		logger.Error(ctx, "Tool failed", "tool", params.Name, "error", out.err)
		resp = Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: textResult(out.err.Error(), true)}
	}
	s.metrics.RecordToolCall(params.Name, status, time.Since(start))

	if token != nil {
		_ = w.event(Notification{JSONRPC: JSONRPCVersion, Method: MethodProgress, Params: map[string]any{
			"progressToken": token, "progress": 1, "total": 1,
		}})
	}
	if err := w.event(resp); err != nil {
		logger.Error(ctx, "Write tool result failed", "tool", params.Name, "error", err)
		return
	}
	w.done()
}

// reply writes a single response event followed by the end marker.
func (s *Server) reply(c *gin.Context, resp Response) {
	w := newSSEWriter(c, http.StatusOK)
	if err := w.event(resp); err != nil {
		logger.Error(c.Request.Context(), "Write response failed", "error", err)
		return
	}
	w.done()
}

// HandleDelete ends a session.
func (s *Server) HandleDelete(c *gin.Context) {
	ctx := c.Request.Context()
	sid := c.GetHeader(HeaderSessionID)
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session ID"})
		return
	}
	if err := s.sessions.Delete(ctx, sid); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		logger.Error(ctx, "Session delete failed", "session_id", sid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.metrics.SessionClosed()
	logger.Info(ctx, "MCP session deleted", "session_id", sid)
	c.Status(http.StatusNoContent)
}
