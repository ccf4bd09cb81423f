package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chongs12/agentic-rag/internal/audit"
	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/ingest"
	"github.com/chongs12/agentic-rag/internal/mcp"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
	"github.com/chongs12/agentic-rag/pkg/utils"
)

const (
	// QueryTopK is the top_k sent with every document_search call.
	QueryTopK = 8
	// MaxAnswerSources caps the hits returned next to an answer.
	MaxAnswerSources = 6

	documentSearchID = 1
	webSearchID      = 2
)

// ToolCaller is the protocol client surface the backend needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args any, requestID int) (*mcp.Event, error)
	Terminate(ctx context.Context) error
}

// Ingester indexes one uploaded file under a source name.
type Ingester interface {
	IngestAs(ctx context.Context, path, source string) (int, error)
}

type Options struct {
	UploadDir   string
	MaxFileSize int64
	Audit       audit.Recorder
}

// Handler 后端问答与上传接口
type Handler struct {
	tools       ToolCaller
	ingester    Ingester
	recent      *ingest.RecentSources
	audit       audit.Recorder
	metrics     *metrics.BusinessMetrics
	uploadDir   string
	maxFileSize int64
}

func NewHandler(tools ToolCaller, ingester Ingester, recent *ingest.RecentSources, opts Options) *Handler {
	h := &Handler{
		tools:       tools,
		ingester:    ingester,
		recent:      recent,
		audit:       opts.Audit,
		metrics:     metrics.Default(),
		uploadDir:   opts.UploadDir,
		maxFileSize: opts.MaxFileSize,
	}
	if h.audit == nil {
		h.audit = audit.Nop{}
	}
	if h.uploadDir == "" {
		h.uploadDir = "./uploaded_docs"
	}
	return h
}

// QueryRequest 问答请求体
type QueryRequest struct {
	Question string `json:"question" binding:"required"`
}

// UploadDocument saves a .txt/.pdf upload, ingests it and records it as a
// recent source.
func (h *Handler) UploadDocument(c *gin.Context) {
	ctx := c.Request.Context()
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	name := utils.SanitizeFilename(fh.Filename)
	if name == "" || !ingest.Supported(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.MsgUnsupportedType})
		return
	}
	if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large: %d bytes (max %d)", fh.Size, h.maxFileSize)})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		logger.Error(ctx, "Failed to create upload dir", "dir", h.uploadDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}
	path := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		logger.Error(ctx, "Failed to save upload", "path", path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	n, err := h.ingester.IngestAs(ctx, path, name)
	switch {
	case errors.Is(err, ingest.ErrNoText):
		c.JSON(http.StatusBadRequest, gin.H{"error": models.MsgNoText})
		return
	case errors.Is(err, ingest.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": models.MsgUnsupportedType})
		return
	case err != nil:
		logger.Error(ctx, "Ingestion failed", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		return
	}

	h.recent.Add(name)
	logger.Info(ctx, "Upload ingested", "source", name, "chunks", n)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf(models.MsgUploaded, name, n)})
}

// Query answers a question from the recently uploaded documents, falling
// back to web results. Service failures are reported with a fixed message.
func (h *Handler) Query(c *gin.Context) {
	ctx := c.Request.Context()
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	start := time.Now()
	sources := h.recent.Snapshot()
	rec := &models.QueryRecord{Question: q, Sources: strings.Join(sources, ",")}
	defer func() {
		rec.ProcessingTime = time.Since(start).Milliseconds()
		h.audit.RecordQuery(context.WithoutCancel(ctx), rec)
	}()

	ev, err := h.tools.CallTool(ctx, mcp.ToolDocumentSearch, models.DocumentSearchArgs{Query: q, TopK: QueryTopK, Sources: sources}, documentSearchID)
	if err != nil {
		logger.Error(ctx, "document_search failed", "query", q, "error", err)
		rec.Status = "unavailable"
		c.JSON(http.StatusOK, gin.H{"answer": models.MsgServiceDown})
		return
	}
	payload, err := mcp.ParseDocumentSearch(ev)
	if err != nil {
		logger.Warn(ctx, "Unreadable document_search result", "query", q, "error", err)
	}
	rec.HitCount = len(payload.Hits)
	rec.UsedFallback = payload.UsedFallback

	switch {
	case len(payload.Hits) > 0:
		rec.Status = "found"
		hits := payload.Hits
		if len(hits) > MaxAnswerSources {
			hits = hits[:MaxAnswerSources]
		}
		c.JSON(http.StatusOK, gin.H{"answer": payload.Answer, "sources": hits})
	case len(sources) > 0:
		rec.Status = "scoped_not_found"
		c.JSON(http.StatusOK, gin.H{"answer": models.MsgScopedNotFound, "sources": []models.Hit{}})
	case payload.UsedFallback && len(payload.WebHits) > 0:
		rec.Status = "web_fallback"
		c.JSON(http.StatusOK, gin.H{"answer": payload.Answer, "web": payload.WebHits})
	case payload.UsedFallback:
		rec.Status = "not_found"
		c.JSON(http.StatusOK, gin.H{"answer": models.MsgNothingFound})
	default:
		h.webInstead(c, q, rec)
	}
}

func (h *Handler) webInstead(c *gin.Context, q string, rec *models.QueryRecord) {
	ctx := c.Request.Context()
	rec.UsedFallback = true
	ev, err := h.tools.CallTool(ctx, mcp.ToolWebSearch, models.WebSearchArgs{Query: q}, webSearchID)
	if err != nil {
		logger.Error(ctx, "web_search failed", "query", q, "error", err)
		h.metrics.RecordWebFallback("error")
		rec.Status = "unavailable"
		c.JSON(http.StatusOK, gin.H{"answer": models.MsgServiceDown})
		return
	}
	web, err := mcp.ParseWebSearch(ev)
	if err != nil {
		logger.Warn(ctx, "Unreadable web_search result", "query", q, "error", err)
	}
	if web.Error != "" {
		logger.Warn(ctx, "web_search reported an error", "query", q, "error", web.Error)
	}
	if len(web.Hits) == 0 {
		h.metrics.RecordWebFallback("empty")
		rec.Status = "not_found"
		c.JSON(http.StatusOK, gin.H{"answer": models.MsgNothingFound})
		return
	}
	h.metrics.RecordWebFallback("ok")
	rec.Status = "web_fallback"
	c.JSON(http.StatusOK, gin.H{"answer": models.MsgWebInstead, "web": web.Hits})
}

// Sources lists the recently ingested documents that scope queries.
func (h *Handler) Sources(c *gin.Context) {
	sources := h.recent.Snapshot()
	if sources == nil {
		sources = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

// EndSession terminates the protocol session; the next query opens a new one.
func (h *Handler) EndSession(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.tools.Terminate(ctx); err != nil {
		logger.Warn(ctx, "Session terminate failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "session terminate failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}

// SetupRoutes 注册路由
func (h *Handler) SetupRoutes(r gin.IRoutes) {
	r.POST("/upload_document/", h.UploadDocument)
	r.POST("/query/", h.Query)
	r.GET("/sources", h.Sources)
	r.DELETE("/session", h.EndSession)
}
