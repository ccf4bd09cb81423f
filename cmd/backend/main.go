package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chongs12/agentic-rag/internal/api"
	"github.com/chongs12/agentic-rag/internal/audit"
	"github.com/chongs12/agentic-rag/internal/chunker"
	"github.com/chongs12/agentic-rag/internal/ingest"
	"github.com/chongs12/agentic-rag/internal/mcp"
	"github.com/chongs12/agentic-rag/internal/vector"
	"github.com/chongs12/agentic-rag/pkg/config"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
	"github.com/chongs12/agentic-rag/pkg/middleware"
	"github.com/chongs12/agentic-rag/pkg/tracing"
	"github.com/chongs12/agentic-rag/pkg/utils"
)

const serviceName = "backend"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	logger.Info(ctx, "Starting backend", "service", serviceName, "environment", cfg.Server.Mode, "mcp_url", cfg.MCP.URL)

	shutdownTracer, err := tracing.Setup(ctx, cfg.Tracing.Enabled, serviceName, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		logger.Error(ctx, "Failed to init tracer", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			logger.Error(ctx, "Failed to shutdown tracer", "error", err.Error())
		}
	}()

	recorder, closeAudit, err := audit.Open(ctx, &cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to initialize audit database", "error", err.Error())
		os.Exit(1)
	}
	defer closeAudit()

	emb, err := vector.NewEmbedder(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "Failed to initialize embedder", "error", err.Error())
		os.Exit(1)
	}
	opener, err := vector.NewOpener(cfg, emb)
	if err != nil {
		logger.Error(ctx, "Failed to configure vector store", "error", err.Error())
		os.Exit(1)
	}
	store := vector.NewLazy(opener)
	defer store.Close()

	ingestor := ingest.NewIngestor(store,
		chunker.New(chunker.Options{Size: cfg.Chunker.Size, Overlap: cfg.Chunker.Overlap}),
		ingest.WithAudit(recorder),
	)

	clientOpts := []mcp.ClientOption{
		mcp.WithProtocolVersion(cfg.MCP.ProtocolVersion),
		mcp.WithTimeout(cfg.MCP.Timeout),
	}
	if cfg.MCP.RetryAttempts > 0 {
		clientOpts = append(clientOpts, mcp.WithRetry(mcp.RetryPolicy{Attempts: cfg.MCP.RetryAttempts, Backoff: cfg.MCP.RetryBackoff}))
	}
	if cfg.MCP.AuthSecret != "" {
		// 服务令牌有效期覆盖进程生命周期
		tokens := utils.NewTokenManager(cfg.MCP.AuthSecret, cfg.MCP.AuthIssuer, 365*24*time.Hour)
		token, err := tokens.Issue(serviceName)
		if err != nil {
			logger.Error(ctx, "Failed to issue service token", "error", err.Error())
			os.Exit(1)
		}
		clientOpts = append(clientOpts, mcp.WithBearerToken(token))
	}
	client := mcp.NewClient(cfg.MCP.URL, clientOpts...)

	handler := api.NewHandler(client, ingestor, ingest.NewRecentSources(cfg.Retrieval.RecentCapacity), api.Options{
		UploadDir:   cfg.Storage.UploadPath,
		MaxFileSize: cfg.Storage.MaxFileSize,
		Audit:       recorder,
	})

	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	hm := metrics.NewHTTPMetrics(metrics.DefaultRegistry(), metrics.Namespace, serviceName)
	router.Use(metrics.MetricsMiddleware(serviceName, hm))
	if cfg.Storage.MaxFileSize > 0 {
		router.MaxMultipartMemory = cfg.Storage.MaxFileSize
	}
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler(metrics.DefaultRegistry())))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName, "mcp_session": client.State().String(), "timestamp": time.Now().Unix()})
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.BackendPort),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		logger.Info(ctx, "Starting HTTP server", "port", cfg.Server.BackendPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Server forced to shutdown", "error", err.Error())
	}
	if err := client.Terminate(shutdownCtx); err != nil {
		logger.Warn(ctx, "MCP session terminate failed", "error", err.Error())
	}
	logger.Info(ctx, "Server exited")
}
