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
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chongs12/agentic-rag/internal/mcp"
	"github.com/chongs12/agentic-rag/internal/retrieval"
	"github.com/chongs12/agentic-rag/internal/synth"
	"github.com/chongs12/agentic-rag/internal/vector"
	"github.com/chongs12/agentic-rag/internal/websearch"
	"github.com/chongs12/agentic-rag/pkg/config"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
	"github.com/chongs12/agentic-rag/pkg/middleware"
	"github.com/chongs12/agentic-rag/pkg/tracing"
	"github.com/chongs12/agentic-rag/pkg/utils"
)

const serviceName = "mcp-server"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	logger.Info(ctx, "Starting MCP server", "service", serviceName, "environment", cfg.Server.Mode)

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

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	var sessions mcp.SessionStore
	if cfg.MCP.SessionStore == "redis" {
		if rdb == nil {
			logger.Error(ctx, "Redis session store selected but redis.host is empty")
			os.Exit(1)
		}
		sessions = mcp.NewRedisSessionStore(rdb, cfg.MCP.SessionTTL)
	} else {
		sessions = mcp.NewMemorySessionStore(cfg.MCP.SessionTTL)
	}

	// 向量库在首次查询时才连接
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

	var web websearch.Searcher = websearch.NewSerper(cfg.Serper.APIKey, cfg.Serper.URL)
	if rdb != nil && cfg.Serper.CacheTTL > 0 {
		web = websearch.NewCached(web, rdb, cfg.Serper.CacheTTL)
	}

	engine := retrieval.NewEngine(store, web, retrieval.Options{
		WebFallback:    cfg.Retrieval.WebFallback,
		ScopedFallback: cfg.Retrieval.ScopedFallback,
		DefaultTopK:    cfg.Retrieval.TopK,
	})

	synthOpts := synth.Options{Temperature: float32(cfg.Synth.Temperature), MaxTokens: cfg.Synth.MaxTokens}
	var gen synth.Generator
	if cfg.Synth.Enabled && cfg.Ark.APIKey != "" {
		chat, err := synth.NewArkGenerator(ctx, cfg.Ark.APIKey, cfg.Synth.Model, cfg.Ark.BaseURL, cfg.Ark.Region, synthOpts)
		if err != nil {
			logger.Warn(ctx, "Ark chat model unavailable, using extractive answers", "error", err.Error())
		} else {
			gen = chat
		}
	}
	answerer := synth.New(gen, synthOpts)

	server := mcp.NewServer(sessions, mcp.ServerOptions{Heartbeat: cfg.MCP.Heartbeat})
	server.RegisterTool(mcp.DocumentSearchTool(engine, answerer, cfg.Retrieval.TopK))
	server.RegisterTool(mcp.WebSearchTool(web))

	var auth *middleware.ServiceAuth
	if cfg.MCP.AuthSecret != "" {
		auth = middleware.NewServiceAuth(utils.NewTokenManager(cfg.MCP.AuthSecret, cfg.MCP.AuthIssuer, 0))
	}

	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	hm := metrics.NewHTTPMetrics(metrics.DefaultRegistry(), metrics.Namespace, serviceName)
	router.Use(metrics.MetricsMiddleware(serviceName, hm))
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler(metrics.DefaultRegistry())))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName, "timestamp": time.Now().Unix()})
	})
	server.SetupRoutes(router, auth.Require())

	// write timeout defaults to 0: tool calls stream for as long as they run
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info(ctx, "Starting HTTP server", "port", cfg.Server.Port)
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
	logger.Info(ctx, "Server exited")
}
