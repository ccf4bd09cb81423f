package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chongs12/agentic-rag/internal/audit"
	"github.com/chongs12/agentic-rag/internal/chunker"
	"github.com/chongs12/agentic-rag/internal/ingest"
	"github.com/chongs12/agentic-rag/internal/vector"
	"github.com/chongs12/agentic-rag/pkg/config"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

var (
	cfg     *config.Config
	pattern string
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest .txt and .pdf documents into the vector store",
	Long: `ingest chunks documents and writes them to the configured vector store.

Examples:
  ingest dir ./data                  # ingest every .txt/.pdf below ./data
  ingest dir ./data -p "**/*.pdf"    # only PDFs
  ingest enqueue ./data              # publish one job per file to RabbitMQ
  ingest worker                      # consume jobs from RabbitMQ`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&pattern, "pattern", "p", ingest.DefaultPattern, "doublestar pattern relative to the directory")
	rootCmd.AddCommand(dirCmd, enqueueCmd, workerCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newIngestor opens the store, embedder and audit recorder from cfg. The
// returned cleanup closes all of them.
func newIngestor(ctx context.Context) (*ingest.Ingestor, func(), error) {
	recorder, closeAudit, err := audit.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	emb, err := vector.NewEmbedder(ctx, cfg)
	if err != nil {
		closeAudit()
		return nil, nil, err
	}
	opener, err := vector.NewOpener(cfg, emb)
	if err != nil {
		closeAudit()
		return nil, nil, err
	}
	store := vector.NewLazy(opener)
	in := ingest.NewIngestor(store,
		chunker.New(chunker.Options{Size: cfg.Chunker.Size, Overlap: cfg.Chunker.Overlap}),
		ingest.WithAudit(recorder),
	)
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn(ctx, "Vector store close failed", "error", err)
		}
		_ = closeAudit()
	}
	return in, cleanup, nil
}
