package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/chongs12/agentic-rag/internal/ingest"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/rabbitmq"
)

var prefetch int

var dirCmd = &cobra.Command{
	Use:   "dir [path]",
	Short: "Ingest every matching file below a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		root := "./data"
		if len(args) > 0 {
			root = args[0]
		}
		in, cleanup, err := newIngestor(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		var bar *progressbar.ProgressBar
		start := time.Now()
		res, err := in.WalkDir(ctx, root, pattern, func(processed, total int, path string) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription("Ingesting"),
					progressbar.OptionOnCompletion(func() { fmt.Fprintln(cmd.ErrOrStderr()) }),
				)
			}
			bar.Describe(filepath.Base(path))
			_ = bar.Set(processed)
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\nIngestion complete in %s:\n", time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "  Files ingested: %d\n", res.Files)
		fmt.Fprintf(out, "  Chunks written: %d\n", res.Chunks)
		for _, s := range res.Skipped {
			fmt.Fprintf(out, "  Skipped (no text): %s\n", s)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  Failed: %v\n", e)
		}
		return err
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [path]",
	Short: "Publish one ingestion job per matching file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		files, err := ingest.Collect(args[0], pattern)
		if err != nil {
			return err
		}
		mq, err := rabbitmq.NewClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return err
		}
		defer mq.Close()

		n, err := ingest.Enqueue(ctx, mq, files)
		fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d/%d files to %s\n", n, len(files), mq.Queue())
		return err
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume ingestion jobs until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		in, cleanup, err := newIngestor(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		mq, err := rabbitmq.NewClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return err
		}
		defer mq.Close()
		deliveries, err := mq.Consume(prefetch)
		if err != nil {
			return err
		}
		logger.Info(ctx, "Ingestion worker started", "queue", mq.Queue(), "dead_letter_queue", rabbitmq.DeadLetterQueue(mq.Queue()))
		if err := ingest.NewWorker(in).Run(ctx, deliveries); err != nil && ctx.Err() == nil {
			return err
		}
		logger.Info(ctx, "Ingestion worker stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&prefetch, "prefetch", 4, "maximum unacknowledged jobs")
}
