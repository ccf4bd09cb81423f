package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chongs12/agentic-rag/pkg/logger"
)

// Job asks a worker to ingest one file.
type Job struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}

// Publisher is the sending side of the ingestion queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// FileIngester is what a worker needs from the ingestor.
type FileIngester interface {
	IngestAs(ctx context.Context, path, source string) (int, error)
}

// Enqueue publishes one job per path and returns how many were sent.
func Enqueue(ctx context.Context, pub Publisher, paths []string) (int, error) {
	for i, p := range paths {
		body, err := sonic.Marshal(Job{Path: p, Source: filepath.Base(p)})
		if err != nil {
			return i, err
		}
		if err := pub.Publish(ctx, body); err != nil {
			return i, fmt.Errorf("publish %s: %w", p, err)
		}
	}
	return len(paths), nil
}

// Worker consumes ingestion jobs. Successful jobs are acked; malformed or
// failed jobs are nacked without requeue so they land in the dead-letter
// queue.
type Worker struct {
	ingester FileIngester
}

func NewWorker(ingester FileIngester) *Worker {
	return &Worker{ingester: ingester}
}

// Run processes deliveries until ctx is done or the channel closes.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := sonic.Unmarshal(d.Body, &job); err != nil || job.Path == "" {
		logger.Error(ctx, "Malformed ingestion job", "body", string(d.Body), "error", err)
		_ = d.Nack(false, false)
		return
	}
	if job.Source == "" {
		job.Source = filepath.Base(job.Path)
	}
	n, err := w.ingester.IngestAs(ctx, job.Path, job.Source)
	if err != nil {
		logger.Error(ctx, "Ingestion job failed", "path", job.Path, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Error(ctx, "Nack failed", "error", nackErr)
		}
		return
	}
	logger.Info(ctx, "Ingestion job done", "path", job.Path, "chunks", n)
	if err := d.Ack(false); err != nil {
		logger.Error(ctx, "Ack failed", "error", err)
	}
}
