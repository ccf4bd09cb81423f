package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chongs12/agentic-rag/internal/audit"
	"github.com/chongs12/agentic-rag/internal/chunker"
	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/internal/vector"
	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/metrics"
	"github.com/chongs12/agentic-rag/pkg/utils"
)

// upsertBatch bounds the number of chunks sent to the store per call.
const upsertBatch = 64

// Ingestor extracts, chunks and indexes documents.
type Ingestor struct {
	store     vector.Store
	chunker   *chunker.Chunker
	extractor Extractor
	audit     audit.Recorder
	metrics   *metrics.BusinessMetrics
	newToken  func() string
}

type Option func(*Ingestor)

func WithExtractor(e Extractor) Option { return func(i *Ingestor) { i.extractor = e } }

func WithAudit(r audit.Recorder) Option { return func(i *Ingestor) { i.audit = r } }

// WithTokenFunc overrides the per-run upload token generator.
func WithTokenFunc(fn func() string) Option { return func(i *Ingestor) { i.newToken = fn } }

func NewIngestor(store vector.Store, chk *chunker.Chunker, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:     store,
		chunker:   chk,
		extractor: FileExtractor{},
		audit:     audit.Nop{},
		metrics:   metrics.Default(),
		newToken:  uploadToken,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func uploadToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ChunkID builds the id of chunk i of a file ingested under token.
func ChunkID(stem, token string, i int) string {
	return fmt.Sprintf("%s-%s-c%d", stem, token, i)
}

// IngestFile indexes the file at path under its base name and returns the
// number of chunks written.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	return in.IngestAs(ctx, path, filepath.Base(path))
}

// IngestAs indexes the file at path under the given source name.
func (in *Ingestor) IngestAs(ctx context.Context, path, source string) (int, error) {
	start := time.Now()
	token := in.newToken()
	rec := &models.IngestRecord{Source: source, FilePath: path, UploadID: token}

	chunks, err := in.build(path, source, token)
	if err == nil {
		err = in.upsert(ctx, chunks)
	}

	status := audit.StatusSuccess
	switch {
	case errors.Is(err, ErrNoText):
		status = "no_text"
	case err != nil:
		status = audit.StatusFailed
	}
	rec.Status = status
	if err != nil {
		rec.Error = err.Error()
		logger.Warn(ctx, "Ingestion failed", "source", source, "error", err)
	} else {
		rec.ChunkCount = len(chunks)
		logger.Info(ctx, "Document ingested", "source", source, "chunks", len(chunks), "upload_id", token)
	}
	in.metrics.RecordIngest(status, rec.ChunkCount, time.Since(start))
	in.audit.RecordIngest(ctx, rec)

	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// build extracts and chunks one file. Chunk numbering runs across pages.
func (in *Ingestor) build(path, source, token string) ([]models.Chunk, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, utils.GetFileExtension(path))
	}
	pages, err := in.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	stem := utils.FileStem(source)
	var out []models.Chunk
	for _, p := range pages {
		for _, text := range in.chunker.Split(p.Text) {
			out = append(out, models.Chunk{
				Text:    text,
				Source:  source,
				Page:    p.Number,
				ChunkID: ChunkID(stem, token, len(out)),
			})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoText
	}
	return out, nil
}

func (in *Ingestor) upsert(ctx context.Context, chunks []models.Chunk) error {
	for lo := 0; lo < len(chunks); lo += upsertBatch {
		hi := min(lo+upsertBatch, len(chunks))
		texts := make([]string, 0, hi-lo)
		metas := make([]vector.Metadata, 0, hi-lo)
		ids := make([]string, 0, hi-lo)
		for _, c := range chunks[lo:hi] {
			texts = append(texts, c.Text)
			metas = append(metas, vector.Metadata(c.Metadata()))
			ids = append(ids, c.ChunkID)
		}
		if err := in.store.Upsert(ctx, texts, metas, ids); err != nil {
			return fmt.Errorf("upsert chunks %d-%d: %w", lo, hi, err)
		}
	}
	return nil
}
