package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/chongs12/agentic-rag/pkg/logger"
)

// DefaultPattern matches every supported file below the root.
const DefaultPattern = "**/*.{txt,pdf}"

// ProgressFunc is called after each file with the processed and total counts.
type ProgressFunc func(processed, total int, path string)

// WalkResult summarizes a directory ingestion.
type WalkResult struct {
	Files   int
	Chunks  int
	Skipped []string
	Errors  []error
}

// Collect returns the supported files under dir that match pattern, sorted.
func Collect(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if Supported(m) {
			files = append(files, filepath.Join(root, filepath.FromSlash(m)))
		}
	}
	sort.Strings(files)
	return files, nil
}

// WalkDir ingests every matching file under dir. Files without text are
// skipped; other failures are collected and ingestion continues.
func (in *Ingestor) WalkDir(ctx context.Context, dir, pattern string, progress ProgressFunc) (WalkResult, error) {
	var res WalkResult
	files, err := Collect(dir, pattern)
	if err != nil {
		return res, err
	}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := in.IngestFile(ctx, path)
		switch {
		case errors.Is(err, ErrNoText):
			res.Skipped = append(res.Skipped, path)
		case err != nil:
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", path, err))
		default:
			res.Files++
			res.Chunks += n
		}
		if progress != nil {
			progress(i+1, len(files), path)
		}
	}
	logger.Info(ctx, "Directory ingested", "dir", dir, "files", res.Files, "chunks", res.Chunks, "skipped", len(res.Skipped), "failed", len(res.Errors))
	return res, errors.Join(res.Errors...)
}
