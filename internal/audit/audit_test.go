package audit

import (
	"context"
	"os"
	"testing"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/pkg/config"
)

func TestOpenDisabledReturnsNop(t *testing.T) {
	rec, closeFn, err := Open(context.Background(), &config.DatabaseConfig{Enabled: false})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := rec.(Nop); !ok {
		t.Fatalf("expected Nop recorder, got %T", rec)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec.RecordIngest(context.Background(), &models.IngestRecord{Source: "a.txt"})
	rec.RecordQuery(context.Background(), &models.QueryRecord{Question: "q"})
}

func TestGormRecorder_SkipIfNoEnv(t *testing.T) {
	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("DB_HOST not set")
	}
	cfg := &config.DatabaseConfig{
		Enabled:  true,
		Host:     host,
		Port:     envOr("DB_PORT", "3306"),
		Username: envOr("DB_USERNAME", "root"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: envOr("DB_NAME", "agentic_rag"),
	}
	ctx := context.Background()
	rec, closeFn, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()

	g, ok := rec.(*GormRecorder)
	if !ok {
		t.Fatalf("expected GormRecorder, got %T", rec)
	}
	in := &models.IngestRecord{Source: "audit-test.txt", ChunkCount: 3, Status: StatusSuccess}
	g.RecordIngest(ctx, in)
	var got models.IngestRecord
	if err := g.db.WithContext(ctx).First(&got, "id = ?", in.ID).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.ChunkCount != 3 || got.Source != "audit-test.txt" {
		t.Fatalf("unexpected row: %+v", got)
	}
	g.db.WithContext(ctx).Delete(&got)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
