package audit

import (
	"context"

	"gorm.io/gorm"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/pkg/config"
	"github.com/chongs12/agentic-rag/pkg/database"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorder stores audit rows. Implementations never fail the caller.
type Recorder interface {
	RecordIngest(ctx context.Context, rec *models.IngestRecord)
	RecordQuery(ctx context.Context, rec *models.QueryRecord)
}

// Nop discards every record.
type Nop struct{}

func (Nop) RecordIngest(context.Context, *models.IngestRecord) {}
func (Nop) RecordQuery(context.Context, *models.QueryRecord)   {}

// GormRecorder writes audit rows through gorm.
type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

// Migrate creates the audit tables.
func (g *GormRecorder) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&models.IngestRecord{}, &models.QueryRecord{})
}

func (g *GormRecorder) RecordIngest(ctx context.Context, rec *models.IngestRecord) {
	if err := g.db.WithContext(ctx).Create(rec).Error; err != nil {
		logger.Warn(ctx, "Failed to record ingestion", "source", rec.Source, "error", err)
	}
}

func (g *GormRecorder) RecordQuery(ctx context.Context, rec *models.QueryRecord) {
	if err := g.db.WithContext(ctx).Create(rec).Error; err != nil {
		logger.Warn(ctx, "Failed to record query", "status", rec.Status, "error", err)
	}
}

// Open returns a gorm recorder when the database is enabled and a no-op
// recorder otherwise. The returned close function is never nil.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Recorder, func() error, error) {
	if cfg == nil || !cfg.Enabled {
		return Nop{}, func() error { return nil }, nil
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	rec := NewGormRecorder(db.DB)
	if err := db.Migrate(ctx, &models.IngestRecord{}, &models.QueryRecord{}); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return rec, db.Close, nil
}
