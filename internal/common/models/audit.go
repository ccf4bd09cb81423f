package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IngestRecord struct {
	ID         uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Source     string    `gorm:"type:varchar(255);not null;index" json:"source"`
	FilePath   string    `gorm:"type:varchar(500)" json:"file_path"`
	UploadID   string    `gorm:"type:varchar(64);index" json:"upload_id"`
	ChunkCount int       `gorm:"default:0" json:"chunk_count"`
	Status     string    `gorm:"type:varchar(20);default:'pending'" json:"status"`
	Error      string    `gorm:"type:text" json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *IngestRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r *IngestRecord) TableName() string {
	return "ingest_records"
}

type QueryRecord struct {
	ID             uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Question       string    `gorm:"type:text;not null" json:"question"`
	Sources        string    `gorm:"type:text" json:"sources"`
	Status         string    `gorm:"type:varchar(32);index" json:"status"`
	HitCount       int       `gorm:"default:0" json:"hit_count"`
	UsedFallback   bool      `gorm:"default:false" json:"used_fallback"`
	ProcessingTime int64     `gorm:"default:0" json:"processing_time"`
	CreatedAt      time.Time `json:"created_at"`
}

func (q *QueryRecord) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

func (q *QueryRecord) TableName() string {
	return "query_records"
}
