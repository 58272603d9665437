package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/docstore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRecord is one persisted document; the payload is stored as JSON.
type DocumentRecord struct {
	Collection string         `gorm:"primaryKey;size:255"`
	DocID      string         `gorm:"primaryKey;size:64"`
	Data       datatypes.JSON `gorm:"not null"`
	UpdatedAt  time.Time
}

func (DocumentRecord) TableName() string { return "documents" }

// DocumentRepository implements docstore.Persister.
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) (*DocumentRepository, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &DocumentRepository{db: db}, nil
}

func (r *DocumentRepository) SaveDocument(ctx context.Context, doc docstore.Document) error {
	payload, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.Ref.Path(), err)
	}
	rec := DocumentRecord{
		Collection: doc.Ref.Collection,
		DocID:      doc.Ref.ID,
		Data:       datatypes.JSON(payload),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (r *DocumentRepository) DeleteDocument(ctx context.Context, ref docstore.Ref) error {
	return r.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).
		Delete(&DocumentRecord{}).Error
}

func (r *DocumentRepository) LoadDocuments(ctx context.Context) ([]docstore.Document, error) {
	var recs []DocumentRecord
	if err := r.db.WithContext(ctx).Order("collection, doc_id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]docstore.Document, 0, len(recs))
	for _, rec := range recs {
		var data map[string]any
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", rec.Collection, rec.DocID, err)
		}
		out = append(out, docstore.Document{
			Ref:  docstore.Ref{Collection: rec.Collection, ID: rec.DocID},
			Data: data,
		})
	}
	return out, nil
}

var _ docstore.Persister = (*DocumentRepository)(nil)
