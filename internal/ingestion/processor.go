package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/extract"
	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/internal/rag"
	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/internal/storage/sqlite"
	"github.com/invoice-agent/backend/pkg/logger"
)

// Processor turns an uploaded file into a stored, indexed document.
type Processor struct {
	db       *sqlite.Client
	pipeline *rag.Pipeline
}

func NewProcessor(db *sqlite.Client, pipeline *rag.Pipeline) *Processor {
	return &Processor{db: db, pipeline: pipeline}
}

// Ingest extracts text, persists the document, and indexes its chunks. The
// document row is written before indexing so a failed embedding pass leaves a
// re-indexable document rather than nothing.
func (p *Processor) Ingest(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	text, err := extract.Text(filename, data)
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", filename, err)
	}

	now := time.Now()
	doc := &models.Document{
		ID:               uuid.New().String(),
		Filename:         filename,
		FileType:         strings.TrimPrefix(filepath.Ext(filename), "."),
		ValidationStatus: models.StatusPending,
		RawText:          text,
		UploadedAt:       now,
		UpdatedAt:        now,
	}

	if err := p.db.InsertDocument(doc); err != nil {
		return nil, fmt.Errorf("storing document %s: %w", filename, err)
	}

	chunks, err := p.pipeline.Index(ctx, doc.ID, text)
	if err != nil {
		logger.Error("Indexing failed after upload",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
		return doc, fmt.Errorf("indexing document %s: %w", doc.ID, err)
	}

	metrics.DocumentsIngested.Inc()
	logger.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.String("filename", filename),
		zap.Int("chunks", chunks),
	)

	return doc, nil
}

// Reindex rebuilds a stored document's chunk set from its raw text.
func (p *Processor) Reindex(ctx context.Context, documentID string) (int, error) {
	doc, err := p.db.GetDocument(documentID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, fmt.Errorf("document not found: %s", documentID)
	}

	return p.pipeline.Index(ctx, documentID, doc.RawText)
}
