package tools

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/storage/sqlite"
	"github.com/invoice-agent/backend/internal/validation"
	"github.com/invoice-agent/backend/pkg/logger"
)

// DocumentIndex removes a document from the retrieval path: its chunks, its
// vector index entry, and any cached answers.
type DocumentIndex interface {
	Remove(ctx context.Context, documentID string) error
}

// InvoiceToolbox backs the Toolbox interface with the document store,
// validator and exporter.
type InvoiceToolbox struct {
	db        *sqlite.Client
	validator *validation.Validator
	index     DocumentIndex
	exporter  *Exporter
}

func NewInvoiceToolbox(db *sqlite.Client, validator *validation.Validator, index DocumentIndex, exporter *Exporter) *InvoiceToolbox {
	return &InvoiceToolbox{
		db:        db,
		validator: validator,
		index:     index,
		exporter:  exporter,
	}
}

func (t *InvoiceToolbox) ListInvoices(ctx context.Context) Result {
	docs, err := t.db.ListDocuments(50)
	if err != nil {
		logger.Error("Failed to list invoices", zap.Error(err))
		return fail(err.Error())
	}

	invoices := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		invoices = append(invoices, map[string]interface{}{
			"id":       doc.ID,
			"filename": doc.Filename,
			"status":   doc.ValidationStatus,
			"vendor":   doc.Metadata.Vendor,
			"total":    doc.Metadata.Total,
		})
	}

	return ok(map[string]interface{}{
		"count":    len(invoices),
		"invoices": invoices,
	})
}

func (t *InvoiceToolbox) SearchInvoices(ctx context.Context, query string) Result {
	docs, err := t.db.SearchDocuments(query)
	if err != nil {
		logger.Error("Failed to search invoices", zap.Error(err))
		return fail(err.Error())
	}

	results := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		results = append(results, map[string]interface{}{
			"id":       doc.ID,
			"filename": doc.Filename,
			"status":   doc.ValidationStatus,
		})
	}

	return ok(map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (t *InvoiceToolbox) GetInvoiceDetails(ctx context.Context, documentID string) Result {
	doc, err := t.db.GetDocument(documentID)
	if err != nil {
		logger.Error("Failed to get invoice details", zap.Error(err))
		return fail(err.Error())
	}
	if doc == nil {
		return fail("Invoice not found")
	}

	data := map[string]interface{}{
		"id":       doc.ID,
		"filename": doc.Filename,
		"status":   doc.ValidationStatus,
		"metadata": map[string]interface{}{
			"vendor":         doc.Metadata.Vendor,
			"invoice_number": doc.Metadata.InvoiceNumber,
			"date":           doc.Metadata.Date,
			"total":          doc.Metadata.Total,
			"currency":       doc.Metadata.Currency,
		},
	}

	latest, err := t.db.GetLatestValidation(documentID)
	if err != nil {
		logger.Warn("Failed to load validation for details", zap.Error(err))
	} else if latest != nil {
		data["validation"] = latest
	}

	return ok(data)
}

func (t *InvoiceToolbox) ValidateInvoice(ctx context.Context, documentID string) Result {
	result, err := t.validator.Validate(ctx, documentID)
	if err != nil {
		logger.Error("Validation failed", zap.Error(err))
		return fail(err.Error())
	}

	return ok(map[string]interface{}{
		"valid":         result.Valid,
		"issues":        result.Issues,
		"needs_review":  result.NeedsReview,
		"review_reason": result.ReviewReason,
	})
}

func (t *InvoiceToolbox) ForceValidate(ctx context.Context, documentID string, corrections map[string]string) Result {
	doc, err := t.validator.ForceValidate(ctx, documentID, corrections)
	if err != nil {
		logger.Error("Force validate failed", zap.Error(err))
		return fail(err.Error())
	}

	return ok(map[string]interface{}{
		"document_id":  documentID,
		"forced_valid": true,
		"message":      fmt.Sprintf("Document '%s' has been force validated as valid.", doc.Filename),
	})
}

func (t *InvoiceToolbox) DeleteDocument(ctx context.Context, documentID string) Result {
	doc, err := t.db.GetDocument(documentID)
	if err != nil {
		logger.Error("Failed to load document for deletion", zap.Error(err))
		return fail(err.Error())
	}
	if doc == nil {
		return fail("Document not found")
	}

	// Chunks cascade with the document row; the index removal also clears
	// the vector index entry and any cached answers.
	if err := t.index.Remove(ctx, documentID); err != nil {
		logger.Warn("Failed to remove document from retrieval index", zap.Error(err))
	}

	deleted, err := t.db.DeleteDocument(documentID)
	if err != nil {
		logger.Error("Failed to delete document", zap.Error(err))
		return fail(err.Error())
	}
	if !deleted {
		return fail("Failed to delete document")
	}

	return ok(map[string]interface{}{
		"document_id": documentID,
		"filename":    doc.Filename,
	})
}

func (t *InvoiceToolbox) ExportInvoices(ctx context.Context, format string, filters ExportFilters) Result {
	export, err := t.exporter.Export(ctx, format, filters)
	if err != nil {
		logger.Error("Export failed", zap.Error(err))
		return fail(err.Error())
	}

	return ok(map[string]interface{}{
		"download_url":  export.DownloadURL,
		"invoice_count": export.InvoiceCount,
		"format":        export.Format,
	})
}

var _ Toolbox = (*InvoiceToolbox)(nil)

// FormatInvoiceLine renders one invoice for a chat listing.
func FormatInvoiceLine(inv map[string]interface{}) string {
	return fmt.Sprintf("- **%v** (ID: %v) - Status: %v", inv["filename"], inv["id"], inv["status"])
}
