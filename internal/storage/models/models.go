package models

import "time"

type Document struct {
	ID               string
	Filename         string
	FileType         string
	ValidationStatus string
	Metadata         InvoiceMetadata
	// AdminCorrections layers admin-entered field values over the
	// originally extracted metadata without mutating it.
	AdminCorrections map[string]string
	ForcedValid      bool
	RawText          string
	UploadedAt       time.Time
	UpdatedAt        time.Time
}

type InvoiceMetadata struct {
	Vendor        string
	InvoiceNumber string
	Date          string
	Total         float64
	Currency      string
}

type DocumentChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

type ValidationIssue struct {
	Field    string `json:"field"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type ValidationResult struct {
	DocumentID   string
	Valid        bool
	Issues       []ValidationIssue
	NeedsReview  bool
	ReviewReason string
	ValidatedAt  time.Time
}

// Validation status values stored on documents.
const (
	StatusPending = "pending"
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)
