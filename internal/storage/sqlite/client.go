package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_type TEXT,
		validation_status TEXT NOT NULL DEFAULT 'pending',
		vendor TEXT,
		invoice_number TEXT,
		invoice_date TEXT,
		total REAL,
		currency TEXT,
		admin_corrections TEXT,
		forced_valid INTEGER DEFAULT 0,
		raw_text TEXT,
		uploaded_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(validation_status);
	CREATE INDEX IF NOT EXISTS idx_documents_vendor ON documents(vendor);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(uploaded_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(document_id, chunk_index),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);

	CREATE TABLE IF NOT EXISTS validations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		valid INTEGER NOT NULL,
		issues TEXT,
		needs_review INTEGER DEFAULT 0,
		review_reason TEXT,
		validated_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_validations_document ON validations(document_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	corrections, err := marshalCorrections(doc.AdminCorrections)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (id, filename, file_type, validation_status, vendor, invoice_number,
			invoice_date, total, currency, admin_corrections, forced_valid, raw_text, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			validation_status = excluded.validation_status,
			vendor = excluded.vendor,
			invoice_number = excluded.invoice_number,
			invoice_date = excluded.invoice_date,
			total = excluded.total,
			currency = excluded.currency,
			raw_text = excluded.raw_text,
			updated_at = excluded.updated_at
	`

	_, err = c.db.Exec(
		query,
		doc.ID,
		doc.Filename,
		doc.FileType,
		doc.ValidationStatus,
		doc.Metadata.Vendor,
		doc.Metadata.InvoiceNumber,
		doc.Metadata.Date,
		doc.Metadata.Total,
		doc.Metadata.Currency,
		corrections,
		boolToInt(doc.ForcedValid),
		doc.RawText,
		doc.UploadedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("document_id", doc.ID), zap.String("filename", doc.Filename))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, filename, file_type, validation_status, vendor, invoice_number, invoice_date,
		total, currency, admin_corrections, forced_valid, raw_text, uploaded_at, updated_at
		FROM documents WHERE id = ?`

	var doc models.Document
	var corrections sql.NullString
	var forcedValid int
	var uploadedAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.Filename,
		&doc.FileType,
		&doc.ValidationStatus,
		&doc.Metadata.Vendor,
		&doc.Metadata.InvoiceNumber,
		&doc.Metadata.Date,
		&doc.Metadata.Total,
		&doc.Metadata.Currency,
		&corrections,
		&forcedValid,
		&doc.RawText,
		&uploadedAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.ForcedValid = forcedValid != 0
	doc.UploadedAt = time.Unix(uploadedAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	if corrections.Valid && corrections.String != "" {
		if err := json.Unmarshal([]byte(corrections.String), &doc.AdminCorrections); err != nil {
			return nil, fmt.Errorf("failed to decode admin corrections: %w", err)
		}
	}

	return &doc, nil
}

func (c *Client) ListDocuments(limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, filename, file_type, validation_status, vendor, invoice_number, invoice_date,
		total, currency, forced_valid, uploaded_at, updated_at
		FROM documents ORDER BY uploaded_at DESC LIMIT ?`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

func (c *Client) SearchDocuments(term string) ([]models.Document, error) {
	query := `SELECT id, filename, file_type, validation_status, vendor, invoice_number, invoice_date,
		total, currency, forced_valid, uploaded_at, updated_at
		FROM documents WHERE filename LIKE ? ORDER BY uploaded_at DESC LIMIT 50`

	rows, err := c.db.Query(query, "%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// FilterDocuments returns documents matching the export filters. Empty
// filter values match everything.
func (c *Client) FilterDocuments(vendor, status string) ([]models.Document, error) {
	query := `SELECT id, filename, file_type, validation_status, vendor, invoice_number, invoice_date,
		total, currency, forced_valid, uploaded_at, updated_at
		FROM documents WHERE 1=1`
	args := []interface{}{}

	if vendor != "" {
		query += " AND vendor LIKE ?"
		args = append(args, "%"+vendor+"%")
	}
	if status != "" {
		query += " AND validation_status = ?"
		args = append(args, status)
	}
	query += " ORDER BY uploaded_at DESC LIMIT 1000"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter documents: %w", err)
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

func (c *Client) DeleteDocument(id string) (bool, error) {
	result, err := c.db.Exec("DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}

	logger.Debug("Document deleted", zap.String("document_id", id), zap.Int64("rows", affected))
	return affected > 0, nil
}

func (c *Client) UpdateValidationStatus(id, status string, forcedValid bool) error {
	_, err := c.db.Exec(
		"UPDATE documents SET validation_status = ?, forced_valid = ?, updated_at = ? WHERE id = ?",
		status, boolToInt(forcedValid), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update validation status: %w", err)
	}
	return nil
}

func (c *Client) ApplyCorrections(id string, corrections map[string]string) error {
	encoded, err := marshalCorrections(corrections)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		"UPDATE documents SET admin_corrections = ?, updated_at = ? WHERE id = ?",
		encoded, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply corrections: %w", err)
	}
	return nil
}

// ReplaceChunks deletes every stored chunk for the document and inserts the
// new set in a single transaction, so a reindex never leaves a mixture of
// generations behind.
func (c *Client) ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM document_chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO document_chunks (id, document_id, chunk_index, text, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embedding, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}

		_, err = stmt.Exec(
			chunk.ID,
			documentID,
			chunk.ChunkIndex,
			chunk.Text,
			string(embedding),
			chunk.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}

	logger.Debug("Chunks replaced",
		zap.String("document_id", documentID),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (c *Client) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	query := `SELECT id, document_id, chunk_index, text, embedding, created_at
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`

	rows, err := c.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var chunk models.DocumentChunk
		var embedding string
		var createdAt int64

		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		if err := json.Unmarshal([]byte(embedding), &chunk.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
		chunk.CreatedAt = time.Unix(createdAt, 0)

		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, nil
}

func (c *Client) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (c *Client) InsertValidation(result *models.ValidationResult) error {
	issues, err := json.Marshal(result.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode issues: %w", err)
	}

	_, err = c.db.Exec(
		`INSERT INTO validations (document_id, valid, issues, needs_review, review_reason, validated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.DocumentID,
		boolToInt(result.Valid),
		string(issues),
		boolToInt(result.NeedsReview),
		result.ReviewReason,
		result.ValidatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert validation: %w", err)
	}
	return nil
}

func (c *Client) GetLatestValidation(documentID string) (*models.ValidationResult, error) {
	query := `SELECT document_id, valid, issues, needs_review, review_reason, validated_at
		FROM validations WHERE document_id = ? ORDER BY validated_at DESC, id DESC LIMIT 1`

	var result models.ValidationResult
	var valid, needsReview int
	var issues string
	var validatedAt int64

	err := c.db.QueryRow(query, documentID).Scan(
		&result.DocumentID,
		&valid,
		&issues,
		&needsReview,
		&result.ReviewReason,
		&validatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validation: %w", err)
	}

	result.Valid = valid != 0
	result.NeedsReview = needsReview != 0
	result.ValidatedAt = time.Unix(validatedAt, 0)

	if issues != "" {
		if err := json.Unmarshal([]byte(issues), &result.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues: %w", err)
		}
	}

	return &result, nil
}

func scanDocumentRows(rows *sql.Rows) ([]models.Document, error) {
	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var forcedValid int
		var uploadedAt, updatedAt int64

		err := rows.Scan(
			&doc.ID,
			&doc.Filename,
			&doc.FileType,
			&doc.ValidationStatus,
			&doc.Metadata.Vendor,
			&doc.Metadata.InvoiceNumber,
			&doc.Metadata.Date,
			&doc.Metadata.Total,
			&doc.Metadata.Currency,
			&forcedValid,
			&uploadedAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		doc.ForcedValid = forcedValid != 0
		doc.UploadedAt = time.Unix(uploadedAt, 0)
		doc.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

func marshalCorrections(corrections map[string]string) (string, error) {
	if len(corrections) == 0 {
		return "", nil
	}
	data, err := json.Marshal(corrections)
	if err != nil {
		return "", fmt.Errorf("failed to encode admin corrections: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
