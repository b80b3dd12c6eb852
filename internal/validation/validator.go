package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/internal/storage/sqlite"
	"github.com/invoice-agent/backend/pkg/logger"
)

const validationPrompt = `You are an expert invoice validator. Analyze the provided invoice text and identify any issues.

Check for:
1. Missing required fields (vendor name, invoice number, date, total amount)
2. Invalid dates (future dates, malformed dates)
3. Suspicious totals (negative amounts, unrealistic values)
4. Missing tax information
5. Inconsistent line item totals
6. Missing contact information
7. Any other anomalies

Invoice text:
%s

Respond with a JSON object:
{
    "valid": true/false,
    "issues": [
        {"field": "field_name", "severity": "error|warning|info", "message": "description"}
    ],
    "needs_manual_review": true/false,
    "review_reason": "reason if manual review needed"
}`

// Generator is the slice of the model gateway the validator needs.
type Generator interface {
	Invoke(ctx context.Context, messages []llm.Message, opts llm.InvokeOptions) (*llm.Result, error)
}

type Validator struct {
	db        *sqlite.Client
	generator Generator
}

type verdict struct {
	Valid             bool                     `json:"valid"`
	Issues            []models.ValidationIssue `json:"issues"`
	NeedsManualReview bool                     `json:"needs_manual_review"`
	ReviewReason      string                   `json:"review_reason"`
}

func NewValidator(db *sqlite.Client, generator Generator) *Validator {
	return &Validator{db: db, generator: generator}
}

// Validate runs model-backed validation of the document's text, falling back
// to regex field checks when the model's output is unparseable. The result is
// stored and the document status updated.
func (v *Validator) Validate(ctx context.Context, documentID string) (*models.ValidationResult, error) {
	doc, err := v.db.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document not found: %s", documentID)
	}

	text := doc.RawText
	if len(text) > 4000 {
		text = text[:4000]
	}

	var vd verdict
	result, err := v.generator.Invoke(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(validationPrompt, text)}},
		llm.InvokeOptions{SystemPrompt: "You are an expert invoice validator. Respond only with valid JSON."},
	)
	if err != nil {
		logger.Warn("Model validation failed, using basic rules", zap.Error(err))
		vd = basicValidation(doc.RawText)
	} else {
		raw := llm.ExtractJSONObject(result.Content)
		if raw == "" || json.Unmarshal([]byte(raw), &vd) != nil {
			logger.Warn("Unparseable validation verdict, using basic rules",
				zap.String("document_id", documentID),
			)
			vd = basicValidation(doc.RawText)
		}
	}

	validation := &models.ValidationResult{
		DocumentID:   documentID,
		Valid:        vd.Valid,
		Issues:       vd.Issues,
		NeedsReview:  vd.NeedsManualReview,
		ReviewReason: vd.ReviewReason,
		ValidatedAt:  time.Now(),
	}

	if err := v.db.InsertValidation(validation); err != nil {
		return nil, err
	}

	status := models.StatusInvalid
	if vd.Valid {
		status = models.StatusValid
	}
	if err := v.db.UpdateValidationStatus(documentID, status, false); err != nil {
		return nil, err
	}

	logger.Info("Invoice validated",
		zap.String("document_id", documentID),
		zap.Bool("valid", vd.Valid),
		zap.Int("issues", len(vd.Issues)),
	)
	metrics.ValidationsRun.WithLabelValues(status).Inc()

	return validation, nil
}

// ForceValidate marks a document valid despite issues, recording the admin's
// correction overlay alongside the original extracted values.
func (v *Validator) ForceValidate(ctx context.Context, documentID string, corrections map[string]string) (*models.Document, error) {
	doc, err := v.db.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document not found: %s", documentID)
	}

	if len(corrections) > 0 {
		if err := v.db.ApplyCorrections(documentID, corrections); err != nil {
			return nil, err
		}
	}

	if err := v.db.UpdateValidationStatus(documentID, models.StatusValid, true); err != nil {
		return nil, err
	}

	logger.Info("Invoice force validated", zap.String("document_id", documentID))

	return v.db.GetDocument(documentID)
}

var (
	invoiceNumberPattern = regexp.MustCompile(`(?i)\b(invoice|inv|bill)\s*#?\s*:?\s*\d+`)
	amountPattern        = regexp.MustCompile(`\$?\d+[.,]\d{2}`)
	datePattern          = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
)

func basicValidation(text string) verdict {
	var issues []models.ValidationIssue

	if !invoiceNumberPattern.MatchString(text) {
		issues = append(issues, models.ValidationIssue{
			Field:    "invoice_number",
			Severity: "warning",
			Message:  "Could not find invoice number",
		})
	}

	if !amountPattern.MatchString(text) {
		issues = append(issues, models.ValidationIssue{
			Field:    "total",
			Severity: "error",
			Message:  "Could not find total amount",
		})
	}

	if !datePattern.MatchString(text) {
		issues = append(issues, models.ValidationIssue{
			Field:    "date",
			Severity: "warning",
			Message:  "Could not find invoice date",
		})
	}

	errorCount := 0
	for _, issue := range issues {
		if issue.Severity == "error" {
			errorCount++
		}
	}

	return verdict{
		Valid:             errorCount == 0,
		Issues:            issues,
		NeedsManualReview: len(issues) > 0,
		ReviewReason:      "",
	}
}
