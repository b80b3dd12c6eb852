package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/pkg/logger"
)

const classificationPrompt = `You are an intent classifier for an invoice management system.
Classify the user's message into one of these intents:

- validate_invoice: User wants to validate an invoice (check for errors, verify correctness)
- force_validate: User wants to force validate an invoice despite errors (admin override, mark as valid)
- query_document: User is asking a question about a specific invoice's content (e.g., "What is the total?", "Who is the vendor?")
- list_documents: User wants to see a list of their invoices
- get_document_details: User wants details about a specific invoice
- delete_document: User wants to delete an invoice
- export_invoices: User wants to export/download invoices to CSV or Excel (e.g., "Export all invoices", "Download my invoices as Excel")
- general_chat: General conversation or questions not specific to invoice operations
- unclear: The intent is not clear and needs clarification

If the user mentions a specific invoice by ID or name, extract it.
For export requests, extract the format (csv/excel) and any filters (vendor, status).

Respond with JSON only:
{
    "intent": "one of the intents above",
    "document_id": "extracted document ID if any, else null",
    "export_format": "csv or excel if export intent, else null",
    "export_filters": {"vendor": "vendor name if specified", "status": "status if specified"},
    "reasoning": "brief explanation"
}

User message: %s
Current document context: %s`

type classification struct {
	Intent        string                 `json:"intent"`
	DocumentID    string                 `json:"document_id"`
	ExportFormat  string                 `json:"export_format"`
	ExportFilters map[string]interface{} `json:"export_filters"`
}

// classify fills the turn's intent and routing parameters. Models frequently
// misread export requests, so those are matched on keywords before any model
// call. Classification never fails a turn: an unusable model answer degrades
// to keyword rules, and a gateway error degrades to general chat.
func (a *Agent) classify(ctx context.Context, turn *Turn) {
	lower := strings.ToLower(turn.Message)

	if strings.Contains(lower, "export") || (strings.Contains(lower, "download") && strings.Contains(lower, "invoice")) {
		turn.Intent = IntentExportInvoices
		turn.ExportFormat = exportFormatFrom(lower)
		logger.Info("Export intent matched by keyword", zap.String("format", turn.ExportFormat))
		return
	}

	documentContext := "No specific document selected"
	if turn.DocumentID != "" {
		documentContext = "User is viewing document: " + turn.DocumentID
	}

	prompt := fmt.Sprintf(classificationPrompt, turn.Message, documentContext)

	result, err := a.generator.Invoke(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.InvokeOptions{SystemPrompt: "You are a precise intent classifier. Respond only with valid JSON."},
	)
	if err != nil {
		logger.Error("Intent classification failed", zap.Error(err))
		turn.Intent = IntentGeneralChat
		return
	}

	var parsed classification
	raw := llm.ExtractJSONObject(result.Content)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		logger.Warn("Unparseable classification, using keyword rules",
			zap.String("response", preview(result.Content, 200)),
		)
		parsed = keywordClassification(lower)
	}

	turn.Intent = ParseIntent(parsed.Intent)
	turn.TargetDocumentID = parsed.DocumentID
	if turn.TargetDocumentID == "" {
		turn.TargetDocumentID = turn.DocumentID
	}
	turn.ExportFormat = parsed.ExportFormat
	turn.ExportVendor = filterValue(parsed.ExportFilters, "vendor")
	turn.ExportStatus = filterValue(parsed.ExportFilters, "status")
	turn.ModelUsed = result.ModelUsed

	logger.Info("Intent classified",
		zap.String("intent", turn.Intent.String()),
		zap.String("model", result.ModelUsed),
	)
}

// keywordClassification is the last-resort parser when the model emits
// something that is not JSON.
func keywordClassification(lower string) classification {
	switch {
	case strings.Contains(lower, "list") && strings.Contains(lower, "invoice"):
		return classification{Intent: "list_documents"}
	case strings.Contains(lower, "export") || strings.Contains(lower, "download"):
		return classification{Intent: "export_invoices", ExportFormat: exportFormatFrom(lower)}
	case strings.Contains(lower, "validate"):
		return classification{Intent: "validate_invoice"}
	case strings.Contains(lower, "delete"):
		return classification{Intent: "delete_document"}
	case strings.Contains(lower, "detail") || strings.Contains(lower, "show"):
		return classification{Intent: "get_document_details"}
	default:
		return classification{Intent: "general_chat"}
	}
}

func exportFormatFrom(lower string) string {
	if strings.Contains(lower, "excel") || strings.Contains(lower, "xlsx") {
		return "excel"
	}
	return "csv"
}

// filterValue tolerates nulls and non-string values the model may emit.
func filterValue(filters map[string]interface{}, key string) string {
	if filters == nil {
		return ""
	}
	if s, ok := filters[key].(string); ok {
		return s
	}
	return ""
}

func preview(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
