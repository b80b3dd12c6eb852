package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/internal/tools"
	"github.com/invoice-agent/backend/pkg/logger"
)

const generalChatSystemPrompt = `You are a helpful assistant for an invoice management system.
You can help users with:
- Uploading and managing invoices
- Validating invoice correctness
- Answering questions about specific invoices
- General questions about invoice management

Be helpful, concise, and professional.`

const capabilitiesFallback = `I'm here to help you with invoice management. Here's what I can do:

📤 **Upload Invoices** - Upload PDF invoices for processing
✅ **Validate Invoices** - Check invoices for completeness and accuracy
💬 **Ask Questions** - Query specific invoice details using natural language
📋 **List Invoices** - View all your uploaded invoices
📊 **Export Data** - Export invoices to CSV or Excel

Try asking something like "List all my invoices" or upload a document to get started!`

func (a *Agent) handleValidate(ctx context.Context, turn *Turn) {
	turn.ToolName = "validate_invoice"

	if turn.TargetDocumentID == "" {
		turn.NeedsClarification = true
		turn.ClarificationQuestion = "Which invoice would you like me to validate? Please provide the invoice ID or filename."
		return
	}

	result := a.tools.ValidateInvoice(ctx, turn.TargetDocumentID)
	if !result.Success {
		turn.Err = result.Error
		return
	}
	turn.ToolResult = result.Data

	if valid, _ := result.Data["valid"].(bool); valid {
		turn.Response = "✅ **Invoice is valid!**\n\nNo issues found with this invoice."
		return
	}

	var lines []string
	if issues, ok := result.Data["issues"].([]models.ValidationIssue); ok {
		for _, issue := range issues {
			lines = append(lines, fmt.Sprintf("- [%s] **%s**: %s", issue.Severity, issue.Field, issue.Message))
		}
	}
	turn.Response = "⚠️ **Issues found in invoice:**\n\n" + strings.Join(lines, "\n")

	if needsReview, _ := result.Data["needs_review"].(bool); needsReview {
		reason, _ := result.Data["review_reason"].(string)
		if reason == "" {
			reason = "Some aspects need human verification."
		}
		turn.Response += "\n\n**Manual review recommended:** " + reason
	}
}

func (a *Agent) handleForceValidate(ctx context.Context, turn *Turn) {
	turn.ToolName = "force_validate_document"

	if turn.TargetDocumentID == "" {
		turn.NeedsClarification = true
		turn.ClarificationQuestion = "Which invoice would you like me to force validate? Please provide the invoice ID."
		return
	}

	result := a.tools.ForceValidate(ctx, turn.TargetDocumentID, nil)
	if !result.Success {
		turn.Err = result.Error
		return
	}
	turn.ToolResult = result.Data

	message, _ := result.Data["message"].(string)
	if message == "" {
		message = "The invoice has been marked as valid."
	}
	turn.Response = "✅ **Invoice force validated!**\n\n" + message
}

func (a *Agent) handleDelete(ctx context.Context, turn *Turn) {
	turn.ToolName = "delete_document"

	if turn.TargetDocumentID == "" {
		turn.NeedsClarification = true
		turn.ClarificationQuestion = "Which invoice would you like to delete? Please provide the invoice ID or filename."
		return
	}

	result := a.tools.DeleteDocument(ctx, turn.TargetDocumentID)
	if !result.Success {
		turn.Err = result.Error
		return
	}
	turn.ToolResult = result.Data

	filename, _ := result.Data["filename"].(string)
	turn.Response = fmt.Sprintf("🗑️ **Invoice deleted!**\n\nThe invoice '%s' has been permanently deleted.", filename)
}

func (a *Agent) handleExport(ctx context.Context, turn *Turn) {
	turn.ToolName = "export_invoices"

	format := turn.ExportFormat
	if format == "" {
		format = "csv"
	}
	filters := tools.ExportFilters{Vendor: turn.ExportVendor, Status: turn.ExportStatus}

	result := a.tools.ExportInvoices(ctx, format, filters)
	if !result.Success {
		turn.Response = "❌ Export failed: " + result.Error
		return
	}
	turn.ToolResult = result.Data

	downloadURL, _ := result.Data["download_url"].(string)
	count, _ := result.Data["invoice_count"].(int)
	turn.DownloadURL = downloadURL

	vendorLine := "- All vendors"
	if filters.Vendor != "" {
		vendorLine = "- Vendor: " + filters.Vendor
	}
	statusLine := "- All statuses"
	if filters.Status != "" {
		statusLine = "- Status: " + filters.Status
	}

	turn.Response = fmt.Sprintf(`📥 **Export Complete!**

I've exported **%d invoices** to %s format.

**Download Link:** [Click here to download](%s)

Filters applied:
%s
%s`, count, strings.ToUpper(format), downloadURL, vendorLine, statusLine)
}

func (a *Agent) handleQuery(ctx context.Context, turn *Turn) {
	turn.ToolName = "query_document"

	docID := turn.TargetDocumentID
	if docID == "" {
		docID = turn.DocumentID
	}
	if docID == "" {
		turn.NeedsClarification = true
		turn.ClarificationQuestion = "Which invoice are you asking about? Please select an invoice first."
		return
	}

	result, err := a.querier.Query(ctx, docID, turn.Message, 0)
	if err != nil {
		logger.Error("Document query failed", zap.Error(err))
		turn.Err = err.Error()
		return
	}

	turn.Response = result.Answer
	turn.Sources = result.Sources
	if result.ModelUsed != "" {
		turn.ModelUsed = result.ModelUsed
	}
}

func (a *Agent) handleList(ctx context.Context, turn *Turn) {
	turn.ToolName = "list_invoices"

	result := a.tools.ListInvoices(ctx)
	if !result.Success {
		turn.Err = result.Error
		return
	}
	turn.ToolResult = result.Data

	invoices, _ := result.Data["invoices"].([]map[string]interface{})
	if len(invoices) == 0 {
		turn.Response = "You don't have any invoices uploaded yet. Use the upload feature to add invoices."
		return
	}

	lines := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		lines = append(lines, tools.FormatInvoiceLine(inv))
	}
	turn.Response = "Here are your uploaded invoices:\n\n" + strings.Join(lines, "\n")
}

func (a *Agent) handleDetails(ctx context.Context, turn *Turn) {
	turn.ToolName = "get_invoice_details"

	docID := turn.TargetDocumentID
	if docID == "" {
		docID = turn.DocumentID
	}
	if docID == "" {
		turn.NeedsClarification = true
		turn.ClarificationQuestion = "Which invoice would you like details about? Please provide the invoice ID or select one."
		return
	}

	result := a.tools.GetInvoiceDetails(ctx, docID)
	if !result.Success {
		turn.Err = result.Error
		return
	}
	turn.ToolResult = result.Data

	metadata, _ := result.Data["metadata"].(map[string]interface{})

	var details strings.Builder
	details.WriteString("**Invoice Details**\n\n")
	details.WriteString(fmt.Sprintf("- **Filename:** %s\n", stringOr(result.Data["filename"], "N/A")))
	details.WriteString(fmt.Sprintf("- **Status:** %s\n", stringOr(result.Data["status"], "N/A")))
	details.WriteString(fmt.Sprintf("- **Vendor:** %s\n", stringOr(metadata["vendor"], "N/A")))
	details.WriteString(fmt.Sprintf("- **Invoice Number:** %s\n", stringOr(metadata["invoice_number"], "N/A")))
	details.WriteString(fmt.Sprintf("- **Date:** %s\n", stringOr(metadata["date"], "N/A")))
	details.WriteString(fmt.Sprintf("- **Total:** %s%v\n", stringOr(metadata["currency"], "$"), metadata["total"]))

	if validation, ok := result.Data["validation"].(*models.ValidationResult); ok && validation != nil {
		if validation.Valid {
			details.WriteString("\n**Validation:** ✓ Valid")
		} else {
			details.WriteString("\n**Validation:** ✗ Invalid")
		}
		if len(validation.Issues) > 0 {
			details.WriteString("\n**Issues:**\n")
			for _, issue := range validation.Issues {
				details.WriteString(fmt.Sprintf("- [%s] %s: %s\n", issue.Severity, issue.Field, issue.Message))
			}
		}
	}

	turn.Response = details.String()
}

func (a *Agent) handleGeneralChat(ctx context.Context, turn *Turn) {
	turn.ToolName = "general_chat"

	result, err := a.generator.Invoke(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: turn.Message}},
		llm.InvokeOptions{SystemPrompt: generalChatSystemPrompt},
	)
	if err != nil {
		logger.Error("General chat failed", zap.Error(err))
		turn.Response = capabilitiesFallback
		turn.Err = ""
		return
	}

	turn.Response = result.Content
	turn.ModelUsed = result.ModelUsed
}

func (a *Agent) handleFallback(turn *Turn) {
	switch {
	case turn.NeedsClarification:
		if turn.ClarificationQuestion != "" {
			turn.Response = turn.ClarificationQuestion
		} else {
			turn.Response = "I'm not sure what you're asking. Could you please clarify?"
		}
	case turn.Err != "":
		turn.Response = fmt.Sprintf("I encountered an issue: %s. Please try again or rephrase your request.", turn.Err)
	default:
		turn.Response = "I'm not sure how to help with that. You can ask me to:\n- List your invoices\n- Validate an invoice\n- Answer questions about a specific invoice\n- Get invoice details"
	}
}

// finalize guarantees a turn never leaves the agent without response text.
func finalize(turn *Turn) {
	if turn.Response != "" {
		return
	}
	if turn.Err != "" {
		turn.Response = "Sorry, something went wrong: " + turn.Err
	} else {
		turn.Response = "I processed your request but have no response to show."
	}
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
