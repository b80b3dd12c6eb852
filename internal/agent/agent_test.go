package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/rag"
	"github.com/invoice-agent/backend/internal/tools"
)

type scriptedGenerator struct {
	responses []string
	err       error
	calls     int
}

func (g *scriptedGenerator) Invoke(ctx context.Context, messages []llm.Message, opts llm.InvokeOptions) (*llm.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	content := g.responses[0]
	if len(g.responses) > 1 {
		g.responses = g.responses[1:]
	}
	return &llm.Result{Content: content, ModelUsed: "test-model"}, nil
}

type fakeQuerier struct {
	result *rag.QueryResult
	err    error
	docID  string
	calls  int
}

func (f *fakeQuerier) Query(ctx context.Context, documentID, question string, topK int) (*rag.QueryResult, error) {
	f.calls++
	f.docID = documentID
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeToolbox struct {
	listResult    tools.Result
	exportResult  tools.Result
	exportFormat  string
	exportFilters tools.ExportFilters
	validated     []string
	deleted       []string
	calls         []string
}

func (f *fakeToolbox) ListInvoices(ctx context.Context) tools.Result {
	f.calls = append(f.calls, "list")
	return f.listResult
}

func (f *fakeToolbox) SearchInvoices(ctx context.Context, query string) tools.Result {
	f.calls = append(f.calls, "search")
	return tools.Result{Success: true, Data: map[string]interface{}{}}
}

func (f *fakeToolbox) GetInvoiceDetails(ctx context.Context, documentID string) tools.Result {
	f.calls = append(f.calls, "details")
	return tools.Result{Success: true, Data: map[string]interface{}{
		"filename": "inv.pdf",
		"status":   "valid",
		"metadata": map[string]interface{}{"vendor": "Acme"},
	}}
}

func (f *fakeToolbox) ValidateInvoice(ctx context.Context, documentID string) tools.Result {
	f.calls = append(f.calls, "validate")
	f.validated = append(f.validated, documentID)
	return tools.Result{Success: true, Data: map[string]interface{}{"valid": true}}
}

func (f *fakeToolbox) ForceValidate(ctx context.Context, documentID string, corrections map[string]string) tools.Result {
	f.calls = append(f.calls, "force_validate")
	return tools.Result{Success: true, Data: map[string]interface{}{"message": "done"}}
}

func (f *fakeToolbox) DeleteDocument(ctx context.Context, documentID string) tools.Result {
	f.calls = append(f.calls, "delete")
	f.deleted = append(f.deleted, documentID)
	return tools.Result{Success: true, Data: map[string]interface{}{"filename": "inv.pdf"}}
}

func (f *fakeToolbox) ExportInvoices(ctx context.Context, format string, filters tools.ExportFilters) tools.Result {
	f.calls = append(f.calls, "export")
	f.exportFormat = format
	f.exportFilters = filters
	if f.exportResult.Data != nil || f.exportResult.Error != "" {
		return f.exportResult
	}
	return tools.Result{Success: true, Data: map[string]interface{}{
		"download_url":  "/api/v1/exports/files/invoices.csv",
		"invoice_count": 3,
		"format":        format,
	}}
}

func TestRunExportFastPathSkipsModel(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("backend down")}
	toolbox := &fakeToolbox{}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "Please export my invoices as excel", "s1", "")

	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
	if resp.ToolUsed != "export_invoices" {
		t.Errorf("ToolUsed = %q, want export_invoices", resp.ToolUsed)
	}
	if toolbox.exportFormat != "excel" {
		t.Errorf("format = %q, want excel", toolbox.exportFormat)
	}
	if !strings.Contains(resp.Response, "Export Complete") {
		t.Errorf("Response = %q, want export confirmation", resp.Response)
	}
	if resp.DownloadURL == "" {
		t.Error("DownloadURL is empty")
	}
}

func TestRunExportFailureKeepsExportMessage(t *testing.T) {
	toolbox := &fakeToolbox{
		exportResult: tools.Result{Success: false, Error: "disk full"},
	}
	a := NewAgent(&scriptedGenerator{}, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "export my invoices", "s1", "")

	if !strings.Contains(resp.Response, "❌ Export failed: disk full") {
		t.Errorf("Response = %q, want export failure message", resp.Response)
	}
}

func TestRunListInvoicesEmpty(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "list_documents"}`}}
	toolbox := &fakeToolbox{
		listResult: tools.Result{Success: true, Data: map[string]interface{}{
			"count":    0,
			"invoices": []map[string]interface{}{},
		}},
	}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "List all my invoices", "s1", "")

	if resp.ToolUsed != "list_invoices" {
		t.Errorf("ToolUsed = %q, want list_invoices", resp.ToolUsed)
	}
	if !strings.Contains(resp.Response, "don't have any invoices") {
		t.Errorf("Response = %q, want empty-list message", resp.Response)
	}
}

func TestRunListInvoicesFormatsRows(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "list_documents"}`}}
	toolbox := &fakeToolbox{
		listResult: tools.Result{Success: true, Data: map[string]interface{}{
			"count": 2,
			"invoices": []map[string]interface{}{
				{"id": "d1", "filename": "jan.pdf", "status": "valid"},
				{"id": "d2", "filename": "feb.pdf", "status": "pending"},
			},
		}},
	}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "List all my invoices", "s1", "")

	if !strings.Contains(resp.Response, "jan.pdf") || !strings.Contains(resp.Response, "feb.pdf") {
		t.Errorf("Response missing invoice rows: %q", resp.Response)
	}
	if !strings.HasPrefix(resp.Response, "Here are your uploaded invoices:") {
		t.Errorf("Response = %q, want listing header", resp.Response)
	}
}

func TestRunValidateWithoutTargetAsksForClarification(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "validate_invoice"}`}}
	toolbox := &fakeToolbox{}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "validate it", "s1", "")

	if !resp.NeedsClarification {
		t.Fatal("NeedsClarification = false, want true")
	}
	if !strings.Contains(resp.ClarificationQuestion, "Which invoice would you like me to validate") {
		t.Errorf("ClarificationQuestion = %q", resp.ClarificationQuestion)
	}
	if resp.Response != resp.ClarificationQuestion {
		t.Errorf("Response = %q, want the clarification question", resp.Response)
	}
	if len(toolbox.calls) != 0 {
		t.Errorf("tools called: %v, want none", toolbox.calls)
	}
}

func TestRunValidateUsesViewedDocument(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "validate_invoice"}`}}
	toolbox := &fakeToolbox{}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "validate this invoice", "s1", "doc-7")

	if len(toolbox.validated) != 1 || toolbox.validated[0] != "doc-7" {
		t.Fatalf("validated = %v, want [doc-7]", toolbox.validated)
	}
	if !strings.Contains(resp.Response, "Invoice is valid") {
		t.Errorf("Response = %q", resp.Response)
	}
}

func TestRunQueryRoutesToDocument(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "query_document", "document_id": "doc-3"}`}}
	querier := &fakeQuerier{result: &rag.QueryResult{
		Answer:    "The total is $99.00",
		Sources:   []string{"Total due: $99.00"},
		ModelUsed: "rag-model",
	}}
	a := NewAgent(gen, querier, &fakeToolbox{})

	resp := a.Run(context.Background(), "what is the total?", "s1", "")

	if querier.docID != "doc-3" {
		t.Errorf("queried document = %q, want doc-3", querier.docID)
	}
	if resp.Response != "The total is $99.00" {
		t.Errorf("Response = %q", resp.Response)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("Sources = %v", resp.Sources)
	}
	if resp.ModelUsed != "rag-model" {
		t.Errorf("ModelUsed = %q, want rag-model", resp.ModelUsed)
	}
}

func TestRunClassifierFailureFallsBackToGeneralChat(t *testing.T) {
	// Both classification and the chat completion fail; the user still gets
	// the capability summary, never an error.
	gen := &scriptedGenerator{err: errors.New("all models down")}
	a := NewAgent(gen, &fakeQuerier{}, &fakeToolbox{})

	resp := a.Run(context.Background(), "hello there", "s1", "")

	if resp.ToolUsed != "general_chat" {
		t.Errorf("ToolUsed = %q, want general_chat", resp.ToolUsed)
	}
	if !strings.Contains(resp.Response, "invoice management") {
		t.Errorf("Response = %q, want capability summary", resp.Response)
	}
	if resp.NeedsClarification {
		t.Error("NeedsClarification = true, want false")
	}
}

func TestRunUnparseableClassificationUsesKeywords(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"Sure, I will delete that for you!"}}
	toolbox := &fakeToolbox{}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "delete invoice doc-9", "s1", "doc-9")

	if len(toolbox.deleted) != 1 || toolbox.deleted[0] != "doc-9" {
		t.Fatalf("deleted = %v, want [doc-9]", toolbox.deleted)
	}
	if !strings.Contains(resp.Response, "permanently deleted") {
		t.Errorf("Response = %q", resp.Response)
	}
}

func TestRunUnclearIntentFallsBack(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "unclear"}`}}
	a := NewAgent(gen, &fakeQuerier{}, &fakeToolbox{})

	resp := a.Run(context.Background(), "hmm", "s1", "")

	if !strings.Contains(resp.Response, "You can ask me to") {
		t.Errorf("Response = %q, want fallback help text", resp.Response)
	}
}

func TestRunToolFailureBecomesFallbackText(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"intent": "list_documents"}`}}
	toolbox := &fakeToolbox{
		listResult: tools.Result{Success: false, Error: "database locked"},
	}
	a := NewAgent(gen, &fakeQuerier{}, toolbox)

	resp := a.Run(context.Background(), "list all my invoices", "s1", "")

	if !strings.Contains(resp.Response, "I encountered an issue: database locked") {
		t.Errorf("Response = %q, want error fallback", resp.Response)
	}
}
