package tools

import "context"

// Result is the uniform envelope every tool call resolves to. A tool failure
// is data, not a Go error: the orchestrator reports it inside the response
// instead of aborting the turn.
type Result struct {
	Success bool
	Data    map[string]interface{}
	Error   string
}

func ok(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}

func fail(msg string) Result {
	return Result{Success: false, Error: msg}
}

type ExportFilters struct {
	Vendor string
	Status string
}

// Toolbox is the set of external collaborators the orchestrator may route a
// turn to. The orchestrator never touches storage directly for these.
type Toolbox interface {
	ListInvoices(ctx context.Context) Result
	SearchInvoices(ctx context.Context, query string) Result
	GetInvoiceDetails(ctx context.Context, documentID string) Result
	ValidateInvoice(ctx context.Context, documentID string) Result
	ForceValidate(ctx context.Context, documentID string, corrections map[string]string) Result
	DeleteDocument(ctx context.Context, documentID string) Result
	ExportInvoices(ctx context.Context, format string, filters ExportFilters) Result
}
