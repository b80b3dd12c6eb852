package agent

// Intent is the classified purpose of a chat turn. Routing is an exhaustive
// switch over these values; anything unrecognized parses to IntentUnclear.
type Intent int

const (
	IntentUnclear Intent = iota
	IntentValidateInvoice
	IntentForceValidate
	IntentDeleteDocument
	IntentExportInvoices
	IntentQueryDocument
	IntentListDocuments
	IntentGetDocumentDetails
	IntentGeneralChat
)

var intentNames = map[Intent]string{
	IntentUnclear:            "unclear",
	IntentValidateInvoice:    "validate_invoice",
	IntentForceValidate:      "force_validate",
	IntentDeleteDocument:     "delete_document",
	IntentExportInvoices:     "export_invoices",
	IntentQueryDocument:      "query_document",
	IntentListDocuments:      "list_documents",
	IntentGetDocumentDetails: "get_document_details",
	IntentGeneralChat:        "general_chat",
}

var intentValues = func() map[string]Intent {
	m := make(map[string]Intent, len(intentNames))
	for intent, name := range intentNames {
		m[name] = intent
	}
	return m
}()

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "unclear"
}

// ParseIntent maps a classifier label to an Intent. Unknown labels become
// IntentUnclear, which routes to the fallback handler.
func ParseIntent(name string) Intent {
	if intent, ok := intentValues[name]; ok {
		return intent
	}
	return IntentUnclear
}

// Turn carries one chat exchange through classification, tool execution, and
// response shaping. Handlers mutate it in place; Run owns its lifecycle.
type Turn struct {
	Message    string
	SessionID  string
	DocumentID string

	Intent           Intent
	TargetDocumentID string
	ExportFormat     string
	ExportVendor     string
	ExportStatus     string

	ToolName   string
	ToolResult map[string]interface{}

	Response    string
	Sources     []string
	DownloadURL string
	ModelUsed   string

	Err                   string
	NeedsClarification    bool
	ClarificationQuestion string
}

// Response is the envelope returned to chat clients.
type Response struct {
	Response              string   `json:"response"`
	ToolUsed              string   `json:"tool_used,omitempty"`
	Sources               []string `json:"sources,omitempty"`
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
	ModelUsed             string   `json:"model_used,omitempty"`
	DownloadURL           string   `json:"download_url,omitempty"`
}

func (t *Turn) toResponse() Response {
	return Response{
		Response:              t.Response,
		ToolUsed:              t.ToolName,
		Sources:               t.Sources,
		NeedsClarification:    t.NeedsClarification,
		ClarificationQuestion: t.ClarificationQuestion,
		ModelUsed:             t.ModelUsed,
		DownloadURL:           t.DownloadURL,
	}
}
