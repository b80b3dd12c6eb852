package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/llm"
	"github.com/invoice-agent/backend/internal/rag"
	"github.com/invoice-agent/backend/internal/tools"
	"github.com/invoice-agent/backend/pkg/logger"
)

// Generator is the slice of the model gateway the orchestrator needs for
// classification and open conversation.
type Generator interface {
	Invoke(ctx context.Context, messages []llm.Message, opts llm.InvokeOptions) (*llm.Result, error)
}

// DocumentQuerier answers questions grounded in a single document.
type DocumentQuerier interface {
	Query(ctx context.Context, documentID, question string, topK int) (*rag.QueryResult, error)
}

// Agent orchestrates one chat turn: classify the message, route it to a
// handler, and shape a response. Every path terminates in a user-facing
// response; errors become fallback text, never a failed request.
type Agent struct {
	generator Generator
	querier   DocumentQuerier
	tools     tools.Toolbox
}

func NewAgent(generator Generator, querier DocumentQuerier, toolbox tools.Toolbox) *Agent {
	return &Agent{
		generator: generator,
		querier:   querier,
		tools:     toolbox,
	}
}

// Run processes a single user message. documentID is the document the user is
// currently viewing, if any; it seeds the target when the classifier does not
// extract one.
func (a *Agent) Run(ctx context.Context, message, sessionID, documentID string) (resp Response) {
	turn := &Turn{
		Message:    message,
		SessionID:  sessionID,
		DocumentID: documentID,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Agent panic recovered",
				zap.Any("panic", r),
				zap.String("session_id", sessionID),
			)
			resp = Response{
				Response: "Sorry, something went wrong while processing your request. Please try again.",
			}
		}
	}()

	logger.Info("Agent turn started",
		zap.String("session_id", sessionID),
		zap.String("document_id", documentID),
	)

	a.classify(ctx, turn)

	if turn.Err != "" || turn.NeedsClarification {
		a.handleFallback(turn)
	} else {
		a.route(ctx, turn)
		if turn.Err != "" || turn.NeedsClarification {
			a.handleFallback(turn)
		}
	}

	finalize(turn)

	logger.Info("Agent turn completed",
		zap.String("session_id", sessionID),
		zap.String("intent", turn.Intent.String()),
		zap.String("tool", turn.ToolName),
	)

	return turn.toResponse()
}

func (a *Agent) route(ctx context.Context, turn *Turn) {
	switch turn.Intent {
	case IntentValidateInvoice:
		a.handleValidate(ctx, turn)
	case IntentForceValidate:
		a.handleForceValidate(ctx, turn)
	case IntentDeleteDocument:
		a.handleDelete(ctx, turn)
	case IntentExportInvoices:
		a.handleExport(ctx, turn)
	case IntentQueryDocument:
		a.handleQuery(ctx, turn)
	case IntentListDocuments:
		a.handleList(ctx, turn)
	case IntentGetDocumentDetails:
		a.handleDetails(ctx, turn)
	case IntentGeneralChat:
		a.handleGeneralChat(ctx, turn)
	default:
		a.handleFallback(turn)
	}
}
