package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/agent"
	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/pkg/logger"
)

type ChatHandler struct {
	agent *agent.Agent
}

func NewChatHandler(a *agent.Agent) *ChatHandler {
	return &ChatHandler{agent: a}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Message    string `json:"message"`
		SessionID  string `json:"session_id"`
		DocumentID string `json:"document_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse chat request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	start := time.Now()
	resp := h.agent.Run(c.Context(), req.Message, req.SessionID, req.DocumentID)

	tool := resp.ToolUsed
	if tool == "" {
		tool = "none"
	}
	metrics.ChatTurns.WithLabelValues(tool).Inc()
	metrics.ChatTurnDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())

	return c.JSON(fiber.Map{
		"session_id":             req.SessionID,
		"response":               resp.Response,
		"tool_used":              resp.ToolUsed,
		"sources":                resp.Sources,
		"needs_clarification":    resp.NeedsClarification,
		"clarification_question": resp.ClarificationQuestion,
		"model_used":             resp.ModelUsed,
		"download_url":           resp.DownloadURL,
	})
}
