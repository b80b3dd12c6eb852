package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/agent"
	"github.com/invoice-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	agent *agent.Agent
}

func NewWebSocketHandler(a *agent.Agent) *WebSocketHandler {
	return &WebSocketHandler{agent: a}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	sessionID := uuid.New().String()

	for {
		var msg struct {
			Type       string `json:"type"`
			Message    string `json:"message"`
			SessionID  string `json:"session_id"`
			DocumentID string `json:"document_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "chat" || msg.Message == "" {
			continue
		}

		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}

		if err := h.runTurn(c, msg.Message, sessionID, msg.DocumentID); err != nil {
			logger.Error("Failed to process WebSocket chat turn", zap.Error(err))
			h.sendError(c, "Failed to process message")
		}
	}
}

func (h *WebSocketHandler) runTurn(c *websocket.Conn, message, sessionID, documentID string) error {
	h.send(c, "status", "Thinking...")

	resp := h.agent.Run(context.Background(), message, sessionID, documentID)

	// The full response streams word by word so the client renders
	// progressively regardless of which handler produced it.
	words := strings.Fields(resp.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		if err := h.send(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":                   "complete",
		"session_id":             sessionID,
		"response":               resp.Response,
		"tool_used":              resp.ToolUsed,
		"sources":                resp.Sources,
		"needs_clarification":    resp.NeedsClarification,
		"clarification_question": resp.ClarificationQuestion,
		"model_used":             resp.ModelUsed,
		"download_url":           resp.DownloadURL,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
