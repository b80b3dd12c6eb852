package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/ingestion"
	"github.com/invoice-agent/backend/internal/storage/sqlite"
	"github.com/invoice-agent/backend/internal/tools"
	"github.com/invoice-agent/backend/internal/validation"
	"github.com/invoice-agent/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
	validator *validation.Validator
	toolbox   tools.Toolbox
}

func NewDocumentHandler(processor *ingestion.Processor, db *sqlite.Client, validator *validation.Validator, toolbox tools.Toolbox) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		db:        db,
		validator: validator,
		toolbox:   toolbox,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	doc, err := h.processor.Ingest(c.Context(), fileHeader.Filename, data)
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		if doc != nil {
			// Stored but not indexed. Report the partial state so the
			// client can retry via reindex.
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"document_id": doc.ID,
				"filename":    doc.Filename,
				"indexed":     false,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"status":      doc.ValidationStatus,
		"indexed":     true,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	if term := c.Query("search"); term != "" {
		docs, err := h.db.SearchDocuments(term)
		if err != nil {
			logger.Error("Failed to search documents", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to search documents",
			})
		}
		return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
	}

	docs, err := h.db.ListDocuments(limit)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.db.GetDocument(c.Params("id"))
	if err != nil {
		logger.Error("Failed to get document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get document",
		})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	resp := fiber.Map{"document": doc}
	if validation, err := h.db.GetLatestValidation(doc.ID); err == nil && validation != nil {
		resp["validation"] = validation
	}

	return c.JSON(resp)
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	result := h.toolbox.DeleteDocument(c.Context(), c.Params("id"))
	if !result.Success {
		status := fiber.StatusInternalServerError
		if result.Error == "Document not found" {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"error": result.Error})
	}

	return c.JSON(result.Data)
}

func (h *DocumentHandler) ReindexDocument(c *fiber.Ctx) error {
	chunks, err := h.processor.Reindex(c.Context(), c.Params("id"))
	if err != nil {
		logger.Error("Failed to reindex document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reindex document",
		})
	}

	return c.JSON(fiber.Map{
		"document_id": c.Params("id"),
		"chunks":      chunks,
	})
}

func (h *DocumentHandler) ValidateDocument(c *fiber.Ctx) error {
	result, err := h.validator.Validate(c.Context(), c.Params("id"))
	if err != nil {
		logger.Error("Failed to validate document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

func (h *DocumentHandler) ForceValidateDocument(c *fiber.Ctx) error {
	var req struct {
		Corrections map[string]string `json:"corrections"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	doc, err := h.validator.ForceValidate(c.Context(), c.Params("id"), req.Corrections)
	if err != nil {
		logger.Error("Failed to force validate document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"document":     doc,
		"forced_valid": true,
	})
}
