package handlers

import (
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/tools"
	"github.com/invoice-agent/backend/pkg/logger"
)

type ExportHandler struct {
	exporter *tools.Exporter
	dir      string
}

func NewExportHandler(exporter *tools.Exporter, dir string) *ExportHandler {
	return &ExportHandler{exporter: exporter, dir: dir}
}

func (h *ExportHandler) CreateExport(c *fiber.Ctx) error {
	var req struct {
		Format string `json:"format"`
		Vendor string `json:"vendor"`
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.exporter.Export(c.Context(), req.Format, tools.ExportFilters{
		Vendor: req.Vendor,
		Status: req.Status,
	})
	if err != nil {
		logger.Error("Export failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Export failed",
		})
	}

	return c.JSON(fiber.Map{
		"download_url":  result.DownloadURL,
		"invoice_count": result.InvoiceCount,
		"format":        result.Format,
	})
}

// DownloadExport serves a previously generated export file. The filename is
// confined to the export directory.
func (h *ExportHandler) DownloadExport(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))
	if filename == "." || strings.HasPrefix(filename, "..") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid filename",
		})
	}

	return c.SendFile(filepath.Join(h.dir, filename))
}
