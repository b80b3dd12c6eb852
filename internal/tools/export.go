package tools

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/internal/storage/models"
	"github.com/invoice-agent/backend/internal/storage/sqlite"
	"github.com/invoice-agent/backend/pkg/logger"
)

var exportHeaders = []string{
	"Document ID", "Filename", "Vendor", "Invoice Number", "Date",
	"Total", "Currency", "Status", "Upload Date", "Force Validated",
}

type Exporter struct {
	db      *sqlite.Client
	dir     string
	baseURL string
}

type ExportResult struct {
	Path         string
	DownloadURL  string
	InvoiceCount int
	Format       string
}

func NewExporter(db *sqlite.Client, dir, baseURL string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &Exporter{db: db, dir: dir, baseURL: baseURL}, nil
}

// Export writes matching invoices to a CSV or XLSX file and returns where to
// download it. An empty result set still produces a file with headers.
func (e *Exporter) Export(ctx context.Context, format string, filters ExportFilters) (*ExportResult, error) {
	docs, err := e.db.FilterDocuments(filters.Vendor, filters.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices for export: %w", err)
	}

	if format != "excel" {
		format = "csv"
	}

	timestamp := time.Now().Format("20060102_150405")
	suffix := ""
	if filters.Vendor != "" {
		suffix += "_" + filters.Vendor
	}
	if filters.Status != "" {
		suffix += "_" + filters.Status
	}

	var filename string
	if format == "excel" {
		filename = fmt.Sprintf("invoices%s_%s.xlsx", suffix, timestamp)
	} else {
		filename = fmt.Sprintf("invoices%s_%s.csv", suffix, timestamp)
	}

	path := filepath.Join(e.dir, filename)

	if format == "excel" {
		err = writeExcel(path, docs)
	} else {
		err = writeCSV(path, docs)
	}
	if err != nil {
		return nil, err
	}

	metrics.ExportsGenerated.WithLabelValues(format).Inc()
	logger.Info("Invoices exported",
		zap.String("path", path),
		zap.Int("count", len(docs)),
		zap.String("format", format),
	)

	return &ExportResult{
		Path:         path,
		DownloadURL:  e.baseURL + "/" + filename,
		InvoiceCount: len(docs),
		Format:       format,
	}, nil
}

func writeCSV(path string, docs []models.Document) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(exportHeaders); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, doc := range docs {
		if err := writer.Write(exportRow(doc)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	return nil
}

func writeExcel(path string, docs []models.Document) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Invoices"
	f.SetSheetName("Sheet1", sheet)

	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to map header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to write header cell: %w", err)
		}
	}

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
		f.SetCellStyle(sheet, "A1", endCell, boldStyle)
	}

	for rowIdx, doc := range docs {
		for col, value := range exportRow(doc) {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("failed to map data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to write data cell: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save xlsx file: %w", err)
	}

	return nil
}

func exportRow(doc models.Document) []string {
	forced := "No"
	if doc.ForcedValid {
		forced = "Yes"
	}

	return []string{
		doc.ID,
		doc.Filename,
		doc.Metadata.Vendor,
		doc.Metadata.InvoiceNumber,
		doc.Metadata.Date,
		strconv.FormatFloat(doc.Metadata.Total, 'f', 2, 64),
		doc.Metadata.Currency,
		doc.ValidationStatus,
		doc.UploadedAt.Format(time.RFC3339),
		forced,
	}
}
