package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"imagebatch-backend/internal/database"
	"imagebatch-backend/internal/parser"
	"imagebatch-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var ErrNoRowsToExport = errors.New("no processed rows to export")

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "", string(ExportCSV):
		return ExportCSV, nil
	case string(ExportXLSX):
		return ExportXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

var exportHeader = []string{
	parser.ColumnSerialNumber,
	parser.ColumnProductName,
	parser.ColumnImageURLs,
	"Output Image Urls",
}

// Exporter renders a job's persisted rows into a flat report, one line per
// row in the order rows were persisted, and stores it under a deterministic
// key so repeated exports of the same job overwrite rather than accumulate.
type Exporter struct {
	db      *gorm.DB
	storage storage.ObjectStore
}

func NewExporter(db *gorm.DB, store storage.ObjectStore) *Exporter {
	return &Exporter{db: db, storage: store}
}

// Export returns the public path of the generated report. An unknown job and
// a job with no persisted rows are indistinguishable here, both yield
// ErrNoRowsToExport.
func (e *Exporter) Export(ctx context.Context, jobId uuid.UUID, format ExportFormat) (string, error) {
	var rows []database.ProductRow
	if err := e.db.WithContext(ctx).Where("job_id = ?", jobId).Order("position").Find(&rows).Error; err != nil {
		return "", fmt.Errorf("error querying rows for job %s: %w", jobId, err)
	}
	if len(rows) == 0 {
		return "", ErrNoRowsToExport
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case ExportXLSX:
		err = writeXLSX(&buf, rows)
	default:
		err = writeCSV(&buf, rows)
	}
	if err != nil {
		return "", fmt.Errorf("error rendering export for job %s: %w", jobId, err)
	}

	key := fmt.Sprintf("exports/output_%s.%s", jobId, format)
	if err := e.storage.PutObject(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("error storing export for job %s: %w", jobId, err)
	}

	return storage.FileURL(key), nil
}

func writeCSV(buf *bytes.Buffer, rows []database.ProductRow) error {
	writer := csv.NewWriter(buf)

	if err := writer.Write(exportHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.SerialNumber, row.ProductName, row.InputImageURLs, row.OutputImageURLs}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeXLSX(buf *bytes.Buffer, rows []database.ProductRow) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &[]interface{}{row.SerialNumber, row.ProductName, row.InputImageURLs, row.OutputImageURLs}); err != nil {
			return err
		}
	}

	return f.Write(buf)
}
