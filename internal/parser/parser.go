// Package parser reads a product image table (CSV or XLSX) and validates it
// before any job processing starts. Parsing is pure: no side effects, rows come
// back in table order.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	ColumnSerialNumber = "Serial Number"
	ColumnProductName  = "Product Name"
	ColumnImageURLs    = "Input Image Urls"
)

var (
	ErrMalformedTable        = errors.New("table could not be read")
	ErrMissingColumns        = errors.New("table does not contain required columns")
	ErrDuplicateSerialNumber = errors.New("serial numbers are not unique")
	ErrEmptyProductName      = errors.New("product name contains empty values")
)

// IsValidationError reports whether err is a table rejection, as opposed to an
// I/O failure while reading the upload.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMalformedTable) ||
		errors.Is(err, ErrMissingColumns) ||
		errors.Is(err, ErrDuplicateSerialNumber) ||
		errors.Is(err, ErrEmptyProductName)
}

type RawRow struct {
	SerialNumber string
	ProductName  string
	ImageURLs    []string
}

// Parse dispatches on the uploaded filename's extension. Anything that is not
// an Excel workbook is treated as CSV, the wire format of the batch upload.
func Parse(name string, r io.Reader) ([]RawRow, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	default:
		return ParseCSV(r)
	}
}

func ParseCSV(r io.Reader) ([]RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // validated below, short rows read as empty cells

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}

	return buildRows(records)
}

func ParseXLSX(r io.Reader) ([]RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMalformedTable)
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}

	return buildRows(records)
}

func buildRows(records [][]string) ([]RawRow, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: table is empty", ErrMalformedTable)
	}

	columns, err := indexColumns(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]RawRow, 0, len(records)-1)
	seen := make(map[string]struct{}, len(records)-1)

	// Validation order matters: duplicate serials are reported before empty
	// product names, regardless of which row each problem appears in.
	for _, record := range records[1:] {
		serial := cell(record, columns[ColumnSerialNumber])
		if _, dup := seen[serial]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSerialNumber, serial)
		}
		seen[serial] = struct{}{}
	}

	for _, record := range records[1:] {
		name := cell(record, columns[ColumnProductName])
		if name == "" {
			return nil, fmt.Errorf("%w: row with serial %q", ErrEmptyProductName, cell(record, columns[ColumnSerialNumber]))
		}

		rows = append(rows, RawRow{
			SerialNumber: cell(record, columns[ColumnSerialNumber]),
			ProductName:  name,
			ImageURLs:    splitURLs(cell(record, columns[ColumnImageURLs])),
		})
	}

	return rows, nil
}

func indexColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, required := range []string{ColumnSerialNumber, ColumnProductName, ColumnImageURLs} {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	return columns, nil
}

func cell(record []string, index int) string {
	if index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

func splitURLs(joined string) []string {
	var urls []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}
