// Package spreadsheet renders every sheet of an .xlsx workbook as CSV.
package spreadsheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractText writes each sheet, in workbook order, as
// "\n=== <sheet> ===\n<csv>\n".
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "open xlsx", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", domain.WrapError(domain.ErrExtraction, fmt.Sprintf("read sheet %q", sheet), err)
		}
		body, err := toCSV(rows)
		if err != nil {
			return "", domain.WrapError(domain.ErrExtraction, fmt.Sprintf("encode sheet %q", sheet), err)
		}
		fmt.Fprintf(&sb, "\n=== %s ===\n%s\n", sheet, body)
	}
	return sb.String(), nil
}

func toCSV(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// excelize trims trailing empty cells, so rows have ragged widths.
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	for _, row := range rows {
		padded := row
		if len(row) < width {
			padded = make([]string, width)
			copy(padded, row)
		}
		if err := w.Write(padded); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
