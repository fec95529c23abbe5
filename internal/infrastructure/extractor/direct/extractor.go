// Package direct extracts text from formats that skip the external
// parser: plain text, markdown, and xlsx workbooks.
package direct

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/akulikov/kbdoc/internal/core/ports"
)

type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Supports(fileType string) bool {
	switch strings.ToLower(fileType) {
	case "md", "markdown", "txt", "xlsx":
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(ctx context.Context, key string) (string, error) {
	reader, err := e.storage.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	if strings.HasSuffix(strings.ToLower(key), ".xlsx") {
		return extractWorkbook(reader)
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("binary content in text document: %s", key)
	}
	return strings.TrimSpace(string(raw)), nil
}

// extractWorkbook renders each sheet as a markdown table under a
// heading with the sheet name, so the chunker's section tracking keeps
// sheet provenance.
func extractWorkbook(reader io.Reader) (string, error) {
	workbook, err := excelize.OpenReader(reader)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	var sb strings.Builder
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		sb.WriteString("# ")
		sb.WriteString(sheet)
		sb.WriteString("\n\n")
		for i, row := range rows {
			sb.WriteString("| ")
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString(" |\n")
			if i == 0 {
				sb.WriteString("|")
				sb.WriteString(strings.Repeat(" --- |", len(row)))
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
