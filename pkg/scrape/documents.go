package scrape

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// ExtractPDF returns the plain text of a PDF document.
func ExtractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, textReader); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return collapseWhitespace(sb.String()), nil
}

var xmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// ExtractDOCX returns the visible text of a Word document. Paragraph ends
// become newlines before tags are stripped.
func ExtractDOCX(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = xmlTagPattern.ReplaceAllString(content, " ")
	return collapseWhitespace(content), nil
}

// ExtractXLSX flattens a spreadsheet into tab-separated rows, sheet by sheet.
func ExtractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(sheet)
		sb.WriteByte('\n')
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}
	return collapseWhitespace(sb.String()), nil
}
