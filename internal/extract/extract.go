package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	log "github.com/sirupsen/logrus"
)

// ErrNoText means the file was readable but yielded no usable text.
// Callers must not cache anything for this outcome.
var ErrNoText = errors.New("no extractable text")

const tablePreviewRows = 20

// Extractor converts an uploaded file into plain text, using the
// cheapest reliable method per format. OCR is the fallback for images
// and for PDFs without a text layer.
type Extractor struct {
	ocrLang string
	pdfDPI  int
}

func New(ocrLang string, pdfDPI int) *Extractor {
	if ocrLang == "" {
		ocrLang = "eng"
	}
	if pdfDPI <= 0 {
		pdfDPI = 200
	}
	return &Extractor{ocrLang: ocrLang, pdfDPI: pdfDPI}
}

// Extract dispatches on the file extension. Anything without a
// dedicated routine gets a best-effort UTF-8 read.
func (e *Extractor) Extract(path string) (string, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "pdf":
		return e.extractPDF(path)
	case "png", "jpg", "jpeg", "gif":
		return e.extractImage(path)
	case "docx":
		return extractDocx(path)
	case "csv":
		return extractCSV(path)
	case "xlsx":
		return extractXLSX(path)
	default:
		return extractPlainText(path)
	}
}

// extractPDF tries the text layer first, then falls back to OCR for
// scanned documents.
func (e *Extractor) extractPDF(path string) (string, error) {
	text, err := pdfTextLayer(path)
	if err != nil {
		log.WithField("component", "extract").WithError(err).Debug("pdf text layer failed")
		text = ""
	}

	if strings.TrimSpace(text) == "" {
		text, err = e.pdfToTextViaOCR(path)
		if err != nil {
			log.WithField("component", "extract").WithError(err).Warn("pdf ocr fallback failed")
			text = ""
		}
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: scanned document or OCR not configured", ErrNoText)
	}
	return strings.TrimSpace(text), nil
}

func pdfTextLayer(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(pageText) != "" {
			sb.WriteString(pageText)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func (e *Extractor) extractImage(path string) (string, error) {
	text, err := e.imageFileToText(path)
	if err != nil {
		return "", fmt.Errorf("image ocr failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: image ocr produced nothing", ErrNoText)
	}
	return strings.TrimSpace(text), nil
}

// extractDocx concatenates paragraph text, one paragraph per line.
func extractDocx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open docx failed: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat docx failed: %w", err)
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("parse docx failed: %w", err)
	}

	var lines []string
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			lines = append(lines, p.String())
		}
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return "", fmt.Errorf("%w: docx has no paragraph text", ErrNoText)
	}
	return text, nil
}

// extractCSV renders a header plus the first 20 data rows as an
// aligned text table.
func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv failed: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for len(rows) < tablePreviewRows+1 {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv failed: %w", err)
		}
		rows = append(rows, record)
	}
	return renderTable(rows)
}

func extractXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx failed: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", ErrNoText)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read xlsx rows failed: %w", err)
	}
	if len(rows) > tablePreviewRows+1 {
		rows = rows[:tablePreviewRows+1]
	}
	return renderTable(rows)
}

// renderTable pads every column to its widest cell so the preview
// reads like a table in plain text.
func renderTable(rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: table is empty", ErrNoText)
	}

	widths := make([]int, 0)
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(cell)
			if pad := widths[i] - utf8.RuneCountInString(cell); pad > 0 && i < len(row)-1 {
				sb.WriteString(strings.Repeat(" ", pad))
			}
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// extractPlainText reads the file as UTF-8, dropping invalid bytes.
func extractPlainText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	text := strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
	if text == "" {
		return "", fmt.Errorf("%w: file is empty", ErrNoText)
	}
	return text, nil
}
