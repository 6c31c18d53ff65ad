package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders collection registers and receipts.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderRegister prints the dataset as a landscape register. Columns listed in
// numeric are right aligned; the footer row is printed in bold.
func (e *PDFExporter) RenderRegister(data Dataset, title string, numeric ...string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	right := make(map[string]bool, len(numeric))
	for _, col := range numeric {
		right[col] = true
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	colWidth := 277.0 / float64(len(data.Headers))

	header := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for _, h := range data.Headers {
			pdf.CellFormat(colWidth, 7, strings.ReplaceAll(h, "_", " "), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetHeaderFunc(func() {
		if title != "" {
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(0, 8, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
			pdf.Ln(2)
		}
		header()
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()

	row := func(values map[string]string) {
		for _, h := range data.Headers {
			align := "L"
			if right[h] {
				align = "R"
			}
			pdf.CellFormat(colWidth, 6, tr(values[h]), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "", 7)
	for _, values := range data.Rows {
		row(values)
	}
	if len(data.Footer) > 0 {
		pdf.SetFont("Arial", "B", 7)
		row(data.Footer)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
