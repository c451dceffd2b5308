package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is one labelled line on a single-record document.
type Field struct {
	Label string
	Value string
}

// Document is a titled list of fields, e.g. a payment receipt.
type Document struct {
	Title    string
	Subtitle string
	Fields   []Field
	Footer   string
}

// PDFExporter renders single-record documents into A4 PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF with a centred title followed by a two-column field table.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Fields) == 0 {
		return nil, fmt.Errorf("pdf requires at least one field")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, strings.ToUpper(doc.Title), "", 1, "C", false, 0, "")
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, doc.Subtitle, "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	for _, field := range doc.Fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 8, field.Label, "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(120, 8, field.Value, "1", 1, "", false, 0, "")
	}

	if doc.Footer != "" {
		pdf.Ln(8)
		pdf.SetFont("Arial", "I", 8)
		pdf.MultiCell(0, 5, doc.Footer, "", "L", false)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
