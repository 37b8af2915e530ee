package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Format names a supported export encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// Table is a titled grid of cells. Every row should have len(Headers) cells; short rows are padded.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Section groups tables rendered into a single document.
type Section struct {
	Heading string
	Tables  []Table
}

// Render encodes the tables in the requested format.
func Render(format Format, doc Section) ([]byte, error) {
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("export requires at least one table")
	}
	for _, table := range doc.Tables {
		if len(table.Headers) == 0 {
			return nil, fmt.Errorf("table %q has no headers", table.Title)
		}
	}
	switch format {
	case FormatCSV:
		return renderCSV(doc)
	case FormatPDF:
		return renderPDF(doc)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// renderCSV writes each table as a block preceded by its title row and separated by a blank line.
func renderCSV(doc Section) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	for i, table := range doc.Tables {
		if i > 0 {
			if err := writer.Write([]string{}); err != nil {
				return nil, fmt.Errorf("write csv separator: %w", err)
			}
		}
		if table.Title != "" {
			if err := writer.Write([]string{table.Title}); err != nil {
				return nil, fmt.Errorf("write csv title: %w", err)
			}
		}
		if err := writer.Write(table.Headers); err != nil {
			return nil, fmt.Errorf("write csv headers: %w", err)
		}
		for _, row := range table.Rows {
			if err := writer.Write(pad(row, len(table.Headers))); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPDF(doc Section) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Heading != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(doc.Heading), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	for _, table := range doc.Tables {
		if table.Title != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, tr(strings.ToUpper(table.Title)), "", 1, "L", false, 0, "")
		}
		colWidth := 190.0 / float64(len(table.Headers))

		pdf.SetFont("Arial", "B", 9)
		for _, header := range table.Headers {
			pdf.CellFormat(colWidth, 7, tr(header), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		if len(table.Rows) == 0 {
			pdf.CellFormat(190, 7, "no entries", "1", 1, "C", false, 0, "")
		}
		for _, row := range table.Rows {
			for _, cell := range pad(row, len(table.Headers)) {
				pdf.CellFormat(colWidth, 7, tr(cell), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(6)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func pad(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
