// Package pdftext extracts plain text from PDF files page by page, keeping
// the library's row grouping so that text from side-by-side columns is not
// interleaved.
package pdftext

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// openPDF is replaced by tests.
var openPDF = pdf.Open

// Extractor reads the text content of a PDF on disk.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns the text of every page at path. Within a page, rows are
// concatenated in reading order; every page is followed by a blank line.
// Empty pages contribute only their separator. The library panics on some
// malformed files; those panics are returned as errors.
func (e *Extractor) Extract(ctx context.Context, path string) (text string, err error) {
	_, span := otel.Tracer("pdftext").Start(ctx, "Extract",
		trace.WithAttributes(attribute.String("file.path", path)),
	)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
			span.RecordError(err)
		}
	}()

	f, r, err := openPDF(path)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	span.SetAttributes(attribute.Int("pdf.pages", n))

	var b strings.Builder
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			b.WriteString("\n\n")
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		b.WriteString(pageText(rows))
	}
	return b.String(), nil
}

// pageText joins the fragments of each row, then the rows, then appends the
// page separator.
func pageText(rows pdf.Rows) string {
	var b strings.Builder
	for _, row := range rows {
		if row == nil {
			continue
		}
		for _, t := range row.Content {
			b.WriteString(t.S)
		}
	}
	b.WriteString("\n\n")
	return b.String()
}
