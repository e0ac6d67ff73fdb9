package scraper

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFOptions controls how page texts are stitched together.
type PDFOptions struct {
	Separator      string
	SkipEmptyPages bool
}

var (
	// Downloaded documents are joined on a single space.
	remotePDF = PDFOptions{Separator: " ", SkipEmptyPages: true}
	// Uploaded files are joined line by line.
	uploadedPDF = PDFOptions{Separator: "\n", SkipEmptyPages: true}
)

// ExtractPDFText returns the plain text of every page of a PDF document,
// joined according to opts, along with the page count.
func ExtractPDFText(data []byte, opts PDFOptions) (text string, pages int, err error) {
	// ledongthuc/pdf panics on malformed cross reference data.
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	texts := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", numPages, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		if opts.SkipEmptyPages && strings.TrimSpace(pageText) == "" {
			continue
		}
		texts = append(texts, pageText)
	}

	return strings.Join(texts, opts.Separator), numPages, nil
}
