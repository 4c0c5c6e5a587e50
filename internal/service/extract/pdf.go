package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageSource yields the raw text of 1-based pages.
type pageSource interface {
	NumPage() int
	PageText(n int) (string, error)
}

type pdfDocument struct {
	reader *pdf.Reader
}

func (d pdfDocument) NumPage() int {
	return d.reader.NumPage()
}

func (d pdfDocument) PageText(n int) (string, error) {
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func extractPDF(data []byte) (string, bool) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Sprintf("Error reading PDF: %v", err), false
	}
	return extractPages(pdfDocument{reader: reader})
}

func extractPages(src pageSource) (string, bool) {
	var pages []string
	for n := 1; n <= src.NumPage(); n++ {
		raw, err := pageText(src, n)
		if err != nil {
			continue
		}
		text := Sanitize(raw)
		if text == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("--- Page %d ---\n%s", n, text))
	}
	if len(pages) == 0 {
		return "No text content found in PDF", false
	}
	return strings.Join(pages, "\n\n"), true
}

// pageText isolates a single page so a broken content stream only loses that page.
func pageText(src pageSource, n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", n, r)
		}
	}()
	return src.PageText(n)
}
