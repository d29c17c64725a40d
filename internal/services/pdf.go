package services

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFService decomposes PDF documents into plain text.
type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// ExtractText returns the text runs of every page. Runs within a page are
// separated by a single space and pages by a newline.
func (s *PDFService) ExtractText(data []byte) (text string, err error) {
	// the pdf package reports malformed structure by panicking
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf parser: %v", ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %w", ErrExtractionFailed, err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.Join(pageRuns(page), " "))
	}
	return strings.Join(pages, "\n"), nil
}

// pageRuns walks the page content streams and collects one run per
// text-showing operator, decoded through the active font encoding.
func pageRuns(page pdf.Page) []string {
	var runs []string
	var enc pdf.TextEncoding

	decode := func(raw string) string {
		if enc == nil {
			return raw
		}
		return enc.Decode(raw)
	}
	emit := func(raw string) {
		run := decodeRun(decode(raw))
		if run != "" {
			runs = append(runs, run)
		}
	}

	interpret := func(strm pdf.Value) {
		pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
			n := stk.Len()
			args := make([]pdf.Value, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}

			switch op {
			case "Tf":
				if n == 2 {
					enc = page.Font(args[0].Name()).Encoder()
				}
			case "Tj", "'":
				if n == 1 {
					emit(args[0].RawString())
				}
			case "\"":
				if n == 3 {
					emit(args[2].RawString())
				}
			case "TJ":
				if n != 1 {
					return
				}
				var sb strings.Builder
				v := args[0]
				for i := 0; i < v.Len(); i++ {
					if x := v.Index(i); x.Kind() == pdf.String {
						sb.WriteString(x.RawString())
					}
				}
				emit(sb.String())
			}
		})
	}

	contents := page.V.Key("Contents")
	switch contents.Kind() {
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			interpret(contents.Index(i))
		}
	case pdf.Stream:
		interpret(contents)
	}
	return runs
}

// decodeRun trims a run and resolves percent-escapes. Runs with invalid
// escapes are kept verbatim.
func decodeRun(run string) string {
	run = strings.TrimSpace(run)
	if strings.Contains(run, "%") {
		if decoded, err := url.PathUnescape(run); err == nil {
			run = strings.TrimSpace(decoded)
		}
	}
	return run
}
