package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var errNoVision = errors.New("no vision describer configured")

// ContentExtractor turns an uploaded document into plain text. PDFs are
// decomposed locally; images are handed to a vision model.
type ContentExtractor struct {
	pdf    *PDFService
	vision VisionDescriber
}

func NewContentExtractor(pdf *PDFService, vision VisionDescriber) *ContentExtractor {
	if pdf == nil {
		pdf = NewPDFService()
	}
	return &ContentExtractor{pdf: pdf, vision: vision}
}

// ExtractText dispatches on the declared MIME type. Only application/pdf
// and image/* are accepted.
func (e *ContentExtractor) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	mediaType := baseMediaType(mimeType)
	switch {
	case mediaType == "application/pdf":
		return e.pdf.ExtractText(data)
	case strings.HasPrefix(mediaType, "image/"):
		if e.vision == nil {
			return "", fmt.Errorf("%w: %w", ErrGenerationFailed, errNoVision)
		}
		return e.vision.DescribeImage(ctx, data, mediaType)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

// baseMediaType strips parameters such as "; charset=binary".
func baseMediaType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
