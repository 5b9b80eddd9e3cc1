package extract

import (
	"context"
	"io"
)

// TextExtractor is the document-text-extraction collaborator: document bytes
// in, raw text out. The pipeline treats it as opaque; any implementation
// failure surfaces as ErrUnreadableDocument.
type TextExtractor interface {
	Extract(ctx context.Context, content io.Reader) (string, error)
}
