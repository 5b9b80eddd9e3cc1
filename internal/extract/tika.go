package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fedutinova/finsight/internal/common"
)

// TikaExtractor talks to an Apache Tika text-extraction endpoint. Tika takes
// the raw document on a PUT and answers with plain text.
type TikaExtractor struct {
	url    string
	client *http.Client
}

func NewTikaExtractor(url string) *TikaExtractor {
	return &TikaExtractor{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (e *TikaExtractor) Extract(ctx context.Context, content io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.url, content)
	if err != nil {
		return "", fmt.Errorf("failed to create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "text/plain")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: extractor rejected the document", common.ErrUnreadableDocument)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, string(body))
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted text: %w", err)
	}

	slog.Debug("document text extracted",
		"bytes", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())

	return string(text), nil
}
