// Package render hands the printable report to an external service that
// turns HTML into a PDF or image.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

// maxOutputBytes caps the rendered document read back from the service.
const maxOutputBytes = 32 << 20 // 32 MiB

var (
	ErrNotConfigured = errors.New("no render service configured")
	ErrRenderFailed  = errors.New("render service failed")
)

// Renderer converts report HTML into another document type.
type Renderer interface {
	Render(ctx context.Context, html []byte) ([]byte, string, error)
}

// HTTPRenderer posts HTML to a render endpoint and returns its response
// body and content type.
type HTTPRenderer struct {
	client   *http.Client
	endpoint string
}

// NewHTTPRenderer creates a renderer for endpoint. An empty endpoint yields
// nil, which callers treat as rendering being unavailable.
func NewHTTPRenderer(endpoint string) *HTTPRenderer {
	if endpoint == "" {
		return nil
	}
	return &HTTPRenderer{
		client:   &http.Client{Timeout: 60 * time.Second},
		endpoint: endpoint,
	}
}

// Render sends html to the service.
func (r *HTTPRenderer) Render(ctx context.Context, html []byte) ([]byte, string, error) {
	if r == nil {
		return nil, "", ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrRenderFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading render output: %w", err)
	}
	if int64(len(body)) > maxOutputBytes {
		return nil, "", fmt.Errorf("%w: output too large", ErrRenderFailed)
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt == "" {
		ct = http.DetectContentType(body)
	}
	return body, ct, nil
}

// Extension returns a file extension for a rendered content type.
func Extension(contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	return ".bin"
}
