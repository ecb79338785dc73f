// Package renderer fetches page markup for the pipeline.
package renderer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aktagon/news-digest/internal/logger"
)

// Renderer returns the markup of a page. Extension bundles are passed through for renderers
// that drive a browser.
type Renderer interface {
	Render(ctx context.Context, url string, extensions []string) (string, error)
	RenderAndPersist(ctx context.Context, url, path string, extensions []string) error
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

const maxBodyBytes = 20 << 20

// HTTPRenderer fetches raw markup with a plain GET. It cannot execute scripts or load extensions.
type HTTPRenderer struct {
	client    *http.Client
	userAgent string
	log       *logger.Logger
}

// NewHTTPRenderer creates a renderer with the given request timeout and user agent.
func NewHTTPRenderer(timeout time.Duration, userAgent string, log *logger.Logger) *HTTPRenderer {
	if log == nil {
		log = logger.Discard()
	}
	return &HTTPRenderer{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		log:       log,
	}
}

// Render fetches url and returns the response body.
func (r *HTTPRenderer) Render(ctx context.Context, url string, extensions []string) (string, error) {
	if len(extensions) > 0 {
		r.log.Debug("http renderer ignores extension bundles", "url", url, "extensions", len(extensions))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", url, err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	return string(body), nil
}

// RenderAndPersist renders url and writes the markup to path.
func (r *HTTPRenderer) RenderAndPersist(ctx context.Context, url, path string, extensions []string) error {
	markup, err := r.Render(ctx, url, extensions)
	if err != nil {
		return err
	}
	return Persist(path, markup)
}

// Persist writes markup to path, creating parent directories.
func Persist(path, markup string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(markup), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
