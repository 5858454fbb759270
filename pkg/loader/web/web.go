package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/OFFIS-RIT/medrag/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
)

// Loader fetches web URLs and extracts readable text. For HTML pages it
// uses readability to keep only the main content.
type Loader struct {
	client   *http.Client
	fallback loader.Loader
	cache    *loader.Cache
}

type Option func(*Loader)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithFallback hands non-HTML responses to another loader instead of
// returning the raw body.
func WithFallback(f loader.Loader) Option {
	return func(l *Loader) { l.fallback = f }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{client: http.DefaultClient, cache: loader.NewCache()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetFileText fetches a URL and extracts readable text content.
func (l *Loader) GetFileText(ctx context.Context, src loader.Source) ([]byte, error) {
	return l.cache.Do(loader.CacheKey(src), func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
		}

		contentType := resp.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			u, err := url.Parse(src.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to parse url: %w", err)
			}
			article, err := readability.FromReader(resp.Body, u)
			if err != nil {
				return nil, fmt.Errorf("failed to parse html: %w", err)
			}
			var builder strings.Builder
			if err := article.RenderText(&builder); err != nil {
				return nil, fmt.Errorf("failed to render article text: %w", err)
			}
			return []byte(builder.String()), nil
		}

		if l.fallback != nil {
			return l.fallback.GetFileText(ctx, src)
		}

		return io.ReadAll(resp.Body)
	})
}
