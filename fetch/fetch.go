// Package fetch provides the page-fetching client used by all crawl
// drivers: rendered HTML for a URL, optionally waiting for a CSS
// selector before returning.
package fetch

import "context"

// Client fetches rendered HTML pages. Implementations retry internally
// with backoff; a returned error means the page is not retrievable.
type Client interface {
	// GetHTML returns the rendered HTML for url. waitSelector, when
	// non-empty, is a CSS selector the client waits for so that
	// JS-rendered content is present; a missed selector is not fatal.
	GetHTML(ctx context.Context, url, waitSelector string) (string, error)

	// Close releases the underlying browser resources.
	Close() error
}
