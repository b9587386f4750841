// Package provider talks to external content-retrieval services: web search
// by term and scraping of a single URL into text.
package provider

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Hit is one search result.
type Hit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain"`
}

type ScrapeOptions struct {
	Formats []string // e.g. "markdown", "html"
	Timeout time.Duration
}

type ScrapeResult struct {
	Success bool
	Content string
	Length  int // in characters
	Title   string
	Author  string
}

// Searcher queries the open web for a term.
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]Hit, error)
}

// Scraper retrieves the content behind a URL.
type Scraper interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (ScrapeResult, error)
}

// DomainOf returns the lowercased host of rawURL without a leading "www.".
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
