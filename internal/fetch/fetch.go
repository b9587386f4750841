// Package fetch retrieves the full content behind a source URL and decides
// whether it is substantial enough to keep.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pearldiveja/archivefever/internal/provider"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultMinContentChars = 500
)

var (
	// ErrProvider matches every *ProviderError. Retryable on a later run.
	ErrProvider = errors.New("provider error")
	// ErrInsufficient matches every *InsufficientError.
	ErrInsufficient = errors.New("content insufficient")
)

// ProviderError reports that the provider could not deliver content: network
// failure, non-success status, timeout, auth or rate limiting, or an
// explicit unsuccessful scrape.
type ProviderError struct {
	URL  string
	Kind provider.Kind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// InsufficientError reports content that arrived but is too short to ingest.
type InsufficientError struct {
	URL      string
	Length   int
	Required int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("content from %s too short: %d characters, need %d", e.URL, e.Length, e.Required)
}

func (e *InsufficientError) Is(target error) bool { return target == ErrInsufficient }

// Content is validated text for one URL.
type Content struct {
	URL    string
	Text   string
	Title  string
	Author string
}

// Length is the content length in characters.
func (c Content) Length() int { return utf8.RuneCountInString(c.Text) }

// Fetcher retrieves content through a provider.Scraper.
type Fetcher struct {
	scraper  provider.Scraper
	timeout  time.Duration
	minChars int
}

// New returns a Fetcher. Non-positive timeout or minChars select the defaults.
func New(scraper provider.Scraper, timeout time.Duration, minChars int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if minChars <= 0 {
		minChars = DefaultMinContentChars
	}
	return &Fetcher{scraper: scraper, timeout: timeout, minChars: minChars}
}

// Fetch scrapes url as markdown within the configured timeout.
// Errors are either *ProviderError or *InsufficientError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Content, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.scraper.Scrape(ctx, url, provider.ScrapeOptions{
		Formats: []string{"markdown"},
		Timeout: f.timeout,
	})
	if err != nil {
		kind := provider.KindOf(err)
		if kind == "" && errors.Is(err, context.DeadlineExceeded) {
			kind = provider.KindTimeout
		}
		return Content{}, &ProviderError{URL: url, Kind: kind, Err: err}
	}
	if !res.Success {
		return Content{}, &ProviderError{URL: url, Kind: provider.KindRejected, Err: errors.New("scrape reported no success")}
	}

	text := strings.TrimSpace(res.Content)
	if n := utf8.RuneCountInString(text); n < f.minChars {
		return Content{}, &InsufficientError{URL: url, Length: n, Required: f.minChars}
	}
	return Content{
		URL:    url,
		Text:   text,
		Title:  strings.TrimSpace(res.Title),
		Author: strings.TrimSpace(res.Author),
	}, nil
}
