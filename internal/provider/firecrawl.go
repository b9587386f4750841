package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL        = "https://api.firecrawl.dev"
	defaultRequestTimeout = 60 * time.Second
	maxRetries            = 3
	initialBackoff        = 500 * time.Millisecond
	maxErrorBody          = 4 << 10
)

// FirecrawlConfig configures a FirecrawlClient.
type FirecrawlConfig struct {
	APIKey  string
	BaseURL string // default https://api.firecrawl.dev
	// RequestsPerSecond bounds the sustained request rate shared by all callers.
	RequestsPerSecond float64 // default 2
	Burst             int     // default 4
	HTTPClient        *http.Client
}

func (c *FirecrawlConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
}

// FirecrawlClient is a Searcher and Scraper backed by a Firecrawl-compatible HTTP API.
type FirecrawlClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewFirecrawlClient(cfg FirecrawlConfig) *FirecrawlClient {
	cfg.defaults()
	return &FirecrawlClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"data"`
}

// Search returns up to limit hits for term.
func (c *FirecrawlClient) Search(ctx context.Context, term string, limit int) ([]Hit, error) {
	var resp searchResponse
	if err := c.post(ctx, "search", "/v1/search", searchRequest{Query: term, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{Op: "search", Kind: KindRejected, Err: errors.New(nonEmpty(resp.Error, "success=false"))}
	}

	hits := make([]Hit, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL == "" {
			continue
		}
		hits = append(hits, Hit{
			URL:     d.URL,
			Title:   d.Title,
			Snippet: d.Description,
			Domain:  DomainOf(d.URL),
		})
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	Timeout         int64    `json:"timeout,omitempty"` // milliseconds
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Content  string `json:"content"`
		Metadata struct {
			Title  string `json:"title"`
			Author string `json:"author"`
		} `json:"metadata"`
	} `json:"data"`
}

// Scrape fetches url through the provider. A provider-side failure with a
// successful HTTP exchange is reported as ScrapeResult{Success: false}.
func (c *FirecrawlClient) Scrape(ctx context.Context, url string, opts ScrapeOptions) (ScrapeResult, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := scrapeRequest{
		URL:             url,
		Formats:         formats,
		Timeout:         opts.Timeout.Milliseconds(),
		OnlyMainContent: true,
	}
	var resp scrapeResponse
	if err := c.post(ctx, "scrape", "/v1/scrape", req, &resp); err != nil {
		return ScrapeResult{}, err
	}
	if !resp.Success {
		return ScrapeResult{Success: false}, nil
	}

	content := resp.Data.Markdown
	if content == "" {
		content = resp.Data.Content
	}
	if content == "" {
		content = resp.Data.HTML
	}
	return ScrapeResult{
		Success: true,
		Content: content,
		Length:  utf8.RuneCountInString(content),
		Title:   resp.Data.Metadata.Title,
		Author:  resp.Data.Metadata.Author,
	}, nil
}

// post sends a JSON request, retrying on HTTP 429 with exponential backoff.
func (c *FirecrawlClient) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", op, err)
	}

	var lastErr error
	for attempt := range maxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Op: op, Kind: KindTimeout, Err: err}
		}

		err := c.doPost(ctx, op, path, body, out)
		if err == nil {
			return nil
		}
		if KindOf(err) != KindRateLimit {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return &Error{Op: op, Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func (c *FirecrawlClient) doPost(ctx context.Context, op, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(op, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindDecode, Err: err}
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
