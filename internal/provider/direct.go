package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultDirectTimeout = 30 * time.Second
	defaultMaxBytes      = 10 << 20 // 10MB
	directUserAgent      = "archivefever/1.0 (+research ingestion)"
)

// DirectScraper fetches pages with plain HTTP and converts them locally:
// sanitized HTML to markdown, PDF to plain text, text/* as is.
type DirectScraper struct {
	client   *http.Client
	md       *converter.Converter
	policy   *bluemonday.Policy
	maxBytes int64
}

func NewDirectScraper(client *http.Client) *DirectScraper {
	if client == nil {
		client = &http.Client{
			Timeout: defaultDirectTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		}
	}
	return &DirectScraper{
		client: client,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		// Scripts, forms, embeds and event handlers never reach the library.
		policy:   bluemonday.UGCPolicy(),
		maxBytes: defaultMaxBytes,
	}
}

func (d *DirectScraper) Scrape(ctx context.Context, url string, opts ScrapeOptions) (ScrapeResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ScrapeResult{}, &Error{Op: "scrape", Kind: KindStatus, Err: err}
	}
	req.Header.Set("User-Agent", directUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return ScrapeResult{}, transportError("scrape", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ScrapeResult{}, statusError("scrape", resp.StatusCode, string(snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes))
	if err != nil {
		return ScrapeResult{}, transportError("scrape", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var result ScrapeResult
	switch {
	case mediaType == "application/pdf" || (mediaType == "" && strings.HasSuffix(strings.ToLower(req.URL.Path), ".pdf")):
		text, err := pdfText(body)
		if err != nil {
			return ScrapeResult{}, &Error{Op: "scrape", Kind: KindDecode, Err: err}
		}
		result.Content = text
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "":
		meta := readHTMLMeta(body)
		md, err := d.md.ConvertString(string(d.policy.SanitizeBytes(body)), converter.WithDomain(url))
		if err != nil {
			return ScrapeResult{}, &Error{Op: "scrape", Kind: KindDecode, Err: err}
		}
		result.Content = strings.TrimSpace(md)
		result.Title = meta.title
		result.Author = meta.author
	case strings.HasPrefix(mediaType, "text/"):
		result.Content = string(body)
	default:
		return ScrapeResult{Success: false}, nil
	}

	result.Success = true
	result.Length = utf8.RuneCountInString(result.Content)
	return result, nil
}

// pdfText extracts plain text from a PDF document.
func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FallbackScraper tries Primary and, when it errors or reports no success,
// Secondary.
type FallbackScraper struct {
	Primary   Scraper
	Secondary Scraper
}

func (f FallbackScraper) Scrape(ctx context.Context, url string, opts ScrapeOptions) (ScrapeResult, error) {
	res, err := f.Primary.Scrape(ctx, url, opts)
	if err == nil && res.Success {
		return res, nil
	}
	if ctx.Err() != nil {
		if err == nil {
			err = &Error{Op: "scrape", Kind: KindTimeout, Err: ctx.Err()}
		}
		return res, err
	}
	res2, err2 := f.Secondary.Scrape(ctx, url, opts)
	if err2 != nil && err != nil {
		return ScrapeResult{}, err
	}
	return res2, err2
}
