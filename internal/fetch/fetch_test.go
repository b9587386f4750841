package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pearldiveja/archivefever/internal/provider"
)

type mockScraper struct {
	gotURL  string
	gotOpts provider.ScrapeOptions
	scrapeF func(ctx context.Context) (provider.ScrapeResult, error)
}

func (m *mockScraper) Scrape(ctx context.Context, url string, opts provider.ScrapeOptions) (provider.ScrapeResult, error) {
	m.gotURL = url
	m.gotOpts = opts
	return m.scrapeF(ctx)
}

func ok(content string) func(context.Context) (provider.ScrapeResult, error) {
	return func(context.Context) (provider.ScrapeResult, error) {
		return provider.ScrapeResult{Success: true, Content: content, Length: len(content), Title: " Title ", Author: "Author"}, nil
	}
}

func TestFetch_Success(t *testing.T) {
	body := strings.Repeat("x", 800)
	s := &mockScraper{scrapeF: ok(body)}
	f := New(s, 0, 0)

	c, err := f.Fetch(context.Background(), "https://example.org/a")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if c.Text != body || c.Length() != 800 || c.URL != "https://example.org/a" {
		t.Errorf("content = %+v", c)
	}
	if c.Title != "Title" {
		t.Errorf("Title = %q, want trimmed", c.Title)
	}
	if s.gotOpts.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", s.gotOpts.Timeout, DefaultTimeout)
	}
	if len(s.gotOpts.Formats) != 1 || s.gotOpts.Formats[0] != "markdown" {
		t.Errorf("Formats = %v, want [markdown]", s.gotOpts.Formats)
	}
}

func TestFetch_Threshold(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "exactly minimum", content: strings.Repeat("a", 500)},
		{name: "one short", content: strings.Repeat("a", 499), wantErr: ErrInsufficient},
		{name: "whitespace padding ignored", content: "   " + strings.Repeat("a", 499) + "\n\n\n", wantErr: ErrInsufficient},
		{name: "multibyte counted as characters", content: strings.Repeat("é", 500)},
		{name: "empty", content: "", wantErr: ErrInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&mockScraper{scrapeF: ok(tt.content)}, time.Second, 500).Fetch(context.Background(), "u")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Fetch: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrProvider) {
				t.Error("insufficient content also matched ErrProvider")
			}
		})
	}
}

func TestFetch_InsufficientDetails(t *testing.T) {
	_, err := New(&mockScraper{scrapeF: ok("short")}, time.Second, 100).Fetch(context.Background(), "https://example.org/s")
	var ie *InsufficientError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *InsufficientError", err)
	}
	if ie.Length != 5 || ie.Required != 100 || ie.URL != "https://example.org/s" {
		t.Errorf("InsufficientError = %+v", ie)
	}
}

func TestFetch_ProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		scrapeF  func(context.Context) (provider.ScrapeResult, error)
		wantKind provider.Kind
	}{
		{
			name: "network",
			scrapeF: func(context.Context) (provider.ScrapeResult, error) {
				return provider.ScrapeResult{}, &provider.Error{Op: "scrape", Kind: provider.KindUnreachable, Err: errors.New("dial tcp: refused")}
			},
			wantKind: provider.KindUnreachable,
		},
		{
			name: "rate limited",
			scrapeF: func(context.Context) (provider.ScrapeResult, error) {
				return provider.ScrapeResult{}, &provider.Error{Op: "scrape", Kind: provider.KindRateLimit, Status: 429}
			},
			wantKind: provider.KindRateLimit,
		},
		{
			name: "not successful",
			scrapeF: func(context.Context) (provider.ScrapeResult, error) {
				return provider.ScrapeResult{Success: false}, nil
			},
			wantKind: provider.KindRejected,
		},
		{
			name: "timeout",
			scrapeF: func(ctx context.Context) (provider.ScrapeResult, error) {
				<-ctx.Done()
				return provider.ScrapeResult{}, ctx.Err()
			},
			wantKind: provider.KindTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&mockScraper{scrapeF: tt.scrapeF}, 20*time.Millisecond, 10).Fetch(context.Background(), "https://example.org/b")
			if !errors.Is(err, ErrProvider) {
				t.Fatalf("err = %v, want ErrProvider", err)
			}
			if errors.Is(err, ErrInsufficient) {
				t.Error("provider error also matched ErrInsufficient")
			}
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %T, want *ProviderError", err)
			}
			if pe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", pe.Kind, tt.wantKind)
			}
		})
	}
}
