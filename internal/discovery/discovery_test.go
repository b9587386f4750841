package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pearldiveja/archivefever/internal/provider"
)

type mockSearcher struct {
	mu      sync.Mutex
	calls   []string
	limits  []int
	searchF func(term string) ([]provider.Hit, error)
}

func (m *mockSearcher) Search(_ context.Context, term string, limit int) ([]provider.Hit, error) {
	m.mu.Lock()
	m.calls = append(m.calls, term)
	m.limits = append(m.limits, limit)
	m.mu.Unlock()
	return m.searchF(term)
}

func TestDiscover_DedupAcrossTerms(t *testing.T) {
	s := &mockSearcher{searchF: func(term string) ([]provider.Hit, error) {
		switch term {
		case "consciousness":
			return []provider.Hit{
				{URL: "https://example.org/a", Title: "A"},
				{URL: "https://example.org/b/", Title: "B"},
			}, nil
		case "qualia":
			return []provider.Hit{
				{URL: "HTTPS://Example.org/b#intro", Title: "B again"},
				{URL: "https://example.org/c", Title: "C"},
			}, nil
		}
		return nil, nil
	}}

	got, rep, err := New(s, 3).Discover(context.Background(), []string{"consciousness", "qualia"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if rep.Attempted != 2 || rep.Failed != 0 || rep.AllUnreachable {
		t.Errorf("report = %+v", rep)
	}
	want := []struct{ url, term, title string }{
		{"https://example.org/a", "consciousness", "A"},
		{"https://example.org/b", "consciousness", "B"},
		{"https://example.org/c", "qualia", "C"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Hit.URL != w.url || got[i].SearchTerm != w.term || got[i].Hit.Title != w.title {
			t.Errorf("candidate[%d] = (%q, %q, %q), want (%q, %q, %q)",
				i, got[i].Hit.URL, got[i].SearchTerm, got[i].Hit.Title, w.url, w.term, w.title)
		}
		if got[i].Hit.Domain != "example.org" {
			t.Errorf("candidate[%d].Domain = %q", i, got[i].Hit.Domain)
		}
	}
	for _, l := range s.limits {
		if l != 3 {
			t.Errorf("limit = %d, want 3", l)
		}
	}
}

func TestDiscover_FailedQueryIsSkipped(t *testing.T) {
	s := &mockSearcher{searchF: func(term string) ([]provider.Hit, error) {
		if term == "bad" {
			return nil, &provider.Error{Op: "search", Kind: provider.KindRateLimit, Status: 429}
		}
		return []provider.Hit{{URL: "https://example.org/" + term}}, nil
	}}

	got, rep, err := New(s, 0).Discover(context.Background(), []string{"bad", "good"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Hit.URL != "https://example.org/good" {
		t.Errorf("candidates = %+v", got)
	}
	if rep.Failed != 1 || rep.AllUnreachable {
		t.Errorf("report = %+v", rep)
	}
	if s.limits[0] != DefaultResultsPerTerm {
		t.Errorf("limit = %d, want default %d", s.limits[0], DefaultResultsPerTerm)
	}
}

func TestDiscover_AllQueriesFail(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantUnreachable bool
	}{
		{name: "unreachable", err: &provider.Error{Op: "search", Kind: provider.KindUnreachable}, wantUnreachable: true},
		{name: "auth", err: &provider.Error{Op: "search", Kind: provider.KindAuth, Status: 401}, wantUnreachable: false},
		{name: "plain error", err: errors.New("boom"), wantUnreachable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSearcher{searchF: func(string) ([]provider.Hit, error) { return nil, tt.err }}
			got, rep, err := New(s, 5).Discover(context.Background(), []string{"a", "b"})
			if err != nil {
				t.Fatalf("Discover returned error %v, want empty result", err)
			}
			if len(got) != 0 {
				t.Errorf("got %d candidates, want 0", len(got))
			}
			if rep.Failed != 2 || rep.AllUnreachable != tt.wantUnreachable {
				t.Errorf("report = %+v, want Failed=2 AllUnreachable=%v", rep, tt.wantUnreachable)
			}
		})
	}
}

func TestDiscover_NoTerms(t *testing.T) {
	s := &mockSearcher{searchF: func(string) ([]provider.Hit, error) { return nil, nil }}
	got, rep, err := New(s, 5).Discover(context.Background(), []string{"", "  "})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 0 || rep.Attempted != 0 || rep.AllUnreachable {
		t.Errorf("got %v, report %+v", got, rep)
	}
	if len(s.calls) != 0 {
		t.Errorf("searcher called %d times, want 0", len(s.calls))
	}
}

func TestDiscover_RepeatedTermsQueriedOnce(t *testing.T) {
	s := &mockSearcher{searchF: func(string) ([]provider.Hit, error) { return nil, nil }}
	New(s, 5).Discover(context.Background(), []string{"Derrida", "derrida ", "Lacan"})
	if len(s.calls) != 2 {
		t.Errorf("calls = %v, want 2 distinct terms", s.calls)
	}
}

func TestDiscover_DropsInvalidURLs(t *testing.T) {
	s := &mockSearcher{searchF: func(string) ([]provider.Hit, error) {
		return []provider.Hit{
			{URL: "mailto:someone@example.org"},
			{URL: "/relative/path"},
			{URL: "https://example.org/ok"},
		}, nil
	}}
	got, _, _ := New(s, 5).Discover(context.Background(), []string{"x"})
	if len(got) != 1 || got[0].Hit.URL != "https://example.org/ok" {
		t.Errorf("candidates = %+v", got)
	}
}

func TestDiscover_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &mockSearcher{searchF: func(string) ([]provider.Hit, error) { return nil, context.Canceled }}
	if _, _, err := New(s, 5).Discover(ctx, []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
