// Package discovery turns a project's search terms into a deduplicated list
// of candidate sources by querying a provider.Searcher once per term.
package discovery

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pearldiveja/archivefever/internal/provider"
)

const (
	DefaultResultsPerTerm = 5
	defaultConcurrency    = 4
)

// Candidate is a hit together with the search term that surfaced it. Hit.URL
// is in normalized form.
type Candidate struct {
	Hit        provider.Hit
	SearchTerm string
}

// Report describes how the queries of one Discover call went.
type Report struct {
	Attempted int
	Failed    int
	// AllUnreachable is set when at least one query ran and every query
	// failed because the provider could not be reached.
	AllUnreachable bool
}

// Discoverer fans search terms out to a Searcher.
type Discoverer struct {
	searcher       provider.Searcher
	resultsPerTerm int
	concurrency    int
	logger         *slog.Logger
}

// New returns a Discoverer requesting up to resultsPerTerm hits per term.
// A non-positive resultsPerTerm selects DefaultResultsPerTerm.
func New(searcher provider.Searcher, resultsPerTerm int) *Discoverer {
	if resultsPerTerm <= 0 {
		resultsPerTerm = DefaultResultsPerTerm
	}
	return &Discoverer{
		searcher:       searcher,
		resultsPerTerm: resultsPerTerm,
		concurrency:    defaultConcurrency,
		logger:         slog.Default(),
	}
}

type termResult struct {
	hits []provider.Hit
	err  error
}

// Discover runs one query per distinct term and returns the union of the hits
// in term order, deduplicated by normalized URL. The first term to surface a
// URL owns it. Failing queries are logged and skipped; if every query fails
// the candidate list is empty and the report says why. The only error
// returned is ctx's.
func (d *Discoverer) Discover(ctx context.Context, terms []string) ([]Candidate, Report, error) {
	terms = distinctTerms(terms)
	results := make([]termResult, len(terms))

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, term := range terms {
		g.Go(func() error {
			hits, err := d.searcher.Search(ctx, term, d.resultsPerTerm)
			results[i] = termResult{hits: hits, err: err}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}

	rep := Report{Attempted: len(terms)}
	unreachable := 0
	seen := make(map[string]struct{})
	var out []Candidate
	for i, r := range results {
		if r.err != nil {
			rep.Failed++
			if provider.IsUnreachable(r.err) {
				unreachable++
			}
			d.logger.Warn("discovery: search failed",
				"term", terms[i], "kind", provider.KindOf(r.err), "error", r.err)
			continue
		}
		for _, h := range r.hits {
			norm, err := NormalizeURL(h.URL)
			if err != nil {
				d.logger.Debug("discovery: dropping hit", "url", h.URL, "error", err)
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			h.URL = norm
			if h.Domain == "" {
				h.Domain = provider.DomainOf(norm)
			}
			out = append(out, Candidate{Hit: h, SearchTerm: terms[i]})
		}
	}
	rep.AllUnreachable = rep.Attempted > 0 && unreachable == rep.Attempted

	d.logger.Info("discovery: complete",
		"terms", rep.Attempted, "failed", rep.Failed, "candidates", len(out))
	return out, rep, nil
}

// distinctTerms trims terms and drops empty and case-insensitive repeats,
// keeping first occurrence order.
func distinctTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
