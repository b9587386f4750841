// Package scoring rates a search hit against a research project. Scoring is
// pure: the same hit, term and project always produce the same scores.
package scoring

import (
	"math"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pearldiveja/archivefever/internal/provider"
	"github.com/pearldiveja/archivefever/internal/storage"
)

const (
	relevanceWeight   = 0.5
	qualityWeight     = 0.3
	credibilityWeight = 0.2

	highThreshold   = 0.85
	mediumThreshold = 0.6

	phraseBonus = 0.15
	titleCredit = 0.15
	// Previews at or above this many words earn the full density credit.
	fullPreviewWords = 60
	httpsBonus       = 0.05
)

// Scores holds the per-signal scores of a hit, each in [0,1], and the tier
// derived from their weighted combination.
type Scores struct {
	Quality     float64
	Relevance   float64
	Credibility float64
	Tier        storage.Tier
}

// Combined returns the weighted score the tier is derived from.
func (s Scores) Combined() float64 {
	return relevanceWeight*s.Relevance + qualityWeight*s.Quality + credibilityWeight*s.Credibility
}

// Score rates hit, found by searching searchTerm, for project.
func Score(hit provider.Hit, searchTerm string, project storage.Project) Scores {
	s := Scores{
		Relevance:   relevance(hit, searchTerm, project),
		Quality:     quality(hit),
		Credibility: credibility(hit),
	}
	s.Tier = TierFor(s.Combined())
	return s
}

// TierFor maps a combined score to a recommendation tier.
func TierFor(combined float64) storage.Tier {
	switch {
	case combined >= highThreshold:
		return storage.TierHigh
	case combined >= mediumThreshold:
		return storage.TierMedium
	default:
		return storage.TierLow
	}
}

// relevance is the fraction of distinct project tokens present in the hit,
// plus a bonus when the search term appears verbatim.
func relevance(hit provider.Hit, searchTerm string, project storage.Project) float64 {
	want := make(map[string]struct{})
	for _, term := range project.SearchTerms {
		for _, tok := range tokenize(term) {
			want[tok] = struct{}{}
		}
	}
	for _, tok := range tokenize(project.Title) {
		want[tok] = struct{}{}
	}

	var path string
	if u, err := url.Parse(hit.URL); err == nil {
		path = u.Path
	}
	have := make(map[string]struct{})
	for _, tok := range tokenize(hit.Title + " " + hit.Snippet + " " + path) {
		have[tok] = struct{}{}
	}

	var score float64
	if len(want) > 0 {
		matched := 0
		for tok := range want {
			if _, ok := have[tok]; ok {
				matched++
			}
		}
		score = float64(matched) / float64(len(want))
	}

	phrase := strings.Join(tokenize(searchTerm), " ")
	text := " " + strings.Join(tokenize(hit.Title+" "+hit.Snippet), " ") + " "
	if phrase != "" && strings.Contains(text, " "+phrase+" ") {
		score += phraseBonus
	}
	return clamp(score)
}

func quality(hit provider.Hit) float64 {
	var score float64
	if strings.TrimSpace(hit.Title) != "" {
		score = titleCredit
	}
	words := len(strings.Fields(hit.Snippet))
	score += (1 - titleCredit) * math.Min(1, float64(words)/fullPreviewWords)
	return clamp(score)
}

// trustedDomains are reference works and scholarly archives.
var trustedDomains = map[string]float64{
	"plato.stanford.edu": 0.9,
	"iep.utm.edu":        0.9,
	"philpapers.org":     0.9,
	"jstor.org":          0.9,
	"arxiv.org":          0.9,
	"muse.jhu.edu":       0.9,
	"gutenberg.org":      0.9,
	"archive.org":        0.85,
	"britannica.com":     0.85,
	"wikipedia.org":      0.75,
	"pinterest.com":      0.3,
	"quora.com":          0.3,
	"reddit.com":         0.3,
	"answers.com":        0.3,
	"coursehero.com":     0.3,
}

func credibility(hit provider.Hit) float64 {
	domain := hit.Domain
	if domain == "" {
		domain = provider.DomainOf(hit.URL)
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")

	score := domainCredibility(domain)
	if u, err := url.Parse(hit.URL); err == nil && strings.EqualFold(u.Scheme, "https") {
		score += httpsBonus
	}
	return clamp(score)
}

func domainCredibility(domain string) float64 {
	if domain == "" {
		return 0.5
	}
	for d := domain; d != ""; {
		if v, ok := trustedDomains[d]; ok {
			return v
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}

	labels := strings.Split(domain, ".")
	for _, l := range labels[1:] {
		if l == "edu" || l == "ac" {
			return 0.85
		}
	}
	switch labels[len(labels)-1] {
	case "edu":
		return 0.85
	case "gov", "org":
		return 0.7
	}
	return 0.5
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "into": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "with": {},
	"html": {}, "htm": {}, "www": {}, "php": {},
}

// tokenize lowercases s and splits it into letter/digit runs, dropping stop
// words and single characters.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
