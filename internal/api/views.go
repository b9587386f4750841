package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pearldiveja/archivefever/internal/storage"
)

// JSON shapes returned by the HTTP API and MCP tools.

type projectView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	SearchTerms []string `json:"searchTerms"`
	CreatedAt   string   `json:"createdAt"`
}

func toProjectView(p storage.Project) projectView {
	terms := p.SearchTerms
	if terms == nil {
		terms = []string{}
	}
	return projectView{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		SearchTerms: terms,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type sourceView struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"projectId"`
	URL                string  `json:"url"`
	Title              string  `json:"title"`
	Author             string  `json:"author,omitempty"`
	SourceSite         string  `json:"sourceSite"`
	SearchTerm         string  `json:"searchTerm"`
	QualityScore       float64 `json:"qualityScore"`
	RelevanceScore     float64 `json:"relevanceScore"`
	CredibilityScore   float64 `json:"credibilityScore"`
	RecommendationTier string  `json:"recommendationTier"`
	ContentPreview     string  `json:"contentPreview,omitempty"`
	DiscoveryDate      string  `json:"discoveryDate"`
	State              string  `json:"state"`
	StateReason        string  `json:"stateReason,omitempty"`
	TextAddedToLibrary bool    `json:"textAddedToLibrary"`
	LibraryTextID      *string `json:"libraryTextId"`
	LastAttemptAt      string  `json:"lastAttemptAt,omitempty"`
}

func toSourceView(s storage.DiscoveredSource) sourceView {
	v := sourceView{
		ID:                 s.ID,
		ProjectID:          s.ProjectID,
		URL:                s.URL,
		Title:              s.Title,
		Author:             s.Author,
		SourceSite:         s.SourceSite,
		SearchTerm:         s.SearchTerm,
		QualityScore:       s.QualityScore,
		RelevanceScore:     s.RelevanceScore,
		CredibilityScore:   s.CredibilityScore,
		RecommendationTier: string(s.RecommendationTier),
		ContentPreview:     s.ContentPreview,
		DiscoveryDate:      s.DiscoveryDate.UTC().Format(time.RFC3339),
		State:              string(s.State.Kind),
		StateReason:        s.State.Reason,
		TextAddedToLibrary: s.State.TextAddedToLibrary(),
	}
	if v.TextAddedToLibrary {
		id := s.State.LibraryTextID
		v.LibraryTextID = &id
	}
	if !s.LastAttemptAt.IsZero() {
		v.LastAttemptAt = s.LastAttemptAt.UTC().Format(time.RFC3339)
	}
	return v
}

func toSourceViews(sources []storage.DiscoveredSource) []sourceView {
	out := make([]sourceView, len(sources))
	for i, s := range sources {
		out[i] = toSourceView(s)
	}
	return out
}

type libraryTextView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Content       string `json:"content,omitempty"`
	ContentLength int    `json:"contentLength"`
	SourceURL     string `json:"sourceUrl"`
	DiscoveredVia string `json:"discoveredVia"`
	SourceSite    string `json:"sourceSite"`
	UploadDate    string `json:"uploadDate"`
}

// toLibraryTextView renders t; content is included only when withContent is set.
func toLibraryTextView(t storage.LibraryText, withContent bool) libraryTextView {
	v := libraryTextView{
		ID:            t.ID,
		Title:         t.Title,
		Author:        t.Author,
		ContentLength: len([]rune(t.Content)),
		SourceURL:     t.SourceURL,
		DiscoveredVia: t.DiscoveredVia,
		SourceSite:    t.SourceSite,
		UploadDate:    t.UploadDate.UTC().Format(time.RFC3339),
	}
	if withContent {
		v.Content = t.Content
	}
	return v
}

type runView struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"projectId"`
	StartedAt  string          `json:"startedAt"`
	FinishedAt string          `json:"finishedAt"`
	Summary    json.RawMessage `json:"summary"`
	Error      string          `json:"error,omitempty"`
}

func toRunView(r storage.RunRecord) runView {
	summary := json.RawMessage(r.SummaryJSON)
	if !json.Valid(summary) {
		summary = json.RawMessage("{}")
	}
	return runView{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: r.FinishedAt.UTC().Format(time.RFC3339),
		Summary:    summary,
		Error:      r.Error,
	}
}

// errInvalidProject marks validation failures in newProject.
var errInvalidProject = errors.New("invalid project")

// newProject validates input and builds a project with a fresh id.
// Search terms are trimmed; blanks and repeats are dropped.
func newProject(title, description string, terms []string) (storage.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return storage.Project{}, fmt.Errorf("%w: title is required", errInvalidProject)
	}
	seen := make(map[string]struct{}, len(terms))
	var clean []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(t)]; dup {
			continue
		}
		seen[strings.ToLower(t)] = struct{}{}
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return storage.Project{}, fmt.Errorf("%w: at least one search term is required", errInvalidProject)
	}
	return storage.Project{
		ID:          uuid.New().String(),
		Title:       title,
		Description: strings.TrimSpace(description),
		SearchTerms: clean,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
