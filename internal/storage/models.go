package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyIngested is returned when MarkIngested targets a source that is
// already linked to a different library text.
var ErrAlreadyIngested = errors.New("source already ingested with a different library text")

// ErrLeaseHeld is returned when a run lease is held by another holder and has not expired.
var ErrLeaseHeld = errors.New("run lease held")

// DiscoveredVia is the provenance tag stamped on library texts created by the pipeline.
const DiscoveredVia = "autonomous_research"

type Project struct {
	ID          string
	Title       string
	Description string
	SearchTerms []string
	CreatedAt   time.Time
}

// Tier is a coarse priority bucket derived from source scores.
type Tier string

const (
	TierHigh   Tier = "high_priority"
	TierMedium Tier = "medium_priority"
	TierLow    Tier = "low_priority"
)

// Rank orders tiers; higher is more important.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

type StateKind string

const (
	StatePending      StateKind = "pending"
	StateIngested     StateKind = "ingested"
	StateFailed       StateKind = "failed"
	StateInsufficient StateKind = "insufficient"
)

// SourceState is the ingestion state of a discovered source. LibraryTextID is
// set only for StateIngested; Reason only for StateFailed and StateInsufficient.
type SourceState struct {
	Kind          StateKind
	LibraryTextID string
	Reason        string
}

func Pending() SourceState                { return SourceState{Kind: StatePending} }
func Ingested(textID string) SourceState  { return SourceState{Kind: StateIngested, LibraryTextID: textID} }
func Failed(reason string) SourceState    { return SourceState{Kind: StateFailed, Reason: reason} }
func Insufficient(reason string) SourceState {
	return SourceState{Kind: StateInsufficient, Reason: reason}
}

// TextAddedToLibrary reports whether the source has been committed to the library.
func (s SourceState) TextAddedToLibrary() bool {
	return s.Kind == StateIngested
}

type DiscoveredSource struct {
	ID                 string
	ProjectID          string
	URL                string
	Title              string
	Author             string
	SourceSite         string
	SearchTerm         string
	QualityScore       float64
	RelevanceScore     float64
	CredibilityScore   float64
	RecommendationTier Tier
	ContentPreview     string
	DiscoveryDate      time.Time
	State              SourceState
	LastAttemptAt      time.Time // zero if never attempted
}

type LibraryText struct {
	ID            string
	Title         string
	Author        string
	Content       string
	SourceURL     string
	DiscoveredVia string
	SourceSite    string
	UploadDate    time.Time
}

type RunRecord struct {
	ID          string
	ProjectID   string
	StartedAt   time.Time
	FinishedAt  time.Time
	SummaryJSON string
	Error       string
}
