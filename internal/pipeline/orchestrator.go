// Package pipeline runs one research project through discovery, scoring,
// fetching and ingestion.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pearldiveja/archivefever/internal/discovery"
	"github.com/pearldiveja/archivefever/internal/fetch"
	"github.com/pearldiveja/archivefever/internal/scoring"
	"github.com/pearldiveja/archivefever/internal/storage"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrConcurrencyConflict = errors.New("a run is already in progress for this project")
	ErrProviderUnavailable = errors.New("content provider unreachable")
)

// Failure reasons reported in RunSummary.Failures.
const (
	ReasonProvider     = "ProviderError"
	ReasonInsufficient = "ContentInsufficient"
	ReasonStore        = "StoreError"
)

const (
	DefaultMaxInFlight = 4
	DefaultMaxPerRun   = 10
	DefaultLeaseTTL    = 10 * time.Minute

	previewChars = 500
)

// Store is the persistence the Orchestrator needs.
type Store interface {
	GetProject(id string) (storage.Project, error)
	AcquireRunLease(projectID, holder string, ttl time.Duration) error
	ReleaseRunLease(projectID, holder string) error
	PersistDiscoveredSource(src storage.DiscoveredSource) (storage.DiscoveredSource, bool, error)
	ListDiscoveredSources(projectID string) ([]storage.DiscoveredSource, error)
	ListUningestedSources(projectID string, minTier storage.Tier, limit int) ([]storage.DiscoveredSource, error)
	CountDiscoveredSources(projectID string) (int, error)
	RecordFetchOutcome(sourceID string, st storage.SourceState, at time.Time) error
	SaveRun(r storage.RunRecord) error
}

type Discoverer interface {
	Discover(ctx context.Context, terms []string) ([]discovery.Candidate, discovery.Report, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Content, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, src storage.DiscoveredSource, content fetch.Content) (storage.LibraryText, error)
	Reconcile(ctx context.Context, projectID string) (int, error)
}

// Config tunes a run. Zero values select the defaults.
type Config struct {
	MaxInFlight     int
	MaxPerRun       int
	SkipLowPriority bool
	LeaseTTL        time.Duration
}

func (c *Config) defaults() {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.MaxPerRun <= 0 {
		c.MaxPerRun = DefaultMaxPerRun
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
}

type Failure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// RunSummary reports the outcome of one DiscoverAndIngest call.
type RunSummary struct {
	RunID string `json:"runId"`
	// SourcesFound counts candidates first discovered by this run.
	SourcesFound int `json:"sourcesFound"`
	// SourcesAdded is the number of discovered sources on file for the project.
	SourcesAdded               int       `json:"sourcesAdded"`
	SourcesFetchedSuccessfully int       `json:"sourcesFetchedSuccessfully"`
	SourcesReconciled          int       `json:"sourcesReconciled"`
	QueriesFailed              int       `json:"queriesFailed"`
	Failures                   []Failure `json:"failures"`
}

// Orchestrator sequences project runs. Runs for different projects may
// proceed concurrently; runs for the same project are single-flight.
type Orchestrator struct {
	store      Store
	discoverer Discoverer
	fetcher    Fetcher
	ingestor   Ingestor
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

func NewOrchestrator(store Store, d Discoverer, f Fetcher, in Ingestor, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		store:      store,
		discoverer: d,
		fetcher:    f,
		ingestor:   in,
		cfg:        cfg,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// DiscoverAndIngest runs the full pipeline for projectID:
//  1. Load the project and take its run lease
//  2. Repair half-committed ingestions from earlier runs
//  3. Discover, score and persist candidates
//  4. Select uningested sources up to the per-run cap
//  5. Fetch and ingest them concurrently, recording each outcome
//
// Per-source failures are reported in the summary. The run itself fails only
// with ErrProjectNotFound, ErrConcurrencyConflict, ErrProviderUnavailable or
// ctx's error.
func (o *Orchestrator) DiscoverAndIngest(ctx context.Context, projectID string) (RunSummary, error) {
	project, err := o.loadProject(projectID)
	if err != nil {
		return RunSummary{}, err
	}

	holder := uuid.New().String()
	if err := o.store.AcquireRunLease(projectID, holder, o.cfg.LeaseTTL); err != nil {
		if errors.Is(err, storage.ErrLeaseHeld) {
			return RunSummary{}, fmt.Errorf("project %s: %w", projectID, ErrConcurrencyConflict)
		}
		return RunSummary{}, fmt.Errorf("acquiring run lease: %w", err)
	}
	defer func() {
		if err := o.store.ReleaseRunLease(projectID, holder); err != nil {
			o.logger.Warn("pipeline: releasing run lease", "project_id", projectID, "error", err)
		}
	}()

	run := storage.RunRecord{ID: uuid.New().String(), ProjectID: projectID, StartedAt: o.now().UTC()}
	summary := RunSummary{RunID: run.ID, Failures: []Failure{}}

	summary, err = o.run(ctx, project, summary)
	o.saveRun(run, summary, err)
	if err != nil {
		return RunSummary{}, err
	}

	o.logger.Info("pipeline: run complete",
		"project_id", projectID,
		"found", summary.SourcesFound,
		"added", summary.SourcesAdded,
		"fetched", summary.SourcesFetchedSuccessfully,
		"failures", len(summary.Failures),
	)
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, project storage.Project, summary RunSummary) (RunSummary, error) {
	reconciled, err := o.ingestor.Reconcile(ctx, project.ID)
	if err != nil {
		o.logger.Warn("pipeline: reconcile failed", "project_id", project.ID, "error", err)
	}
	summary.SourcesReconciled = reconciled

	candidates, rep, err := o.discoverer.Discover(ctx, project.SearchTerms)
	if err != nil {
		return summary, fmt.Errorf("discovering sources: %w", err)
	}
	summary.QueriesFailed = rep.Failed
	if rep.AllUnreachable {
		return summary, ErrProviderUnavailable
	}

	for _, c := range candidates {
		_, created, err := o.store.PersistDiscoveredSource(o.newSource(project, c))
		if err != nil {
			o.logger.Warn("pipeline: persisting source", "url", c.Hit.URL, "error", err)
			summary.Failures = append(summary.Failures, Failure{URL: c.Hit.URL, Reason: ReasonStore, Detail: err.Error()})
			continue
		}
		if created {
			summary.SourcesFound++
		}
	}

	minTier := storage.TierLow
	if o.cfg.SkipLowPriority {
		minTier = storage.TierMedium
	}
	selected, err := o.store.ListUningestedSources(project.ID, minTier, o.cfg.MaxPerRun)
	if err != nil {
		summary.Failures = append(summary.Failures, Failure{Reason: ReasonStore, Detail: "selecting sources: " + err.Error()})
		selected = nil
	}

	outcomes := o.fetchAll(ctx, selected)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	for i, out := range outcomes {
		src := selected[i]
		if out.failure == nil {
			summary.SourcesFetchedSuccessfully++
			continue
		}
		summary.Failures = append(summary.Failures, *out.failure)
		if err := o.store.RecordFetchOutcome(src.ID, out.state, o.now().UTC()); err != nil {
			o.logger.Warn("pipeline: recording fetch outcome", "url", src.URL, "error", err)
		}
	}

	n, err := o.store.CountDiscoveredSources(project.ID)
	if err != nil {
		o.logger.Warn("pipeline: counting sources", "project_id", project.ID, "error", err)
		summary.Failures = append(summary.Failures, Failure{Reason: ReasonStore, Detail: "counting sources: " + err.Error()})
		return summary, nil
	}
	summary.SourcesAdded = n
	return summary, nil
}

type outcome struct {
	failure *Failure
	state   storage.SourceState
}

// fetchAll fetches and ingests sources with bounded concurrency. One source's
// failure never affects another's; outcomes are indexed like sources.
func (o *Orchestrator) fetchAll(ctx context.Context, sources []storage.DiscoveredSource) []outcome {
	outcomes := make([]outcome, len(sources))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxInFlight)
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = o.fetchOne(ctx, src)
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (o *Orchestrator) fetchOne(ctx context.Context, src storage.DiscoveredSource) outcome {
	content, err := o.fetcher.Fetch(ctx, src.URL)
	if err == nil {
		_, err = o.ingestor.Ingest(ctx, src, content)
		if err == nil {
			o.logger.Debug("pipeline: ingested", "url", src.URL)
			return outcome{}
		}
		if !errors.Is(err, fetch.ErrInsufficient) {
			o.logger.Warn("pipeline: ingest failed", "url", src.URL, "error", err)
			return failed(src.URL, ReasonStore, err, storage.Failed)
		}
	}

	switch {
	case errors.Is(err, fetch.ErrInsufficient):
		o.logger.Info("pipeline: content insufficient", "url", src.URL, "error", err)
		return failed(src.URL, ReasonInsufficient, err, storage.Insufficient)
	default:
		o.logger.Warn("pipeline: fetch failed", "url", src.URL, "error", err)
		return failed(src.URL, ReasonProvider, err, storage.Failed)
	}
}

func failed(url, reason string, err error, state func(string) storage.SourceState) outcome {
	return outcome{
		failure: &Failure{URL: url, Reason: reason, Detail: err.Error()},
		state:   state(reason + ": " + err.Error()),
	}
}

func (o *Orchestrator) newSource(project storage.Project, c discovery.Candidate) storage.DiscoveredSource {
	s := scoring.Score(c.Hit, c.SearchTerm, project)
	return storage.DiscoveredSource{
		ID:                 uuid.New().String(),
		ProjectID:          project.ID,
		URL:                c.Hit.URL,
		Title:              c.Hit.Title,
		SourceSite:         c.Hit.Domain,
		SearchTerm:         c.SearchTerm,
		QualityScore:       s.Quality,
		RelevanceScore:     s.Relevance,
		CredibilityScore:   s.Credibility,
		RecommendationTier: s.Tier,
		ContentPreview:     truncate(c.Hit.Snippet, previewChars),
		DiscoveryDate:      o.now().UTC(),
		State:              storage.Pending(),
	}
}

func (o *Orchestrator) saveRun(run storage.RunRecord, summary RunSummary, runErr error) {
	run.FinishedAt = o.now().UTC()
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if b, err := json.Marshal(summary); err == nil {
		run.SummaryJSON = string(b)
	}
	if err := o.store.SaveRun(run); err != nil {
		o.logger.Warn("pipeline: saving run record", "project_id", run.ProjectID, "error", err)
	}
}

// ListDiscoveredSources returns the project's sources in discovery order.
func (o *Orchestrator) ListDiscoveredSources(ctx context.Context, projectID string) ([]storage.DiscoveredSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := o.loadProject(projectID); err != nil {
		return nil, err
	}
	sources, err := o.store.ListDiscoveredSources(projectID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return sources, nil
}

func (o *Orchestrator) loadProject(projectID string) (storage.Project, error) {
	p, err := o.store.GetProject(projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Project{}, fmt.Errorf("project %s: %w", projectID, ErrProjectNotFound)
	}
	if err != nil {
		return storage.Project{}, fmt.Errorf("loading project %s: %w", projectID, err)
	}
	return p, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
