// Package library commits fetched content to the text library and links it
// back to the discovered source it came from.
package library

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pearldiveja/archivefever/internal/fetch"
	"github.com/pearldiveja/archivefever/internal/storage"
)

// Store is the persistence the Ingestor needs.
type Store interface {
	CreateLibraryText(t storage.LibraryText) (storage.LibraryText, bool, error)
	MarkIngested(sourceID, libraryTextID string) error
	ListReconcilable(projectID string) ([]storage.Reconcilable, error)
}

// Ingestor creates library texts in two steps: the text row, then the source
// transition. A crash between the steps is repaired by Reconcile.
type Ingestor struct {
	store    Store
	minChars int
	now      func() time.Time
	logger   *slog.Logger
}

// NewIngestor returns an Ingestor refusing content shorter than minChars
// characters. A non-positive minChars selects fetch.DefaultMinContentChars.
func NewIngestor(store Store, minChars int) *Ingestor {
	if minChars <= 0 {
		minChars = fetch.DefaultMinContentChars
	}
	return &Ingestor{
		store:    store,
		minChars: minChars,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Ingest stores content as a library text for src and marks src ingested.
// If a text already exists for src.URL it is reused rather than duplicated,
// which makes Ingest safe to repeat after a partial failure.
func (in *Ingestor) Ingest(ctx context.Context, src storage.DiscoveredSource, content fetch.Content) (storage.LibraryText, error) {
	if err := ctx.Err(); err != nil {
		return storage.LibraryText{}, err
	}
	content.Text = strings.TrimSpace(content.Text)
	if n := content.Length(); n < in.minChars {
		return storage.LibraryText{}, &fetch.InsufficientError{URL: src.URL, Length: n, Required: in.minChars}
	}

	t, created, err := in.store.CreateLibraryText(storage.LibraryText{
		ID:            uuid.New().String(),
		Title:         firstNonEmpty(src.Title, content.Title, src.URL),
		Author:        firstNonEmpty(src.Author, content.Author),
		Content:       content.Text,
		SourceURL:     src.URL,
		DiscoveredVia: storage.DiscoveredVia,
		SourceSite:    src.SourceSite,
		UploadDate:    in.now().UTC(),
	})
	if err != nil {
		return storage.LibraryText{}, fmt.Errorf("creating library text for %s: %w", src.URL, err)
	}
	if !created {
		in.logger.Info("library: reusing existing text", "url", src.URL, "library_text_id", t.ID)
	}

	if err := in.store.MarkIngested(src.ID, t.ID); err != nil {
		return t, fmt.Errorf("marking source %s ingested: %w", src.ID, err)
	}
	return t, nil
}

// Reconcile links every uningested source of projectID whose URL already has
// a library text. It returns how many sources were repaired. Individual
// failures are logged and skipped; only a listing failure is returned.
func (in *Ingestor) Reconcile(ctx context.Context, projectID string) (int, error) {
	pending, err := in.store.ListReconcilable(projectID)
	if err != nil {
		return 0, fmt.Errorf("listing reconcilable sources: %w", err)
	}

	fixed := 0
	for _, r := range pending {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		if err := in.store.MarkIngested(r.SourceID, r.LibraryTextID); err != nil {
			in.logger.Warn("library: reconcile failed",
				"project_id", projectID, "source_id", r.SourceID, "error", err)
			continue
		}
		fixed++
	}
	if fixed > 0 {
		in.logger.Info("library: reconciled sources", "project_id", projectID, "count", fixed)
	}
	return fixed, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
