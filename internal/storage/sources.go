package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Discovered sources ---

const sourceColumns = `id, project_id, url, title, author, source_site, search_term,
	quality_score, relevance_score, credibility_score, recommendation_tier,
	content_preview, discovery_date, state, state_reason, library_text_id, last_attempt_at`

// PersistDiscoveredSource inserts src unless a row already exists for
// (ProjectID, URL). An existing row keeps its identity and ingestion state;
// only scores, tier, preview and an empty title are refreshed. Returns the
// stored row and whether it was newly created.
func (s *Store) PersistDiscoveredSource(src DiscoveredSource) (DiscoveredSource, bool, error) {
	discovered := src.DiscoveryDate
	if discovered.IsZero() {
		discovered = time.Now()
	}
	tier := src.RecommendationTier
	if tier == "" {
		tier = TierLow
	}

	tx, err := s.db.Begin()
	if err != nil {
		return DiscoveredSource{}, false, fmt.Errorf("beginning persist transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO discovered_sources (id, project_id, url, title, author, source_site, search_term,
			quality_score, relevance_score, credibility_score, recommendation_tier,
			content_preview, discovery_date, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(project_id, url) DO NOTHING`,
		src.ID, src.ProjectID, src.URL, src.Title, src.Author, src.SourceSite, src.SearchTerm,
		src.QualityScore, src.RelevanceScore, src.CredibilityScore, string(tier),
		src.ContentPreview, formatTime(discovered),
	)
	if err != nil {
		return DiscoveredSource{}, false, fmt.Errorf("inserting source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return DiscoveredSource{}, false, fmt.Errorf("checking inserted rows: %w", err)
	}
	created := n == 1

	if !created {
		_, err = tx.Exec(`
			UPDATE discovered_sources SET
				quality_score = ?, relevance_score = ?, credibility_score = ?, recommendation_tier = ?,
				content_preview = CASE WHEN ? <> '' THEN ? ELSE content_preview END,
				title = CASE WHEN title = '' THEN ? ELSE title END
			WHERE project_id = ? AND url = ?`,
			src.QualityScore, src.RelevanceScore, src.CredibilityScore, string(tier),
			src.ContentPreview, src.ContentPreview, src.Title,
			src.ProjectID, src.URL,
		)
		if err != nil {
			return DiscoveredSource{}, false, fmt.Errorf("refreshing source metadata: %w", err)
		}
	}

	stored, err := scanSource(tx.QueryRow(`SELECT `+sourceColumns+`
		FROM discovered_sources WHERE project_id = ? AND url = ?`, src.ProjectID, src.URL))
	if err != nil {
		return DiscoveredSource{}, false, fmt.Errorf("reading persisted source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DiscoveredSource{}, false, fmt.Errorf("committing persist: %w", err)
	}
	return stored, created, nil
}

func (s *Store) GetDiscoveredSource(id string) (DiscoveredSource, error) {
	src, err := scanSource(s.db.QueryRow(`SELECT `+sourceColumns+` FROM discovered_sources WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return DiscoveredSource{}, ErrNotFound
	}
	return src, err
}

// ListDiscoveredSources returns a project's sources in discovery order.
func (s *Store) ListDiscoveredSources(projectID string) ([]DiscoveredSource, error) {
	return s.querySources(`SELECT `+sourceColumns+`
		FROM discovered_sources WHERE project_id = ? ORDER BY seq ASC`, projectID)
}

// ListUningestedSources returns sources not yet in the library whose tier is
// at least minTier. Never-attempted sources come first, then those attempted
// longest ago, each group in discovery order, so sources that keep failing
// cannot starve the rest. limit <= 0 means no limit.
func (s *Store) ListUningestedSources(projectID string, minTier Tier, limit int) ([]DiscoveredSource, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.querySources(`SELECT `+sourceColumns+`
		FROM discovered_sources
		WHERE project_id = ? AND state <> 'ingested'
			AND (CASE recommendation_tier WHEN 'high_priority' THEN 2 WHEN 'medium_priority' THEN 1 ELSE 0 END) >= ?
		ORDER BY last_attempt_at IS NOT NULL, last_attempt_at ASC, seq ASC
		LIMIT ?`, projectID, minTier.Rank(), limit)
}

func (s *Store) CountDiscoveredSources(projectID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM discovered_sources WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

// MarkIngested moves a source into the ingested state linked to libraryTextID.
// Repeating the call with the same text is a no-op. A source already linked to
// a different text is left untouched and ErrAlreadyIngested is returned.
func (s *Store) MarkIngested(sourceID, libraryTextID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning mark transaction: %w", err)
	}
	defer tx.Rollback()

	var url, state string
	var current sql.NullString
	err = tx.QueryRow(`SELECT url, state, library_text_id FROM discovered_sources WHERE id = ?`, sourceID).
		Scan(&url, &state, &current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("loading source %s: %w", sourceID, err)
	}

	if StateKind(state) == StateIngested {
		if current.String == libraryTextID {
			return nil
		}
		return fmt.Errorf("%w: source %s is linked to %s, refusing %s",
			ErrAlreadyIngested, sourceID, current.String, libraryTextID)
	}

	var textURL string
	err = tx.QueryRow(`SELECT source_url FROM library_texts WHERE id = ?`, libraryTextID).Scan(&textURL)
	if err == sql.ErrNoRows {
		return fmt.Errorf("library text %s: %w", libraryTextID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("loading library text %s: %w", libraryTextID, err)
	}
	if textURL != url {
		return fmt.Errorf("library text %s has source_url %q, source %s has url %q", libraryTextID, textURL, sourceID, url)
	}

	if _, err := tx.Exec(`
		UPDATE discovered_sources SET state = 'ingested', state_reason = '', library_text_id = ?
		WHERE id = ? AND state <> 'ingested'`, libraryTextID, sourceID); err != nil {
		return fmt.Errorf("updating source %s: %w", sourceID, err)
	}

	return tx.Commit()
}

// RecordFetchOutcome stores a failed or insufficient fetch attempt. Ingested
// sources are never downgraded; the call is a no-op for them.
func (s *Store) RecordFetchOutcome(sourceID string, st SourceState, at time.Time) error {
	if st.Kind != StateFailed && st.Kind != StateInsufficient {
		return fmt.Errorf("recording fetch outcome: unsupported state %q", st.Kind)
	}
	res, err := s.db.Exec(`
		UPDATE discovered_sources SET state = ?, state_reason = ?, last_attempt_at = ?
		WHERE id = ? AND state <> 'ingested'`,
		string(st.Kind), st.Reason, formatTime(at), sourceID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetDiscoveredSource(sourceID); err != nil {
			return err
		}
	}
	return nil
}

// Reconcilable pairs an uningested source with an existing library text for its URL.
type Reconcilable struct {
	SourceID      string
	URL           string
	LibraryTextID string
}

// ListReconcilable finds a project's uningested sources whose URL already has a library text.
func (s *Store) ListReconcilable(projectID string) ([]Reconcilable, error) {
	rows, err := s.db.Query(`
		SELECT d.id, d.url, l.id
		FROM discovered_sources d
		JOIN library_texts l ON l.source_url = d.url
		WHERE d.project_id = ? AND d.state <> 'ingested'
		ORDER BY d.seq ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Reconcilable
	for rows.Next() {
		var r Reconcilable
		if err := rows.Scan(&r.SourceID, &r.URL, &r.LibraryTextID); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) querySources(query string, args ...any) ([]DiscoveredSource, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DiscoveredSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, src)
	}
	return results, rows.Err()
}

func scanSource(sc scanner) (DiscoveredSource, error) {
	var d DiscoveredSource
	var tier, discovered, state, reason string
	var textID, lastAttempt sql.NullString
	err := sc.Scan(&d.ID, &d.ProjectID, &d.URL, &d.Title, &d.Author, &d.SourceSite, &d.SearchTerm,
		&d.QualityScore, &d.RelevanceScore, &d.CredibilityScore, &tier,
		&d.ContentPreview, &discovered, &state, &reason, &textID, &lastAttempt)
	if err != nil {
		return DiscoveredSource{}, err
	}
	d.RecommendationTier = Tier(tier)
	d.State = SourceState{Kind: StateKind(state), LibraryTextID: textID.String, Reason: reason}
	if d.DiscoveryDate, err = parseTime("discovery_date", discovered); err != nil {
		return DiscoveredSource{}, err
	}
	if lastAttempt.Valid && lastAttempt.String != "" {
		if d.LastAttemptAt, err = parseTime("last_attempt_at", lastAttempt.String); err != nil {
			return DiscoveredSource{}, err
		}
	}
	return d, nil
}
