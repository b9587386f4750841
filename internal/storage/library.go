package storage

import (
	"database/sql"
	"fmt"
)

// --- Library texts ---

const libraryColumns = `id, title, author, content, source_url, discovered_via, source_site, upload_date`

// CreateLibraryText stores t unless a text with the same non-empty SourceURL
// already exists, in which case the existing text is returned with created=false.
func (s *Store) CreateLibraryText(t LibraryText) (LibraryText, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return LibraryText{}, false, fmt.Errorf("beginning library transaction: %w", err)
	}
	defer tx.Rollback()

	if t.SourceURL != "" {
		existing, err := scanLibraryText(tx.QueryRow(`SELECT `+libraryColumns+`
			FROM library_texts WHERE source_url = ?`, t.SourceURL))
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return LibraryText{}, false, fmt.Errorf("checking existing text for %s: %w", t.SourceURL, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO library_texts (id, title, author, content, source_url, discovered_via, source_site, upload_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Author, t.Content, t.SourceURL, t.DiscoveredVia, t.SourceSite, formatTime(t.UploadDate),
	); err != nil {
		return LibraryText{}, false, fmt.Errorf("inserting library text: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LibraryText{}, false, fmt.Errorf("committing library text: %w", err)
	}
	return t, true, nil
}

func (s *Store) GetLibraryText(id string) (LibraryText, error) {
	t, err := scanLibraryText(s.db.QueryRow(`SELECT `+libraryColumns+` FROM library_texts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return LibraryText{}, ErrNotFound
	}
	return t, err
}

// ListLibraryTexts returns texts newest first.
func (s *Store) ListLibraryTexts(limit, offset int) ([]LibraryText, error) {
	rows, err := s.db.Query(`SELECT `+libraryColumns+`
		FROM library_texts ORDER BY upload_date DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LibraryText
	for rows.Next() {
		t, err := scanLibraryText(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) CountLibraryTexts() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM library_texts`).Scan(&n)
	return n, err
}

func scanLibraryText(sc scanner) (LibraryText, error) {
	var t LibraryText
	var uploaded string
	if err := sc.Scan(&t.ID, &t.Title, &t.Author, &t.Content, &t.SourceURL, &t.DiscoveredVia, &t.SourceSite, &uploaded); err != nil {
		return LibraryText{}, err
	}
	u, err := parseTime("upload_date", uploaded)
	if err != nil {
		return LibraryText{}, err
	}
	t.UploadDate = u
	return t, nil
}
