package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// --- Research projects ---

func (s *Store) SaveProject(p Project) error {
	terms := p.SearchTerms
	if terms == nil {
		terms = []string{}
	}
	termsJSON, err := json.Marshal(terms)
	if err != nil {
		return fmt.Errorf("marshaling search terms: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO research_projects (id, title, description, search_terms, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, string(termsJSON), formatTime(p.CreatedAt),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, search_terms, created_at
		FROM research_projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, title, description, search_terms, created_at
		FROM research_projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (Project, error) {
	var p Project
	var termsJSON, createdAt string
	if err := sc.Scan(&p.ID, &p.Title, &p.Description, &termsJSON, &createdAt); err != nil {
		return Project{}, err
	}
	if err := json.Unmarshal([]byte(termsJSON), &p.SearchTerms); err != nil {
		return Project{}, fmt.Errorf("parsing search_terms for project %s: %w", p.ID, err)
	}
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return Project{}, err
	}
	p.CreatedAt = t
	return p, nil
}
