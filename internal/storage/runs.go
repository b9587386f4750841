package storage

import (
	"fmt"
	"time"
)

// --- Run leases ---

// AcquireRunLease takes the per-project run lease for holder until now+ttl.
// An expired lease is taken over; a live lease held by someone else yields ErrLeaseHeld.
func (s *Store) AcquireRunLease(projectID, holder string, ttl time.Duration) error {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO run_leases (project_id, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE run_leases.expires_at <= ?`,
		projectID, holder, formatTime(now.Add(ttl)), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("acquiring lease for %s: %w", projectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking lease rows: %w", err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseRunLease drops the lease if holder still owns it.
func (s *Store) ReleaseRunLease(projectID, holder string) error {
	_, err := s.db.Exec(`DELETE FROM run_leases WHERE project_id = ? AND holder = ?`, projectID, holder)
	return err
}

// --- Run history ---

func (s *Store) SaveRun(r RunRecord) error {
	summary := r.SummaryJSON
	if summary == "" {
		summary = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO research_runs (id, project_id, started_at, finished_at, summary_json, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, formatTime(r.StartedAt), formatTime(r.FinishedAt), summary, r.Error,
	)
	return err
}

// ListRuns returns a project's runs, most recent first.
func (s *Store) ListRuns(projectID string, limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, started_at, finished_at, summary_json, error
		FROM research_runs WHERE project_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &r.ProjectID, &started, &finished, &r.SummaryJSON, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime("started_at", started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime("finished_at", finished); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
