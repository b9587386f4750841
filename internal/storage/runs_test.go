package storage

import (
	"testing"
	"time"
)

func TestRunLease(t *testing.T) {
	s := openTestStore(t)

	if err := s.AcquireRunLease("p1", "run-a", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.AcquireRunLease("p1", "run-b", time.Minute); err != ErrLeaseHeld {
		t.Fatalf("second acquire error = %v, want ErrLeaseHeld", err)
	}
	if err := s.AcquireRunLease("p2", "run-b", time.Minute); err != nil {
		t.Fatalf("other project acquire: %v", err)
	}

	// Releasing with the wrong holder keeps the lease.
	if err := s.ReleaseRunLease("p1", "run-b"); err != nil {
		t.Fatalf("release wrong holder: %v", err)
	}
	if err := s.AcquireRunLease("p1", "run-c", time.Minute); err != ErrLeaseHeld {
		t.Fatalf("acquire after wrong release error = %v, want ErrLeaseHeld", err)
	}

	if err := s.ReleaseRunLease("p1", "run-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.AcquireRunLease("p1", "run-c", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRunLease_ExpiredTakeover(t *testing.T) {
	s := openTestStore(t)

	if err := s.AcquireRunLease("p1", "stale", -time.Minute); err != nil {
		t.Fatalf("acquire stale: %v", err)
	}
	if err := s.AcquireRunLease("p1", "fresh", time.Minute); err != nil {
		t.Fatalf("takeover of expired lease: %v", err)
	}

	var holder string
	if err := s.db.QueryRow(`SELECT holder FROM run_leases WHERE project_id = 'p1'`).Scan(&holder); err != nil {
		t.Fatalf("query holder: %v", err)
	}
	if holder != "fresh" {
		t.Errorf("holder = %q, want fresh", holder)
	}
}

func TestSaveAndListRuns(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2"} {
		r := RunRecord{
			ID:          id,
			ProjectID:   "p1",
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			FinishedAt:  base.Add(time.Duration(i)*time.Hour + time.Minute),
			SummaryJSON: `{"sourcesFound":1}`,
		}
		if err := s.SaveRun(r); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	got, err := s.ListRuns("p1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2", len(got))
	}
	if got[0].ID != "run-2" {
		t.Errorf("first run = %q, want run-2", got[0].ID)
	}
	if got[0].SummaryJSON != `{"sourcesFound":1}` {
		t.Errorf("SummaryJSON = %q", got[0].SummaryJSON)
	}
}
