package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pearldiveja/archivefever/internal/storage"
)

type mockReconciler struct {
	calls  []string
	failOn string
	fixed  int
}

func (m *mockReconciler) Reconcile(_ context.Context, projectID string) (int, error) {
	m.calls = append(m.calls, projectID)
	if projectID == m.failOn {
		return 0, errors.New("database is locked")
	}
	return m.fixed, nil
}

type brokenLister struct{}

func (brokenLister) ListProjects() ([]storage.Project, error) {
	return nil, errors.New("no such table: projects")
}

func TestSweep_RepairsHalfCommittedSource(t *testing.T) {
	s := newTestStore(t)
	src := seedSource(t, s, "p1", "s1", "https://example.org/a")
	seedSource(t, s, "p2", "s2", "https://example.org/b")
	if _, _, err := s.CreateLibraryText(storage.LibraryText{ID: "t1", SourceURL: src.URL, Content: "c", DiscoveredVia: storage.DiscoveredVia, UploadDate: time.Now()}); err != nil {
		t.Fatal(err)
	}

	fixed, err := NewSweeper(s, NewIngestor(s, 500)).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if fixed != 1 {
		t.Errorf("fixed = %d, want 1", fixed)
	}
	got, _ := s.GetDiscoveredSource(src.ID)
	if got.State.LibraryTextID != "t1" {
		t.Errorf("State = %+v, want ingested with t1", got.State)
	}
}

func TestSweep_SkipsFailingProject(t *testing.T) {
	s := newTestStore(t)
	seedSource(t, s, "p1", "s1", "https://example.org/a")
	seedSource(t, s, "p2", "s2", "https://example.org/b")

	rec := &mockReconciler{failOn: "p1", fixed: 2}
	fixed, err := NewSweeper(s, rec).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(rec.calls) != 2 {
		t.Errorf("reconciled %v, want both projects", rec.calls)
	}
	if fixed != 2 {
		t.Errorf("fixed = %d, want 2", fixed)
	}
}

func TestSweep_ListError(t *testing.T) {
	if _, err := NewSweeper(brokenLister{}, &mockReconciler{}).Sweep(context.Background()); err == nil {
		t.Fatal("expected listing error")
	}
}

func TestSweep_StopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	seedSource(t, s, "p1", "s1", "https://example.org/a")
	rec := &mockReconciler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewSweeper(s, rec).Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("reconciled %v after cancel", rec.calls)
	}
}
