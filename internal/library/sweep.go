package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pearldiveja/archivefever/internal/storage"
)

// ProjectLister lists the projects a Sweeper visits.
type ProjectLister interface {
	ListProjects() ([]storage.Project, error)
}

// Reconciler repairs half-committed sources for one project.
type Reconciler interface {
	Reconcile(ctx context.Context, projectID string) (int, error)
}

// Sweeper reconciles every project in one pass. Runs already reconcile their
// own project on start; a sweep repairs projects without waiting for a run.
type Sweeper struct {
	projects   ProjectLister
	reconciler Reconciler
	logger     *slog.Logger
}

func NewSweeper(projects ProjectLister, reconciler Reconciler) *Sweeper {
	return &Sweeper{
		projects:   projects,
		reconciler: reconciler,
		logger:     slog.Default(),
	}
}

// Sweep reconciles every project and returns the number of sources repaired.
// A failing project is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	projects, err := s.projects.ListProjects()
	if err != nil {
		return 0, fmt.Errorf("listing projects: %w", err)
	}

	total := 0
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.reconciler.Reconcile(ctx, p.ID)
		total += n
		if err != nil {
			s.logger.Warn("library: reconcile failed", "project_id", p.ID, "error", err)
		}
	}
	return total, nil
}
