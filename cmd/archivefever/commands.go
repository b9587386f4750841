package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pearldiveja/archivefever/internal/config"
	"github.com/pearldiveja/archivefever/internal/library"
	"github.com/pearldiveja/archivefever/internal/pipeline"
	"github.com/pearldiveja/archivefever/internal/storage"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Discover and ingest sources for a project",
	Long: `Discover and ingest sources for a project.

By default the run executes in this process against the local database. With
--remote it is started on the running server instead. Either way only one run
per project can be active at a time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")

		var (
			summary pipeline.RunSummary
			err     error
		)
		if remote {
			summary, err = runRemote(cmd.Context(), args[0])
		} else {
			summary, err = runLocal(args[0])
		}
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("remote", false, "start the run on the running server")
}

func runLocal(projectID string) (pipeline.RunSummary, error) {
	cfg, err := config.Load()
	if err != nil {
		return pipeline.RunSummary{}, err
	}
	setupLogging(cfg.Log.Level)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return pipeline.RunSummary{}, fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Running project %s", projectID)
	orch := buildOrchestrator(cfg, store)
	summary, err := orch.DiscoverAndIngest(ctx, projectID)
	if errors.Is(err, pipeline.ErrConcurrencyConflict) {
		printWarning("Another run is in progress for this project")
	}
	return summary, err
}

func runRemote(ctx context.Context, projectID string) (pipeline.RunSummary, error) {
	client, err := newAPIClient()
	if err != nil {
		return pipeline.RunSummary{}, err
	}
	resp, err := client.post(ctx, "/projects/"+url.PathEscape(projectID)+"/runs", nil)
	if err != nil {
		return pipeline.RunSummary{}, err
	}
	var summary pipeline.RunSummary
	if err := decodeJSON(resp, &summary); err != nil {
		return pipeline.RunSummary{}, err
	}
	return summary, nil
}

func printSummary(s pipeline.RunSummary) {
	printSuccess("Run %s finished", shortID(s.RunID))
	printStatus("Sources found", "%d", s.SourcesFound)
	printStatus("Added to library", "%d", s.SourcesAdded)
	printStatus("Fetched", "%d", s.SourcesFetchedSuccessfully)
	if s.SourcesReconciled > 0 {
		printStatus("Reconciled", "%d", s.SourcesReconciled)
	}
	if s.QueriesFailed > 0 {
		printStatus("Failed queries", "%d", s.QueriesFailed)
	}
	for _, f := range s.Failures {
		printWarning("%s: %s (%s)", f.Reason, f.URL, f.Detail)
	}
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair sources whose library text was saved but not linked",
	Long: `Repair sources whose library text was saved but not linked.

Every run does this for its own project before fetching. This command sweeps
all projects at once against the local database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		fixed, err := reconcileAll(cmd.Context(), store, cfg.Fetch.MinContentChars)
		if err != nil {
			return err
		}
		printSuccess("Reconciled %d sources", fixed)
		return nil
	},
}

func reconcileAll(ctx context.Context, store *storage.Store, minChars int) (int, error) {
	return library.NewSweeper(store, library.NewIngestor(store, minChars)).Sweep(ctx)
}

// --- project ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage research projects",
}

type projectOut struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SearchTerms []string `json:"searchTerms"`
	CreatedAt   string   `json:"createdAt"`
}

var projectAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a research project",
	Long: `Create a research project.

Examples:
  archivefever project add "Derrida on the archive" --terms "archive fever,Mal d'archive"
  archivefever project add "Stoic ethics" --terms "stoicism,Epictetus" --description "Seminar prep"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		termsStr, _ := cmd.Flags().GetString("terms")
		description, _ := cmd.Flags().GetString("description")

		terms := splitTerms(termsStr)
		if len(terms) == 0 {
			return fmt.Errorf("--terms is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/projects", map[string]any{
			"title":       strings.Join(args, " "),
			"description": description,
			"searchTerms": terms,
		})
		if err != nil {
			return err
		}

		var p projectOut
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Created project %s", p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/projects")
		if err != nil {
			return err
		}
		var projects []projectOut
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, p.ID),
				colorize(colorBold, p.Title),
				strings.Join(p.SearchTerms, ", "),
			)
		}
		return nil
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show a project as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/projects/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var project any
		if err := decodeJSON(resp, &project); err != nil {
			return err
		}
		return printJSON(project)
	},
}

func init() {
	projectAddCmd.Flags().String("terms", "", "comma-separated search terms")
	projectAddCmd.Flags().String("description", "", "project description")
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
}

func splitTerms(s string) []string {
	var terms []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources <project-id>",
	Short: "List discovered sources for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/projects/" + url.PathEscape(args[0]) + "/sources"
		if state != "" {
			path += "?state=" + url.QueryEscape(state)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var sources []struct {
			URL                string  `json:"url"`
			Title              string  `json:"title"`
			RecommendationTier string  `json:"recommendationTier"`
			QualityScore       float64 `json:"qualityScore"`
			RelevanceScore     float64 `json:"relevanceScore"`
			CredibilityScore   float64 `json:"credibilityScore"`
			State              string  `json:"state"`
			StateReason        string  `json:"stateReason"`
		}
		if err := decodeJSON(resp, &sources); err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources found.")
			return nil
		}

		for _, s := range sources {
			fmt.Printf("\n%s [%s, q %.2f r %.2f c %.2f] %s\n",
				colorize(colorBold, s.Title),
				tierLabel(s.RecommendationTier),
				s.QualityScore, s.RelevanceScore, s.CredibilityScore,
				stateLabel(s.State),
			)
			fmt.Printf("  %s\n", s.URL)
			if s.StateReason != "" {
				fmt.Printf("  %s\n", s.StateReason)
			}
		}
		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("state", "", "filter by state: pending, ingested, failed, insufficient")
}

// --- library ---

var libraryCmd = &cobra.Command{
	Use:   "library [text-id]",
	Short: "List library texts, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			resp, err := client.get(cmd.Context(), "/library/"+url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			var text struct {
				Title     string `json:"title"`
				Author    string `json:"author"`
				SourceURL string `json:"sourceUrl"`
				Content   string `json:"content"`
			}
			if err := decodeJSON(resp, &text); err != nil {
				return err
			}
			fmt.Println(colorize(colorBold, text.Title))
			if text.Author != "" {
				fmt.Printf("by %s\n", text.Author)
			}
			fmt.Printf("%s\n\n%s\n", text.SourceURL, text.Content)
			return nil
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/library?limit=%d", limit))
		if err != nil {
			return err
		}
		var texts []struct {
			ID            string `json:"id"`
			Title         string `json:"title"`
			SourceSite    string `json:"sourceSite"`
			ContentLength int    `json:"contentLength"`
			UploadDate    string `json:"uploadDate"`
		}
		if err := decodeJSON(resp, &texts); err != nil {
			return err
		}
		if len(texts) == 0 {
			fmt.Println("Library is empty.")
			return nil
		}
		for _, t := range texts {
			title := t.Title
			if len(title) > 80 {
				title = title[:80] + "..."
			}
			fmt.Printf("%s  %s  %s  (%s, %d chars)\n",
				colorize(colorCyan, shortID(t.ID)),
				t.UploadDate,
				title,
				t.SourceSite,
				t.ContentLength,
			)
		}
		return nil
	},
}

func init() {
	libraryCmd.Flags().Int("limit", 20, "maximum number of texts to list")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs <project-id>",
	Short: "Show run history for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/projects/%s/runs?limit=%d", url.PathEscape(args[0]), limit))
		if err != nil {
			return err
		}
		var runs []struct {
			ID         string              `json:"id"`
			StartedAt  string              `json:"startedAt"`
			FinishedAt string              `json:"finishedAt"`
			Summary    pipeline.RunSummary `json:"summary"`
			Error      string              `json:"error"`
		}
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			result := fmt.Sprintf("found %d, added %d, failed %d",
				r.Summary.SourcesFound, r.Summary.SourcesAdded, len(r.Summary.Failures))
			if r.Error != "" {
				result = colorize(colorRed, r.Error)
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, shortID(r.ID)), r.StartedAt, result)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Printf("\nConfig file: %s\n", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
