package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/pearldiveja/archivefever/internal/api"
	"github.com/pearldiveja/archivefever/internal/config"
	"github.com/pearldiveja/archivefever/internal/discovery"
	"github.com/pearldiveja/archivefever/internal/fetch"
	"github.com/pearldiveja/archivefever/internal/library"
	"github.com/pearldiveja/archivefever/internal/pipeline"
	"github.com/pearldiveja/archivefever/internal/provider"
	"github.com/pearldiveja/archivefever/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the archivefever server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running archivefever server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archivefever status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "archivefever.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// buildProvider returns the searcher and the scraper selected by the
// configured scraper mode. Search always goes through the provider API.
func buildProvider(cfg config.Config) (provider.Searcher, provider.Scraper) {
	fc := provider.NewFirecrawlClient(provider.FirecrawlConfig{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		RequestsPerSecond: cfg.Provider.RateLimitRPS,
		Burst:             cfg.Provider.Burst,
	})

	switch cfg.ScraperMode() {
	case config.ScraperDirect:
		return fc, provider.NewDirectScraper(nil)
	case config.ScraperFallback:
		return fc, provider.FallbackScraper{Primary: fc, Secondary: provider.NewDirectScraper(nil)}
	default:
		return fc, fc
	}
}

func buildOrchestrator(cfg config.Config, store *storage.Store) *pipeline.Orchestrator {
	searcher, scraper := buildProvider(cfg)
	if cfg.Provider.APIKey == "" {
		slog.Warn("no provider API key configured; discovery searches will fail", "key", "provider.api_key")
	}

	return pipeline.NewOrchestrator(
		store,
		discovery.New(searcher, cfg.Discovery.ResultsPerTerm),
		fetch.New(scraper, cfg.Fetch.Timeout, cfg.Fetch.MinContentChars),
		library.NewIngestor(store, cfg.Fetch.MinContentChars),
		pipeline.Config{
			MaxInFlight:     cfg.Pipeline.MaxInFlight,
			MaxPerRun:       cfg.Pipeline.MaxPerRun,
			SkipLowPriority: cfg.Pipeline.SkipLowPriority,
			LeaseTTL:        cfg.Pipeline.LeaseTTL,
		},
	)
}

// ensureAPIToken generates and persists a bearer token on first start.
func ensureAPIToken(cfg *config.Config) error {
	if cfg.Server.APIToken != "" {
		return nil
	}
	token := uuid.NewString()
	if err := config.SaveSecret("server.api_token", token); err != nil {
		return err
	}
	cfg.Server.APIToken = token
	slog.Info("generated API bearer token", "key", "server.api_token")
	return nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "archivefever version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if err := ensureAPIToken(&cfg); err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("archivefever is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("archivefever is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	orch := buildOrchestrator(cfg, store)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Store:  store,
			Runner: orch,
			Token:  cfg.Server.APIToken,
		}),
	}

	if withMCP || cfg.Server.MCPEnabled {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Store: store, Runner: orch}))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "archivefever listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Runs in flight get the shutdown window to finish; their leases expire otherwise.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("archivefever is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop archivefever (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to archivefever (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Scraper", "%s", cfg.ScraperMode())
	printStatus("Provider", "%s", cfg.Provider.BaseURL)
	if cfg.Provider.APIKey == "" {
		printStatus("Provider key", "unset")
	} else {
		printStatus("Provider key", "set")
	}

	if running && cfg.Server.APIToken != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		if stats, err := fetchStats(context.Background(), c); err == nil {
			printStatus("Projects", "%d", stats.Projects)
			printStatus("Library texts", "%d", stats.LibraryTexts)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

type serverStats struct {
	Projects     int `json:"projects"`
	LibraryTexts int `json:"libraryTexts"`
}

func fetchStats(ctx context.Context, c *apiClient) (serverStats, error) {
	var stats serverStats
	resp, err := c.get(ctx, "/stats")
	if err != nil {
		return stats, err
	}
	err = decodeJSON(resp, &stats)
	return stats, err
}
