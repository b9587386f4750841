package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Provider  ProviderConfig
	Discovery DiscoveryConfig
	Fetch     FetchConfig
	Pipeline  PipelineConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
	APIToken   string
}

type StorageConfig struct {
	DataDir string
}

// Scraper modes.
const (
	ScraperAuto      = "auto" // firecrawl when an API key is set, direct otherwise
	ScraperFirecrawl = "firecrawl"
	ScraperDirect    = "direct"
	ScraperFallback  = "fallback" // firecrawl, then direct on failure
)

type ProviderConfig struct {
	BaseURL      string
	APIKey       string
	RateLimitRPS float64
	Burst        int
	Scraper      string
}

type DiscoveryConfig struct {
	ResultsPerTerm int
}

type FetchConfig struct {
	Timeout         time.Duration
	MinContentChars int
}

type PipelineConfig struct {
	MaxInFlight     int
	MaxPerRun       int
	SkipLowPriority bool
	LeaseTTL        time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Provider: ProviderConfig{
			BaseURL:      "https://api.firecrawl.dev",
			RateLimitRPS: 2,
			Burst:        4,
			Scraper:      ScraperAuto,
		},
		Discovery: DiscoveryConfig{
			ResultsPerTerm: 5,
		},
		Fetch: FetchConfig{
			Timeout:         15 * time.Second,
			MinContentChars: 500,
		},
		Pipeline: PipelineConfig{
			MaxInFlight: 4,
			MaxPerRun:   10,
			LeaseTTL:    10 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in increasing precedence: defaults, the JSON file
// at $XDG_CONFIG_HOME/archivefever/config.json, then ARCHIVEFEVER_*
// environment variables. Secrets come from the environment or, failing that,
// the secrets file in the data directory.
func Load() (Config, error) {
	b := newPlatformBackend()
	return loadWith(b, fileSecrets{path: secretsFilePath(b)})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ScraperMode resolves ScraperAuto against the configured API key.
func (c Config) ScraperMode() string {
	if c.Provider.Scraper != ScraperAuto && c.Provider.Scraper != "" {
		return c.Provider.Scraper
	}
	if c.Provider.APIKey != "" {
		return ScraperFirecrawl
	}
	return ScraperDirect
}

func (c Config) validate() error {
	switch c.Provider.Scraper {
	case ScraperAuto, ScraperFirecrawl, ScraperDirect, ScraperFallback:
	default:
		return fmt.Errorf("invalid provider.scraper %q: want one of auto, firecrawl, direct, fallback", c.Provider.Scraper)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.MinContentChars <= 0 {
		return fmt.Errorf("fetch.min_content_chars must be positive, got %d", c.Fetch.MinContentChars)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return nil
}
