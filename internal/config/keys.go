package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ARCHIVEFEVER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "ARCHIVEFEVER_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "server.api_token", typ: kString, env: "ARCHIVEFEVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ARCHIVEFEVER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "provider.base_url", typ: kString, env: "ARCHIVEFEVER_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.api_key", typ: kString, env: "ARCHIVEFEVER_PROVIDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.rate_limit_rps", typ: kFloat, env: "ARCHIVEFEVER_PROVIDER_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Provider.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.RateLimitRPS },
	},
	{
		key: "provider.burst", typ: kInt, env: "ARCHIVEFEVER_PROVIDER_BURST",
		apply:   func(cfg *Config, v any) { cfg.Provider.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.Burst },
	},
	{
		key: "provider.scraper", typ: kString, env: "ARCHIVEFEVER_PROVIDER_SCRAPER",
		apply:   func(cfg *Config, v any) { cfg.Provider.Scraper = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Scraper },
	},
	{
		key: "discovery.results_per_term", typ: kInt, env: "ARCHIVEFEVER_DISCOVERY_RESULTS_PER_TERM",
		apply:   func(cfg *Config, v any) { cfg.Discovery.ResultsPerTerm = v.(int) },
		extract: func(cfg Config) any { return cfg.Discovery.ResultsPerTerm },
	},
	{
		key: "fetch.timeout", typ: kDuration, env: "ARCHIVEFEVER_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Fetch.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Fetch.Timeout },
	},
	{
		key: "fetch.min_content_chars", typ: kInt, env: "ARCHIVEFEVER_FETCH_MIN_CONTENT_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Fetch.MinContentChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Fetch.MinContentChars },
	},
	{
		key: "pipeline.max_in_flight", typ: kInt, env: "ARCHIVEFEVER_PIPELINE_MAX_IN_FLIGHT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxInFlight = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxInFlight },
	},
	{
		key: "pipeline.max_per_run", typ: kInt, env: "ARCHIVEFEVER_PIPELINE_MAX_PER_RUN",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxPerRun = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxPerRun },
	},
	{
		key: "pipeline.skip_low_priority", typ: kBool, env: "ARCHIVEFEVER_PIPELINE_SKIP_LOW_PRIORITY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.SkipLowPriority = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.SkipLowPriority },
	},
	{
		key: "pipeline.lease_ttl", typ: kDuration, env: "ARCHIVEFEVER_PIPELINE_LEASE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.LeaseTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.LeaseTTL },
	},
	{
		key: "log.level", typ: kString, env: "ARCHIVEFEVER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw to the Go type of typ. Strings pass through.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secret keys still empty after env overrides.
func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
