package config

import (
	"fmt"
	"os"
	"strconv"
)

// secretService is the secret-store service name for whatnext credentials.
const secretService = "whatnext"

type keyType int

const (
	kString keyType = iota
	kInt
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
		key: "server.port", typ: kInt, env: "WHATNEXT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "tmdb.api_key", typ: kString, env: "WHATNEXT_TMDB_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.TMDB.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.TMDB.APIKey },
	},
	{
		key: "tmdb.base_url", typ: kString, env: "WHATNEXT_TMDB_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.TMDB.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.TMDB.BaseURL },
	},
	{
		key: "places.api_key", typ: kString, env: "WHATNEXT_PLACES_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Places.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Places.APIKey },
	},
	{
		key: "places.base_url", typ: kString, env: "WHATNEXT_PLACES_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Places.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Places.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WHATNEXT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "recommend.count", typ: kInt, env: "WHATNEXT_RECOMMEND_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Recommend.Count = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommend.Count },
	},
	{
		key: "sync.pages", typ: kInt, env: "WHATNEXT_SYNC_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Sync.Pages = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.Pages },
	},
	{
		key: "sync.interval", typ: kString, env: "WHATNEXT_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "log.level", typ: kString, env: "WHATNEXT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
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
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
