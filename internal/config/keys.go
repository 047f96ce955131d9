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
		key: "api.base_url", typ: kString, env: "POKEDEX_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.timeout", typ: kDuration, env: "POKEDEX_API_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.API.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.API.Timeout },
	},
	{
		key: "api.rate_limit", typ: kFloat, env: "POKEDEX_API_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.API.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.API.RateLimit },
	},
	{
		key: "api.language", typ: kString, env: "POKEDEX_API_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.API.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Language },
	},
	{
		key: "storage.data_dir", typ: kString, env: "POKEDEX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.page_size", typ: kInt, env: "POKEDEX_CATALOG_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Catalog.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.PageSize },
	},
	{
		key: "catalog.fanout", typ: kInt, env: "POKEDEX_CATALOG_FANOUT",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Fanout = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.Fanout },
	},
	{
		key: "catalog.prefetch_pages", typ: kInt, env: "POKEDEX_CATALOG_PREFETCH_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Catalog.PrefetchPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Catalog.PrefetchPages },
	},
	{
		key: "network.probe_interval", typ: kDuration, env: "POKEDEX_NETWORK_PROBE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Network.ProbeInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Network.ProbeInterval },
	},
	{
		key: "server.port", typ: kInt, env: "POKEDEX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "POKEDEX_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.token", typ: kString, env: "POKEDEX_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "POKEDEX_LOG_LEVEL",
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
