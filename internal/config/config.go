package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	API     APIConfig
	Storage StorageConfig
	Catalog CatalogConfig
	Network NetworkConfig
	Server  ServerConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second; 0 disables limiting
	Language  string
}

type StorageConfig struct {
	DataDir string
}

type CatalogConfig struct {
	PageSize      int
	Fanout        int
	PrefetchPages int // pages warmed in the background by serve; 0 disables
}

type NetworkConfig struct {
	ProbeInterval time.Duration
}

type ServerConfig struct {
	Port     int
	MaxConns int
	Token    string // bearer token for management endpoints; env only
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:   "https://pokeapi.co/api/v2",
			Timeout:   15 * time.Second,
			RateLimit: 10,
			Language:  "en",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Catalog: CatalogConfig{
			PageSize: 30,
			Fanout:   8,
		},
		Network: NetworkConfig{
			ProbeInterval: 10 * time.Second,
		},
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at FilePath, then applies
// POKEDEX_* environment variable overrides.
func Load() (Config, error) {
	return loadWith(defaultBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit must not be negative, got %v", c.API.RateLimit))
	}
	if strings.TrimSpace(c.API.Language) == "" {
		errs = append(errs, errors.New("api.language must not be empty"))
	}
	if c.Catalog.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("catalog.page_size must be positive, got %d", c.Catalog.PageSize))
	}
	if c.Catalog.PrefetchPages < 0 {
		errs = append(errs, fmt.Errorf("catalog.prefetch_pages must not be negative, got %d", c.Catalog.PrefetchPages))
	}
	if c.Catalog.Fanout <= 0 {
		errs = append(errs, fmt.Errorf("catalog.fanout must be positive, got %d", c.Catalog.Fanout))
	}
	if c.Network.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("network.probe_interval must be positive, got %s", c.Network.ProbeInterval))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("server.max_conns must be positive, got %d", c.Server.MaxConns))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
