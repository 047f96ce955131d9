package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/kalambet/pokedex/internal/api"
	"github.com/kalambet/pokedex/internal/config"
	"github.com/kalambet/pokedex/internal/metrics"
	"github.com/kalambet/pokedex/internal/netwatch"
	"github.com/kalambet/pokedex/internal/pokeapi"
	"github.com/kalambet/pokedex/internal/repository"
	"github.com/kalambet/pokedex/internal/storage"
)

// app is the wired data-access stack shared by every command.
type app struct {
	cfg     config.Config
	store   *storage.Store
	client  *pokeapi.Client
	monitor *netwatch.Monitor
	metrics *metrics.Recorder
	catalog *repository.Catalog
	details *repository.Details
}

// openApp wires the store, API client, monitor and repositories. Unless
// offlineOnly is set, reachability is probed once before returning so the
// first read takes the right path.
func openApp(ctx context.Context, cfg config.Config, offlineOnly bool) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client := pokeapi.New(cfg.API.BaseURL,
		pokeapi.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		pokeapi.WithRateLimit(cfg.API.RateLimit, cfg.Catalog.Fanout),
		pokeapi.WithLanguage(cfg.API.Language),
	)

	var prober netwatch.Prober
	if !offlineOnly {
		prober = client
	}
	monitor := netwatch.New(prober, cfg.Network.ProbeInterval, false)
	if !offlineOnly {
		monitor.Check(ctx)
	}

	rec := metrics.New()
	rec.SetConnected(monitor.IsConnected())

	opts := []repository.Option{
		repository.WithFanout(cfg.Catalog.Fanout),
		repository.WithMetrics(rec),
	}
	return &app{
		cfg:     cfg,
		store:   store,
		client:  client,
		monitor: monitor,
		metrics: rec,
		catalog: repository.NewCatalog(client, store, monitor, opts...),
		details: repository.NewDetails(client, store, monitor, opts...),
	}, nil
}

func (a *app) deps() api.Deps {
	return api.Deps{
		Catalog:  a.catalog,
		Details:  a.details,
		Cache:    a.store,
		Network:  a.monitor,
		Metrics:  a.metrics,
		Token:    a.cfg.Server.Token,
		PageSize: a.cfg.Catalog.PageSize,
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// setupLogging installs the default slog handler at the configured level.
func setupLogging(cfg config.Config) {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
