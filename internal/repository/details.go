package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/metrics"
	"github.com/kalambet/pokedex/internal/pokeapi"
	"github.com/kalambet/pokedex/internal/storage"
)

// Details serves item details network-first with a store fallback.
type Details struct {
	remote  SpeciesRemote
	store   DetailStore
	conn    Connectivity
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewDetails creates a Details repository. WithFanout has no effect here.
func NewDetails(remote SpeciesRemote, store DetailStore, conn Connectivity, opts ...Option) *Details {
	o := buildOptions(opts)
	return &Details{
		remote:  remote,
		store:   store,
		conn:    conn,
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// GetDetail returns the extended description of item.
//
// Online, species data is fetched, merged with the fields already known from
// item, cached and returned. If that fetch fails the cached detail is served;
// with nothing cached the species error itself is returned. Offline, only
// the cache is consulted and a miss fails with catalog.ErrNoCache.
func (d *Details) GetDetail(ctx context.Context, item catalog.Item) (detail catalog.Detail, err error) {
	if item.ID <= 0 {
		return catalog.Detail{}, fmt.Errorf("%w: id %d", catalog.ErrInvalidInput, item.ID)
	}

	start := time.Now()
	defer func() { d.metrics.Observe(opGetDetail, err == nil, time.Since(start)) }()

	if !d.conn.IsConnected() {
		cached, cerr := d.cached(ctx, item.ID)
		if cerr != nil {
			return catalog.Detail{}, fmt.Errorf("detail %d: %w", item.ID, cerr)
		}
		return cached, nil
	}

	species, err := d.remote.FetchSpecies(ctx, item.Name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return catalog.Detail{}, ctxErr
		}
		d.metrics.FetchFailed(metrics.StageSpecies)

		cached, cerr := d.cached(ctx, item.ID)
		d.metrics.Fallback(opGetDetail, cerr == nil)
		if cerr != nil {
			d.logger.Warn("species fetch failed and no cached detail", "id", item.ID, "error", err)
			return catalog.Detail{}, fmt.Errorf("fetching species for %s: %w", item.Name, err)
		}
		d.logger.Warn("species fetch failed, serving cached detail", "id", item.ID, "error", err)
		return cached, nil
	}

	detail = merge(item, species)
	if err := d.store.SaveDetail(ctx, detailToRecord(detail)); err != nil {
		d.metrics.PersistFailed(metrics.KindDetail)
		d.logger.Warn("failed to cache detail", "id", item.ID, "error", err)
	}
	return detail, nil
}

// cached reads a detail from the store. Misses and read failures both
// surface as catalog.ErrNoCache.
func (d *Details) cached(ctx context.Context, id int) (catalog.Detail, error) {
	rec, err := d.store.GetDetail(ctx, id)
	if err != nil {
		d.metrics.CacheMiss(metrics.KindDetail)
		if errors.Is(err, storage.ErrNotFound) {
			return catalog.Detail{}, catalog.ErrNoCache
		}
		d.logger.Debug("detail lookup failed", "id", id, "error", err)
		return catalog.Detail{}, fmt.Errorf("%w: %w", catalog.ErrNoCache, err)
	}
	d.metrics.CacheHit(metrics.KindDetail)
	return detailFromRecord(rec), nil
}

// merge combines the fields known from a list item with species data.
func merge(item catalog.Item, s pokeapi.Species) catalog.Detail {
	return catalog.Detail{
		ID:             item.ID,
		Name:           item.Name,
		Description:    s.Description,
		Height:         item.Height,
		Weight:         item.Weight,
		BaseExperience: item.BaseExperience,
		Genus:          s.Genus,
		Types:          item.Types,
		VarietyCount:   s.VarietyCount,
	}
}
