// Package repository decides, for every catalog read, whether to go to the
// network or the local store, and keeps the store up to date as a side effect.
package repository

import (
	"context"
	"log/slog"

	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/metrics"
	"github.com/kalambet/pokedex/internal/pokeapi"
	"github.com/kalambet/pokedex/internal/storage"
)

// DefaultFanout bounds concurrent sub-fetches when no option overrides it.
const DefaultFanout = 8

const (
	opListPage  = "list_page"
	opLookup    = "lookup"
	opGetDetail = "get_detail"
)

// Connectivity reports whether the upstream API is believed reachable.
type Connectivity interface {
	IsConnected() bool
}

// CatalogRemote is the subset of the API client used for listing.
type CatalogRemote interface {
	ListCatalog(ctx context.Context, offset, limit int) (pokeapi.ListResponse, error)
	FetchDetail(ctx context.Context, id int) (pokeapi.DetailResponse, error)
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// ItemStore is the subset of the local store used for listing.
type ItemStore interface {
	GetItem(ctx context.Context, id int) (storage.ItemRecord, error)
	CreateItem(ctx context.Context, rec storage.ItemRecord) (bool, error)
	ListItemsPage(ctx context.Context, offset, limit int, order storage.Order) ([]storage.ItemRecord, error)
}

// SpeciesRemote is the subset of the API client used for details.
type SpeciesRemote interface {
	FetchSpecies(ctx context.Context, name string) (pokeapi.Species, error)
}

// DetailStore is the subset of the local store used for details.
type DetailStore interface {
	GetDetail(ctx context.Context, itemID int) (storage.DetailRecord, error)
	SaveDetail(ctx context.Context, rec storage.DetailRecord) error
}

type options struct {
	fanout  int
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// Option customizes a repository.
type Option func(*options)

// WithFanout sets the maximum number of concurrent remote sub-fetches.
// Values <= 0 keep DefaultFanout.
func WithFanout(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.fanout = n
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{fanout: DefaultFanout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func itemFromRecord(rec storage.ItemRecord) catalog.Item {
	return catalog.Item{
		ID:             rec.ID,
		Name:           rec.Name,
		Number:         rec.Number,
		Types:          rec.Types,
		Image:          rec.Image,
		Height:         rec.Height,
		Weight:         rec.Weight,
		BaseExperience: rec.BaseExperience,
	}
}

func itemToRecord(it catalog.Item) storage.ItemRecord {
	return storage.ItemRecord{
		ID:             it.ID,
		Name:           it.Name,
		Number:         it.Number,
		Types:          it.Types,
		Image:          it.Image,
		Height:         it.Height,
		Weight:         it.Weight,
		BaseExperience: it.BaseExperience,
	}
}

func detailFromRecord(rec storage.DetailRecord) catalog.Detail {
	return catalog.Detail{
		ID:             rec.ItemID,
		Name:           rec.Name,
		Description:    rec.Description,
		Height:         rec.Height,
		Weight:         rec.Weight,
		BaseExperience: rec.BaseExperience,
		Genus:          rec.Genus,
		Types:          rec.Types,
		VarietyCount:   rec.VarietyCount,
	}
}

func detailToRecord(d catalog.Detail) storage.DetailRecord {
	return storage.DetailRecord{
		ItemID:         d.ID,
		Name:           d.Name,
		Description:    d.Description,
		Genus:          d.Genus,
		Types:          d.Types,
		VarietyCount:   d.VarietyCount,
		Height:         d.Height,
		Weight:         d.Weight,
		BaseExperience: d.BaseExperience,
	}
}
