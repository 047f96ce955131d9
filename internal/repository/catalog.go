package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/metrics"
	"github.com/kalambet/pokedex/internal/pokeapi"
	"github.com/kalambet/pokedex/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Catalog serves list pages, reconciling the local store with the remote listing.
type Catalog struct {
	remote  CatalogRemote
	store   ItemStore
	conn    Connectivity
	fanout  int
	metrics *metrics.Recorder
	logger  *slog.Logger

	// flight collapses concurrent fetches of the same resource across calls.
	flight singleflight.Group
}

// NewCatalog creates a Catalog repository.
func NewCatalog(remote CatalogRemote, store ItemStore, conn Connectivity, opts ...Option) *Catalog {
	o := buildOptions(opts)
	return &Catalog{
		remote:  remote,
		store:   store,
		conn:    conn,
		fanout:  o.fanout,
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// ListPage returns up to limit items starting at offset.
//
// Online, the page follows the remote listing order: cached items are served
// from the store, missing ones are fetched concurrently and persisted, and
// items that could not be resolved are omitted. Offline, or when the listing
// call fails, the page is read from the store ordered by id. An empty first
// page with nothing cached fails with catalog.ErrNoCache.
func (c *Catalog) ListPage(ctx context.Context, offset, limit int) (items []catalog.Item, err error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset=%d limit=%d", catalog.ErrInvalidInput, offset, limit)
	}
	if limit == 0 {
		return []catalog.Item{}, nil
	}

	start := time.Now()
	defer func() { c.metrics.Observe(opListPage, err == nil, time.Since(start)) }()

	if !c.conn.IsConnected() {
		return c.cachedPage(ctx, offset, limit, nil)
	}

	listing, err := c.remote.ListCatalog(ctx, offset, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.metrics.FetchFailed(metrics.StageListing)
		c.logger.Warn("catalog listing failed, serving cached page", "offset", offset, "limit", limit, "error", err)
		return c.cachedPage(ctx, offset, limit, err)
	}

	ids := c.listingIDs(listing.Results, limit)
	cached, fetched, _, err := c.fill(ctx, ids)
	if err != nil {
		return nil, err
	}
	return assemble(ids, cached, fetched), nil
}

// WarmPage fetches and caches one listing page. Unlike ListPage it never
// falls back to the store, so callers can tell a fetched page from a cached
// one. more reports whether the listing continues past this page. A page
// whose missing items all failed to resolve is reported as an error.
func (c *Catalog) WarmPage(ctx context.Context, offset, limit int) (more bool, err error) {
	if offset < 0 || limit <= 0 {
		return false, fmt.Errorf("%w: offset=%d limit=%d", catalog.ErrInvalidInput, offset, limit)
	}

	listing, err := c.remote.ListCatalog(ctx, offset, limit)
	if err != nil {
		c.metrics.FetchFailed(metrics.StageListing)
		return false, fmt.Errorf("listing at offset %d: %w", offset, err)
	}

	ids := c.listingIDs(listing.Results, limit)
	_, fetched, missing, err := c.fill(ctx, ids)
	if err != nil {
		return false, err
	}
	if len(missing) > 0 && len(fetched) == 0 {
		return false, fmt.Errorf("%w: none of %d items at offset %d could be fetched", catalog.ErrTransport, len(missing), offset)
	}

	if len(listing.Results) == 0 {
		return false, nil
	}
	return listing.Next != "" || offset+len(listing.Results) < listing.Count, nil
}

// fill splits ids into cached and missing, fetches the missing ones and
// persists what resolved.
func (c *Catalog) fill(ctx context.Context, ids []int) (cached, fetched map[int]catalog.Item, missing []int, err error) {
	cached, missing = c.partition(ctx, ids)
	fetched = c.resolve(ctx, missing)
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	c.persist(ctx, missing, fetched)
	return cached, fetched, missing, nil
}

// Lookup returns a single item, from the store when cached and otherwise
// from the remote API (persisting it). Offline misses fail with
// catalog.ErrNoCache.
func (c *Catalog) Lookup(ctx context.Context, id int) (item catalog.Item, err error) {
	if id <= 0 {
		return catalog.Item{}, fmt.Errorf("%w: id %d", catalog.ErrInvalidInput, id)
	}

	start := time.Now()
	defer func() { c.metrics.Observe(opLookup, err == nil, time.Since(start)) }()

	rec, err := c.store.GetItem(ctx, id)
	if err == nil {
		c.metrics.CacheHit(metrics.KindItem)
		return itemFromRecord(rec), nil
	}
	c.metrics.CacheMiss(metrics.KindItem)
	if !errors.Is(err, storage.ErrNotFound) {
		c.logger.Debug("item lookup failed, treating as missing", "id", id, "error", err)
	}

	if !c.conn.IsConnected() {
		return catalog.Item{}, fmt.Errorf("item %d: %w", id, catalog.ErrNoCache)
	}

	d, err := c.fetchDetail(ctx, id)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("fetching item %d: %w", id, err)
	}
	item = d.Item(c.fetchImage(ctx, id, d.ArtworkURL()))
	if err := ctx.Err(); err != nil {
		return catalog.Item{}, err
	}
	c.persist(ctx, []int{id}, map[int]catalog.Item{id: item})
	return item, nil
}

// cachedPage serves a page from the store. listingErr is the listing failure
// that caused the fallback, or nil when offline.
func (c *Catalog) cachedPage(ctx context.Context, offset, limit int, listingErr error) ([]catalog.Item, error) {
	recs, err := c.store.ListItemsPage(ctx, offset, limit, storage.OrderByID)
	if err != nil {
		if listingErr != nil {
			return nil, fmt.Errorf("reading cached page: %w (listing: %w)", err, listingErr)
		}
		return nil, fmt.Errorf("reading cached page: %w", err)
	}
	if listingErr != nil {
		c.metrics.Fallback(opListPage, len(recs) > 0)
	}

	if len(recs) == 0 && offset == 0 {
		if listingErr != nil {
			return nil, fmt.Errorf("%w: %w", catalog.ErrNoCache, listingErr)
		}
		return nil, catalog.ErrNoCache
	}

	items := make([]catalog.Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, itemFromRecord(rec))
	}
	return items, nil
}

// listingIDs extracts ids from listing entries, dropping unparsable and
// repeated entries, and caps the result at limit.
func (c *Catalog) listingIDs(entries []pokeapi.Entry, limit int) []int {
	ids := make([]int, 0, min(len(entries), limit))
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if len(ids) == limit {
			break
		}
		id, err := pokeapi.IDFromURL(e.URL)
		if err != nil {
			c.logger.Warn("dropping listing entry", "name", e.Name, "url", e.URL, "error", err)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// partition splits ids into items already cached and ids still missing.
// Lookup errors count as missing.
func (c *Catalog) partition(ctx context.Context, ids []int) (map[int]catalog.Item, []int) {
	cached := make(map[int]catalog.Item, len(ids))
	var missing []int
	for _, id := range ids {
		rec, err := c.store.GetItem(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				c.logger.Debug("item lookup failed, treating as missing", "id", id, "error", err)
			}
			c.metrics.CacheMiss(metrics.KindItem)
			missing = append(missing, id)
			continue
		}
		c.metrics.CacheHit(metrics.KindItem)
		cached[id] = itemFromRecord(rec)
	}
	return cached, missing
}

// resolve fetches details, then artwork, for ids with bounded concurrency.
// Per-item failures are absorbed: a failed detail drops the item and a
// failed image leaves Image nil.
func (c *Catalog) resolve(ctx context.Context, ids []int) map[int]catalog.Item {
	if len(ids) == 0 {
		return nil
	}

	details := make([]*pokeapi.DetailResponse, len(ids))
	var g errgroup.Group
	g.SetLimit(c.fanout)
	for i, id := range ids {
		g.Go(func() error {
			d, err := c.fetchDetail(ctx, id)
			if err != nil {
				c.metrics.FetchFailed(metrics.StageDetail)
				c.logger.Debug("detail fetch failed, dropping item", "id", id, "error", err)
				return nil
			}
			details[i] = &d
			return nil
		})
	}
	g.Wait()

	images := make([][]byte, len(ids))
	g = errgroup.Group{}
	g.SetLimit(c.fanout)
	for i, d := range details {
		if d == nil {
			continue
		}
		g.Go(func() error {
			images[i] = c.fetchImage(ctx, d.ID, d.ArtworkURL())
			return nil
		})
	}
	g.Wait()

	out := make(map[int]catalog.Item, len(ids))
	for i, d := range details {
		if d == nil {
			continue
		}
		out[ids[i]] = d.Item(images[i])
	}
	return out
}

func (c *Catalog) fetchDetail(ctx context.Context, id int) (pokeapi.DetailResponse, error) {
	v, err := c.shared(ctx, "detail:"+strconv.Itoa(id), func(ctx context.Context) (any, error) {
		return c.remote.FetchDetail(ctx, id)
	})
	if err != nil {
		return pokeapi.DetailResponse{}, err
	}
	d := v.(pokeapi.DetailResponse)
	if d.ID != id {
		return pokeapi.DetailResponse{}, fmt.Errorf("%w: requested id %d, got %d", catalog.ErrDecode, id, d.ID)
	}
	return d, nil
}

// fetchImage returns the artwork bytes for id, or nil when there is no
// artwork or the fetch fails.
func (c *Catalog) fetchImage(ctx context.Context, id int, url string) []byte {
	if url == "" {
		return nil
	}
	v, err := c.shared(ctx, "image:"+url, func(ctx context.Context) (any, error) {
		return c.remote.FetchBytes(ctx, url)
	})
	if err != nil {
		c.metrics.FetchFailed(metrics.StageImage)
		c.logger.Debug("artwork fetch failed, keeping item without image", "id", id, "error", err)
		return nil
	}
	return v.([]byte)
}

// shared runs fn once per key across concurrent callers. The fetch runs
// detached from any single caller's cancellation so that one caller giving
// up does not fail the others; the HTTP client timeout still bounds it.
// Each caller stops waiting when its own ctx is done.
func (c *Catalog) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.flight.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// persist writes newly resolved items in listing order. Failures are logged
// and never returned.
func (c *Catalog) persist(ctx context.Context, order []int, fetched map[int]catalog.Item) {
	for _, id := range order {
		item, ok := fetched[id]
		if !ok {
			continue
		}
		if _, err := c.store.CreateItem(ctx, itemToRecord(item)); err != nil {
			c.metrics.PersistFailed(metrics.KindItem)
			c.logger.Warn("failed to cache item", "id", id, "error", err)
		}
	}
}

// assemble walks ids in order, preferring cached copies over fresh ones and
// omitting ids that resolved to neither.
func assemble(ids []int, cached, fetched map[int]catalog.Item) []catalog.Item {
	page := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := cached[id]; ok {
			page = append(page, it)
		} else if it, ok := fetched[id]; ok {
			page = append(page, it)
		}
	}
	return page
}
