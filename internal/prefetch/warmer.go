// Package prefetch fills the local store in the background while the
// upstream API is reachable, so later browsing works offline.
package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time")

// Pager fetches one listing page into the local store. more reports whether
// the listing continues past the page.
type Pager interface {
	WarmPage(ctx context.Context, offset, limit int) (more bool, err error)
}

// Connectivity reports whether the upstream API is believed reachable.
type Connectivity interface {
	IsConnected() bool
}

// Warmer walks the catalog page by page until maxPages pages have been
// read or the listing reports no further pages. A failed page is retried
// on the next pass without advancing.
type Warmer struct {
	pager    Pager
	conn     Connectivity
	pageSize int
	maxPages int
	poll     time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	pages    int
	offset   int
	finished bool
}

// NewWarmer creates a Warmer. A non-positive maxPages walks until the
// listing is exhausted. If pollInterval is <= 0, it defaults to 10s.
func NewWarmer(pager Pager, conn Connectivity, pageSize, maxPages int, pollInterval time.Duration) *Warmer {
	if pageSize <= 0 {
		pageSize = 30
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Warmer{
		pager:    pager,
		conn:     conn,
		pageSize: pageSize,
		maxPages: maxPages,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run reads pages until the walk finishes or ctx is cancelled. While
// offline it waits pollInterval between checks.
func (w *Warmer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		progressed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Warn("prefetch page failed", "error", err)
		}
		if w.Finished() {
			pages, offset := w.Progress()
			w.logger.Info("prefetch complete", "pages", pages, "items_seen", offset)
			return
		}
		if progressed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce reads the next page if the upstream is reachable.
// Returns true if a page was read.
func (w *Warmer) RunOnce(ctx context.Context) (bool, error) {
	w.mu.Lock()
	offset, finished := w.offset, w.finished
	w.mu.Unlock()

	if finished || !w.conn.IsConnected() {
		return false, nil
	}

	more, err := w.pager.WarmPage(ctx, offset, w.pageSize)
	if err != nil {
		return false, fmt.Errorf("warming page at offset %d: %w", offset, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pages++
	w.offset += w.pageSize
	if !more || (w.maxPages > 0 && w.pages >= w.maxPages) {
		w.finished = true
	}
	w.logger.Debug("prefetched page", "offset", offset, "more", more)
	return true, nil
}

// Progress returns the number of pages read and the next offset.
func (w *Warmer) Progress() (pages, offset int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pages, w.offset
}

// Finished reports whether the walk is over.
func (w *Warmer) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}
