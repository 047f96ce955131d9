package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/metrics"
	"github.com/kalambet/pokedex/internal/storage"
)

// maxPageSize caps the limit accepted from clients.
const maxPageSize = 200

// CatalogService serves list pages and single items.
type CatalogService interface {
	ListPage(ctx context.Context, offset, limit int) ([]catalog.Item, error)
	Lookup(ctx context.Context, id int) (catalog.Item, error)
}

// DetailService serves item details.
type DetailService interface {
	GetDetail(ctx context.Context, item catalog.Item) (catalog.Detail, error)
}

// CacheAdmin exposes cache maintenance.
type CacheAdmin interface {
	Stats(ctx context.Context) (storage.Stats, error)
	DeleteItem(ctx context.Context, id int) error
	DeleteDetail(ctx context.Context, itemID int) error
	DeleteAllItems(ctx context.Context) (int, error)
	DeleteAllDetails(ctx context.Context) (int, error)
}

// ConnectivityReporter reports the current reachability state.
type ConnectivityReporter interface {
	IsConnected() bool
	Since() time.Time
}

// Deps holds everything the HTTP and MCP surfaces call into.
type Deps struct {
	Catalog  CatalogService
	Details  DetailService
	Cache    CacheAdmin
	Network  ConnectivityReporter
	Metrics  *metrics.Recorder // optional; /metrics is 404 when nil
	Token    string            // optional; guards destructive routes when set
	PageSize int               // default limit for list requests
}

// ItemJSON is the wire form of a catalog item.
type ItemJSON struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	Number         string   `json:"number"`
	Types          []string `json:"types"`
	Height         int      `json:"height"`
	Weight         int      `json:"weight"`
	BaseExperience int      `json:"base_experience"`
	HasImage       bool     `json:"has_image"`
	Image          []byte   `json:"image,omitempty"`
}

// DetailJSON is the wire form of an item detail.
type DetailJSON struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Genus          string   `json:"genus"`
	Types          []string `json:"types"`
	VarietyCount   int      `json:"variety_count"`
	Height         int      `json:"height"`
	Weight         int      `json:"weight"`
	BaseExperience int      `json:"base_experience"`
}

// PageJSON is the response body of GET /items.
type PageJSON struct {
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
	Items  []ItemJSON `json:"items"`
}

// StatsJSON is the response body of GET /cache/stats.
type StatsJSON struct {
	Items        int    `json:"items"`
	ItemsWithArt int    `json:"items_with_art"`
	Details      int    `json:"details"`
	LastDetailAt string `json:"last_detail_at,omitempty"`
}

// ConnectivityJSON is the response body of GET /connectivity.
type ConnectivityJSON struct {
	Connected bool   `json:"connected"`
	Since     string `json:"since"`
}

// NewHandler returns the REST API over the repositories.
func NewHandler(deps Deps) http.Handler {
	if deps.PageSize <= 0 {
		deps.PageSize = 30
	}

	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/health", handleHealth)
	r.Get("/connectivity", handleConnectivity(deps))
	r.Get("/items", handleListItems(deps))
	r.Get("/items/{id}", handleGetItem(deps))
	r.Get("/items/{id}/detail", handleGetDetail(deps))
	r.Get("/items/{id}/image", handleGetImage(deps))
	r.Get("/cache/stats", handleCacheStats(deps))
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Delete("/cache", handleClearCache(deps))
		r.Delete("/cache/items/{id}", handleEvictItem(deps))
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request served", "request_id", id, "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleConnectivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ConnectivityJSON{
			Connected: deps.Network.IsConnected(),
			Since:     deps.Network.Since().UTC().Format(time.RFC3339),
		})
	}
}

func handleListItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "%v", err)
			return
		}
		limit, err := queryInt(r, "limit", deps.PageSize)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "%v", err)
			return
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
		withImages := r.URL.Query().Get("images") != "false"

		items, err := deps.Catalog.ListPage(r.Context(), offset, limit)
		if err != nil {
			writeRepoError(w, err)
			return
		}

		page := PageJSON{Offset: offset, Limit: limit, Items: make([]ItemJSON, 0, len(items))}
		for _, it := range items {
			page.Items = append(page.Items, toItemJSON(it, withImages))
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleGetItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok := lookupItem(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toItemJSON(item, r.URL.Query().Get("images") != "false"))
	}
}

func handleGetDetail(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok := lookupItem(w, r, deps)
		if !ok {
			return
		}
		d, err := deps.Details.GetDetail(r.Context(), item)
		if err != nil {
			writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ToDetailJSON(d))
	}
}

func handleGetImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok := lookupItem(w, r, deps)
		if !ok {
			return
		}
		if item.Image == nil {
			httpError(w, http.StatusNotFound, "not_found", "item %d has no cached artwork", item.ID)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(item.Image))
		w.Write(item.Image)
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Cache.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal", "reading cache stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ToStatsJSON(st))
	}
}

func handleClearCache(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := deps.Cache.DeleteAllDetails(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal", "clearing details: %v", err)
			return
		}
		items, err := deps.Cache.DeleteAllItems(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal", "clearing items: %v", err)
			return
		}
		slog.Info("cache cleared", "items", items, "details", details)
		writeJSON(w, http.StatusOK, map[string]int{"items_deleted": items, "details_deleted": details})
	}
}

func handleEvictItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil || id <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid item id %q", chi.URLParam(r, "id"))
			return
		}

		itemErr := deps.Cache.DeleteItem(r.Context(), id)
		detailErr := deps.Cache.DeleteDetail(r.Context(), id)
		for _, err := range []error{itemErr, detailErr} {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusInternalServerError, "internal", "evicting item %d: %v", id, err)
				return
			}
		}
		if errors.Is(itemErr, storage.ErrNotFound) && errors.Is(detailErr, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item %d is not cached", id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func lookupItem(w http.ResponseWriter, r *http.Request, deps Deps) (catalog.Item, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_input", "invalid item id %q", chi.URLParam(r, "id"))
		return catalog.Item{}, false
	}
	item, err := deps.Catalog.Lookup(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return catalog.Item{}, false
	}
	return item, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}

// statusFor maps a repository error to an HTTP status.
func statusFor(err error) int {
	var se *catalog.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, catalog.ErrNoCache):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &se) && se.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrTransport), errors.Is(err, catalog.ErrBadResponse), errors.Is(err, catalog.ErrDecode):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeRepoError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if catalog.Retryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	httpError(w, code, catalog.KindOf(err), "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func toItemJSON(it catalog.Item, withImage bool) ItemJSON {
	out := ItemJSON{
		ID:             it.ID,
		Name:           it.Name,
		Number:         it.Number,
		Types:          it.Types,
		Height:         it.Height,
		Weight:         it.Weight,
		BaseExperience: it.BaseExperience,
		HasImage:       it.Image != nil,
	}
	if withImage {
		out.Image = it.Image
	}
	return out
}

// ToDetailJSON converts a detail to its wire form.
func ToDetailJSON(d catalog.Detail) DetailJSON {
	return DetailJSON{
		ID:             d.ID,
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

// ToStatsJSON converts store stats to their wire form.
func ToStatsJSON(st storage.Stats) StatsJSON {
	out := StatsJSON{Items: st.Items, ItemsWithArt: st.ItemsWithArt, Details: st.Details}
	if !st.LastDetailAt.IsZero() {
		out.LastDetailAt = st.LastDetailAt.UTC().Format(time.RFC3339)
	}
	return out
}
