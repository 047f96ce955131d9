package pokeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/pokedex/internal/catalog"
)

// DefaultBaseURL is the public PokeAPI v2 endpoint.
const DefaultBaseURL = "https://pokeapi.co/api/v2"

const maxImageSize = 10 << 20 // 10MB

// Client talks to the PokeAPI REST service over HTTP.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxBytes   int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests at rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLanguage selects the language tag used for flavor text and genus.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.language = lang
		}
	}
}

// New creates a Client targeting the given base URL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   "en",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxBytes:   maxImageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping reports whether the API answers a minimal list request with 200.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/pokemon?limit=1", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListCatalog returns one page of the catalog listing.
func (c *Client) ListCatalog(ctx context.Context, offset, limit int) (ListResponse, error) {
	if offset < 0 || limit < 0 {
		return ListResponse{}, fmt.Errorf("%w: offset %d, limit %d", catalog.ErrInvalidInput, offset, limit)
	}
	endpoint := fmt.Sprintf("%s/pokemon?limit=%d&offset=%d", c.baseURL, limit, offset)
	var out ListResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return ListResponse{}, fmt.Errorf("listing catalog: %w", err)
	}
	return out, nil
}

// FetchDetail returns the detail payload for one item id.
func (c *Client) FetchDetail(ctx context.Context, id int) (DetailResponse, error) {
	if id <= 0 {
		return DetailResponse{}, fmt.Errorf("%w: item id %d", catalog.ErrInvalidInput, id)
	}
	return c.FetchDetailURL(ctx, fmt.Sprintf("%s/pokemon/%d", c.baseURL, id))
}

// FetchDetailURL returns the detail payload behind a list entry URL.
func (c *Client) FetchDetailURL(ctx context.Context, rawURL string) (DetailResponse, error) {
	var out DetailResponse
	if err := c.getJSON(ctx, rawURL, &out); err != nil {
		return DetailResponse{}, fmt.Errorf("fetching detail: %w", err)
	}
	return out, nil
}

// FetchSpecies returns the localized species payload for an item name.
func (c *Client) FetchSpecies(ctx context.Context, name string) (Species, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Species{}, fmt.Errorf("%w: empty species name", catalog.ErrInvalidInput)
	}
	var payload speciesPayload
	endpoint := c.baseURL + "/pokemon-species/" + url.PathEscape(name)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return Species{}, fmt.Errorf("fetching species %s: %w", name, err)
	}
	return payload.localize(c.language), nil
}

// FetchBytes downloads a raw payload such as artwork. Payloads larger than
// 10MB fail with catalog.ErrDecode rather than being truncated.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", catalog.ErrTransport, rawURL, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", catalog.ErrDecode, rawURL, c.maxBytes)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", catalog.ErrDecode, rawURL, err)
	}
	return nil
}

// get issues a rate-limited GET and classifies every failure. The caller
// owns the returned body.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q", catalog.ErrInvalidInput, rawURL)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: waiting for rate limiter: %w", catalog.ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", catalog.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: requesting %s: %w", catalog.ErrTransport, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &catalog.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// IDFromURL extracts the item id from the trailing path segment of a list
// entry URL such as https://pokeapi.co/api/v2/pokemon/25/.
func IDFromURL(raw string) (int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %q: %w", catalog.ErrInvalidInput, raw, err)
	}
	path := strings.TrimRight(u.Path, "/")
	seg := path[strings.LastIndex(path, "/")+1:]
	id, err := strconv.Atoi(seg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: no item id in %q", catalog.ErrInvalidInput, raw)
	}
	return id, nil
}
