package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/pokedex/internal/api"
	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/config"
	"github.com/kalambet/pokedex/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// isolateConfig points config and data at temp dirs for the duration of a test.
func isolateConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dataDir := t.TempDir()
	t.Setenv("POKEDEX_STORAGE_DATA_DIR", dataDir)
	return dataDir
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	defer func() {
		rootCmd.SetArgs(nil)
		offline = false
	}()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health":       `{"status":"ok"}`,
		"GET /connectivity": `{"connected":false,"since":"2026-01-01T00:00:00Z"}`,
		"GET /cache/stats":  `{"items":3,"items_with_art":2,"details":1}`,
	})

	reportStatus(ctx, ts.client())

	var paths []string
	for _, r := range ts.requests {
		paths = append(paths, r.Path)
	}
	if got := strings.Join(paths, ","); got != "/health,/connectivity,/cache/stats" {
		t.Errorf("requests = %s", got)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}

	// Nothing past /health is attempted.
	reportStatus(ctx, client)
	if len(ts.requests) != 0 {
		t.Errorf("requests = %+v", ts.requests)
	}
}

func TestNoColorFlag(t *testing.T) {
	oldNo, oldEnabled := noColor, colorEnabled
	defer func() { noColor, colorEnabled = oldNo, oldEnabled }()
	colorEnabled = true

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}

	colorEnabled = false
	if result := colorize(colorGreen, "piped"); result != "piped" {
		t.Errorf("colorize without a terminal = %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /cache": `{"items_deleted":1,"details_deleted":0}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	resp, err := client.delete(ctx, "/cache")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]int
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatal(err)
	}
	if result["items_deleted"] != 1 {
		t.Errorf("result = %v", result)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestNewAPIClientFor(t *testing.T) {
	var cfg config.Config
	cfg.Server.Port = 4123
	cfg.Server.Token = "tok"
	c := newAPIClientFor(cfg)
	if c.baseURL != "http://127.0.0.1:4123" || c.token != "tok" {
		t.Errorf("client = %+v", c)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid bearer token","type":"unauthorized"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.delete(ctx, "/cache")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	for _, want := range []string{"401", "unauthorized", "bearer token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, new(any))
	if err == nil || !strings.Contains(err.Error(), "500: boom") {
		t.Errorf("error = %v", err)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Server.Token = "hidden"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if k.Value == "hidden" {
			t.Errorf("secret shown under %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestShowCommand_InvalidID(t *testing.T) {
	isolateConfig(t)
	for _, arg := range []string{"abc", "0", "-4"} {
		err := execute(t, "show", "--", arg)
		if err == nil || !strings.Contains(err.Error(), "invalid item id") {
			t.Errorf("show %s: error = %v", arg, err)
		}
	}
	if err := execute(t, "show"); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestListCommand_OfflineEmptyCache(t *testing.T) {
	isolateConfig(t)

	err := execute(t, "--offline", "list")
	if !errors.Is(err, catalog.ErrNoCache) {
		t.Fatalf("error = %v, want ErrNoCache", err)
	}
	if !strings.Contains(err.Error(), "populate the cache") {
		t.Errorf("error = %q, want a hint", err.Error())
	}
}

func TestCacheClear_RequiresConfirm(t *testing.T) {
	dataDir := isolateConfig(t)
	seedStore(t, dataDir)

	if err := execute(t, "cache", "clear"); err != nil {
		t.Fatal(err)
	}
	if st := storeStats(t, dataDir); st.Items != 2 {
		t.Fatalf("items = %d, cache cleared without --confirm", st.Items)
	}

	if err := execute(t, "cache", "clear", "--confirm"); err != nil {
		t.Fatal(err)
	}
	if st := storeStats(t, dataDir); st.Items != 0 || st.Details != 0 {
		t.Errorf("stats after clear = %+v", st)
	}
}

func TestCacheEvict(t *testing.T) {
	dataDir := isolateConfig(t)
	seedStore(t, dataDir)

	if err := execute(t, "cache", "evict", "1"); err != nil {
		t.Fatal(err)
	}
	if st := storeStats(t, dataDir); st.Items != 1 || st.Details != 0 {
		t.Errorf("stats after evict = %+v", st)
	}
	if err := execute(t, "cache", "evict", "1"); err == nil || !strings.Contains(err.Error(), "not cached") {
		t.Errorf("second evict error = %v", err)
	}
}

func seedStore(t *testing.T, dataDir string) {
	t.Helper()
	store, err := storage.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	for id := 1; id <= 2; id++ {
		if _, err := store.CreateItem(ctx, storage.ItemRecord{ID: id, Name: fmt.Sprintf("Mon%d", id), Number: catalog.DisplayNumber(id)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SaveDetail(ctx, storage.DetailRecord{ItemID: 1, Name: "Mon1", Description: "A seed."}); err != nil {
		t.Fatal(err)
	}
}

func storeStats(t *testing.T, dataDir string) storage.Stats {
	t.Helper()
	store, err := storage.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestClearStore(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	store.CreateItem(ctx, storage.ItemRecord{ID: 7, Name: "Squirtle", Number: "#007"})
	store.SaveDetail(ctx, storage.DetailRecord{ItemID: 7, Name: "Squirtle"})

	items, details, err := clearStore(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if items != 1 || details != 1 {
		t.Errorf("cleared items=%d details=%d", items, details)
	}
}

func TestExplain(t *testing.T) {
	if err := explain(catalog.ErrNoCache); !errors.Is(err, catalog.ErrNoCache) || !strings.Contains(err.Error(), "populate") {
		t.Errorf("no cache: %v", err)
	}
	transport := fmt.Errorf("%w: reset", catalog.ErrTransport)
	if err := explain(transport); !strings.Contains(err.Error(), "try again") {
		t.Errorf("transport: %v", err)
	}
	decode := fmt.Errorf("%w: eof", catalog.ErrDecode)
	if err := explain(decode); err != decode {
		t.Errorf("decode should pass through, got %v", err)
	}
}

func TestPrintItems(t *testing.T) {
	var buf bytes.Buffer
	printItems(&buf, []catalog.Item{
		{ID: 1, Name: "Bulbasaur", Number: "#001", Types: []string{"Grass", "Poison"}, Image: []byte{1}},
		{ID: 4, Name: "Charmander", Number: "#004", Types: []string{"Fire"}},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[1], "Grass/Poison") || !strings.HasSuffix(strings.TrimSpace(lines[1]), "yes") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[2]), "-") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestPrintDetail(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	item := catalog.Item{ID: 25, Name: "Pikachu", Number: "#025"}
	printDetail(&buf, item, catalog.Detail{
		ID: 25, Name: "Pikachu", Description: "It stores electricity.", Genus: "Mouse Pokémon",
		Types: []string{"Electric"}, Height: 4, Weight: 60, BaseExperience: 112, VarietyCount: 16,
	})
	out := buf.String()
	for _, want := range []string{"#025 Pikachu", "Mouse Pokémon", "Height: 0.4 m", "Weight: 6.0 kg", "Varieties: 16", "It stores electricity."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteItemsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeItemsJSON(&buf, []catalog.Item{{ID: 1, Name: "Bulbasaur", Number: "#001", Image: []byte{1, 2}}}); err != nil {
		t.Fatal(err)
	}
	var items []api.ItemJSON
	if err := json.Unmarshal(buf.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || !items[0].HasImage || items[0].Image != nil {
		t.Errorf("items = %+v", items)
	}
}
