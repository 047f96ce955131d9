package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/kalambet/pokedex/internal/catalog"
	"github.com/kalambet/pokedex/internal/pokeapi"
	"github.com/kalambet/pokedex/internal/storage"
)

type staticConn bool

func (c staticConn) IsConnected() bool { return bool(c) }

// fakeRemote serves ids 1..count. Ids in failDetail, failImage or
// failSpecies fail at that stage.
type fakeRemote struct {
	count       int
	listErr     error
	failDetail  map[int]bool
	failImage   map[int]bool
	failSpecies error
	noArtwork   map[int]bool
	wrongID     map[int]int
	// entries overrides the generated listing when non-nil.
	entries []pokeapi.Entry

	mu           sync.Mutex
	detailCalls  []int
	imageCalls   int
	speciesCalls int
	listCalls    int
}

func (f *fakeRemote) ListCatalog(ctx context.Context, offset, limit int) (pokeapi.ListResponse, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return pokeapi.ListResponse{}, fmt.Errorf("%w: %w", catalog.ErrTransport, err)
	}
	if f.listErr != nil {
		return pokeapi.ListResponse{}, f.listErr
	}
	if f.entries != nil {
		return pokeapi.ListResponse{Count: len(f.entries), Results: f.entries}, nil
	}
	var res []pokeapi.Entry
	for id := offset + 1; id <= f.count && id <= offset+limit; id++ {
		res = append(res, pokeapi.Entry{
			Name: fmt.Sprintf("item%d", id),
			URL:  fmt.Sprintf("https://pokeapi.co/api/v2/pokemon/%d/", id),
		})
	}
	return pokeapi.ListResponse{Count: f.count, Results: res}, nil
}

func (f *fakeRemote) FetchDetail(ctx context.Context, id int) (pokeapi.DetailResponse, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, id)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return pokeapi.DetailResponse{}, fmt.Errorf("%w: %w", catalog.ErrTransport, err)
	}
	if f.failDetail[id] {
		return pokeapi.DetailResponse{}, &catalog.StatusError{URL: fmt.Sprintf("/pokemon/%d", id), StatusCode: 500}
	}
	d := pokeapi.DetailResponse{
		ID:             id,
		Name:           fmt.Sprintf("item%d", id),
		Types:          []pokeapi.TypeSlot{{Slot: 1, Type: pokeapi.NamedResource{Name: "grass"}}},
		Height:         id,
		Weight:         id * 10,
		BaseExperience: id * 100,
	}
	if got, ok := f.wrongID[id]; ok {
		d.ID = got
	}
	if !f.noArtwork[id] {
		d.Sprites.Other.OfficialArtwork.FrontDefault = fmt.Sprintf("https://img.example/%d.png", id)
	}
	return d, nil
}

func (f *fakeRemote) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.imageCalls++
	f.mu.Unlock()
	var id int
	fmt.Sscanf(url, "https://img.example/%d.png", &id)
	if f.failImage[id] {
		return nil, fmt.Errorf("%w: connection reset", catalog.ErrTransport)
	}
	return []byte(url), nil
}

func (f *fakeRemote) FetchSpecies(ctx context.Context, name string) (pokeapi.Species, error) {
	f.mu.Lock()
	f.speciesCalls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return pokeapi.Species{}, fmt.Errorf("%w: %w", catalog.ErrTransport, err)
	}
	if f.failSpecies != nil {
		return pokeapi.Species{}, f.failSpecies
	}
	return pokeapi.Species{
		Description:  "A strange seed was planted on its back at birth.",
		Genus:        "Seed Pokémon",
		VarietyCount: 1,
	}, nil
}

func (f *fakeRemote) fetchedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.detailCalls...)
	sort.Ints(out)
	return out
}

// failingStore wraps a real store and fails selected operations.
type failingStore struct {
	*storage.Store
	failGet    map[int]bool
	failCreate bool
	failList   bool
	failDetail bool
	failSave   bool
}

var errDisk = errors.New("disk I/O error")

func (s *failingStore) GetItem(ctx context.Context, id int) (storage.ItemRecord, error) {
	if s.failGet[id] {
		return storage.ItemRecord{}, errDisk
	}
	return s.Store.GetItem(ctx, id)
}

func (s *failingStore) CreateItem(ctx context.Context, rec storage.ItemRecord) (bool, error) {
	if s.failCreate {
		return false, errDisk
	}
	return s.Store.CreateItem(ctx, rec)
}

func (s *failingStore) ListItemsPage(ctx context.Context, offset, limit int, order storage.Order) ([]storage.ItemRecord, error) {
	if s.failList {
		return nil, errDisk
	}
	return s.Store.ListItemsPage(ctx, offset, limit, order)
}

func (s *failingStore) GetDetail(ctx context.Context, id int) (storage.DetailRecord, error) {
	if s.failDetail {
		return storage.DetailRecord{}, errDisk
	}
	return s.Store.GetDetail(ctx, id)
}

func (s *failingStore) SaveDetail(ctx context.Context, rec storage.DetailRecord) error {
	if s.failSave {
		return errDisk
	}
	return s.Store.SaveDetail(ctx, rec)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedItems caches items with the given ids, marking them so tests can tell
// cached copies from fresh ones.
func seedItems(t *testing.T, s *storage.Store, ids ...int) {
	t.Helper()
	for _, id := range ids {
		_, err := s.CreateItem(context.Background(), storage.ItemRecord{
			ID:     id,
			Name:   fmt.Sprintf("Cached%d", id),
			Number: catalog.DisplayNumber(id),
			Types:  []string{"Normal"},
		})
		if err != nil {
			t.Fatalf("seeding item %d: %v", id, err)
		}
	}
}

func pageIDs(items []catalog.Item) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
