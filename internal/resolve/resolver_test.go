package resolve

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

type fakeTMDB struct {
	mu          sync.Mutex
	find        map[string]tmdb.DiscoverItem // imdb id -> movie result
	findErr     map[string]error
	findCalls   int
	externalIDs map[int]string // tmdb id -> imdb id
}

func (f *fakeTMDB) FindByIMDbID(_ context.Context, imdbID string) (*tmdb.FindResponse, error) {
	f.mu.Lock()
	f.findCalls++
	f.mu.Unlock()
	if err := f.findErr[imdbID]; err != nil {
		return nil, err
	}
	item, ok := f.find[imdbID]
	if !ok {
		return &tmdb.FindResponse{}, nil
	}
	return &tmdb.FindResponse{MovieResults: []tmdb.DiscoverItem{item}}, nil
}

func (f *fakeTMDB) GetExternalIDs(_ context.Context, _ string, id int) (*tmdb.ExternalIDs, error) {
	return &tmdb.ExternalIDs{IMDbID: f.externalIDs[id]}, nil
}

func (f *fakeTMDB) Discover(context.Context, string, int, url.Values) (*tmdb.DiscoverResponse, error) {
	return &tmdb.DiscoverResponse{}, nil
}

func (f *fakeTMDB) GetDetails(context.Context, string, int) (*tmdb.Details, error) {
	return nil, tmdb.ErrNotFound
}

func (f *fakeTMDB) GetGenres(context.Context, string) ([]tmdb.Genre, error) {
	return nil, nil
}

func seedRatings(t *testing.T, mem *store.Memory, rows ...store.TitleRating) {
	t.Helper()
	if err := mem.InsertRatings(context.Background(), rows); err != nil {
		t.Fatalf("seed ratings: %v", err)
	}
}

func seedMedia(t *testing.T, mem *store.Memory, tmdbID int, imdbID string) {
	t.Helper()
	rec := store.MediaRecord{Type: store.MediaMovie, TMDBID: tmdbID, Title: "cached", IMDbID: &imdbID}
	if err := mem.UpsertMedia(context.Background(), rec); err != nil {
		t.Fatalf("seed media: %v", err)
	}
}

func TestDiscoverPreservesRatingOrder(t *testing.T) {
	mem := store.NewMemory()
	// Descending by votes: A, B, C.
	seedRatings(t, mem,
		store.TitleRating{Tconst: "tt0000001", AverageRating: 8.0, NumVotes: 300},
		store.TitleRating{Tconst: "tt0000002", AverageRating: 9.0, NumVotes: 200},
		store.TitleRating{Tconst: "tt0000003", AverageRating: 7.0, NumVotes: 100},
	)
	// A and C are cached, B resolves remotely.
	seedMedia(t, mem, 11, "tt0000001")
	seedMedia(t, mem, 33, "tt0000003")
	provider := &fakeTMDB{find: map[string]tmdb.DiscoverItem{
		"tt0000002": {ID: 22, Title: "Found Remotely"},
	}}
	r := New(provider, mem, mem, zap.NewNop())

	res, err := r.Discover(context.Background(), store.MediaMovie, store.RatingQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 3 {
		t.Fatalf("got total=%d items=%d", res.Total, len(res.Items))
	}
	wantOrder := []int{11, 22, 33}
	for i, item := range res.Items {
		if item.TMDBID != wantOrder[i] {
			t.Fatalf("position %d = tmdb %d, want %d", i, item.TMDBID, wantOrder[i])
		}
	}
	if res.Items[1].IMDbRating == nil || *res.Items[1].IMDbRating != 9.0 {
		t.Fatalf("rating not merged for remote item: %+v", res.Items[1])
	}
}

func TestDiscoverCachesRemoteResolutions(t *testing.T) {
	mem := store.NewMemory()
	seedRatings(t, mem, store.TitleRating{Tconst: "tt0000001", AverageRating: 8.5, NumVotes: 5000})
	provider := &fakeTMDB{find: map[string]tmdb.DiscoverItem{
		"tt0000001": {ID: 42, Title: "Resolved"},
	}}
	r := New(provider, mem, mem, zap.NewNop())

	if _, err := r.Discover(context.Background(), store.MediaMovie, store.RatingQuery{}); err != nil {
		t.Fatalf("first Discover: %v", err)
	}
	rec, err := mem.GetMedia(context.Background(), store.MediaMovie, 42)
	if err != nil {
		t.Fatalf("resolved record not cached: %v", err)
	}
	if rec.IMDbID == nil || *rec.IMDbID != "tt0000001" {
		t.Fatalf("cached record imdb id = %v", rec.IMDbID)
	}

	if _, err := r.Discover(context.Background(), store.MediaMovie, store.RatingQuery{}); err != nil {
		t.Fatalf("second Discover: %v", err)
	}
	if provider.findCalls != 1 {
		t.Fatalf("find called %d times, want 1 (second page served from cache)", provider.findCalls)
	}
}

func TestDiscoverDropsUnresolvable(t *testing.T) {
	mem := store.NewMemory()
	seedRatings(t, mem,
		store.TitleRating{Tconst: "tt0000001", AverageRating: 8.0, NumVotes: 200},
		store.TitleRating{Tconst: "tt0000009", AverageRating: 7.5, NumVotes: 100},
	)
	seedMedia(t, mem, 11, "tt0000001")
	provider := &fakeTMDB{find: map[string]tmdb.DiscoverItem{}}
	r := New(provider, mem, mem, zap.NewNop())

	res, err := r.Discover(context.Background(), store.MediaMovie, store.RatingQuery{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].TMDBID != 11 {
		t.Fatalf("items = %+v", res.Items)
	}
	if res.Total != 2 {
		t.Fatalf("total should count rating rows, got %d", res.Total)
	}
	// Nothing unconfirmed reached the cache.
	if mem.MediaCount() != 1 {
		t.Fatalf("media count = %d, want 1", mem.MediaCount())
	}
}

func TestDiscoverTransientLookupFailureAborts(t *testing.T) {
	mem := store.NewMemory()
	seedRatings(t, mem, store.TitleRating{Tconst: "tt0000001", AverageRating: 8.0, NumVotes: 100})
	provider := &fakeTMDB{findErr: map[string]error{"tt0000001": errors.New("gateway timeout")}}
	r := New(provider, mem, mem, zap.NewNop())

	if _, err := r.Discover(context.Background(), store.MediaMovie, store.RatingQuery{}); err == nil {
		t.Fatalf("expected transient lookup error to surface")
	}
	if mem.MediaCount() != 0 {
		t.Fatalf("failed lookup must not write to the cache")
	}
}

func TestEnrichWithRatings(t *testing.T) {
	mem := store.NewMemory()
	seedRatings(t, mem,
		store.TitleRating{Tconst: "tt0000001", AverageRating: 8.2, NumVotes: 1200},
		store.TitleRating{Tconst: "tt0000002", AverageRating: 6.1, NumVotes: 90},
	)
	known := "tt0000001"
	recs := []store.MediaRecord{
		{Type: store.MediaMovie, TMDBID: 1, Title: "Has ID", IMDbID: &known},
		{Type: store.MediaMovie, TMDBID: 2, Title: "Needs Lookup"},
		{Type: store.MediaMovie, TMDBID: 3, Title: "No Foreign ID"},
	}
	for _, rec := range recs {
		if err := mem.UpsertMedia(context.Background(), rec); err != nil {
			t.Fatalf("seed media: %v", err)
		}
	}
	provider := &fakeTMDB{externalIDs: map[int]string{2: "tt0000002"}}
	r := New(provider, mem, mem, zap.NewNop())

	items, err := r.EnrichWithRatings(context.Background(), store.MediaMovie, recs)
	if err != nil {
		t.Fatalf("EnrichWithRatings: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("enrichment must preserve every input, got %d items", len(items))
	}
	if items[0].IMDbRating == nil || *items[0].IMDbRating != 8.2 {
		t.Fatalf("item 1 rating = %+v", items[0].IMDbRating)
	}
	if items[1].IMDbID == nil || *items[1].IMDbID != "tt0000002" {
		t.Fatalf("item 2 should gain an imdb id, got %+v", items[1].IMDbID)
	}
	if items[1].IMDbVotes == nil || *items[1].IMDbVotes != 90 {
		t.Fatalf("item 2 votes = %+v", items[1].IMDbVotes)
	}
	if items[2].IMDbID != nil || items[2].IMDbRating != nil {
		t.Fatalf("item 3 should pass through unrated: %+v", items[2])
	}

	// The discovered mapping is persisted for the next pass.
	rec, err := mem.GetMedia(context.Background(), store.MediaMovie, 2)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if rec.IMDbID == nil || *rec.IMDbID != "tt0000002" {
		t.Fatalf("mapping not persisted: %+v", rec.IMDbID)
	}
}

func TestEnrichWithRatingsCachesUncachedRecord(t *testing.T) {
	// Interactive discover results reach enrichment before any crawl has
	// cached them; the resolved mapping must be inserted, not just updated.
	mem := store.NewMemory()
	seedRatings(t, mem,
		store.TitleRating{Tconst: "tt0000042", AverageRating: 7.7, NumVotes: 420},
	)
	provider := &fakeTMDB{externalIDs: map[int]string{42: "tt0000042"}}
	r := New(provider, mem, mem, zap.NewNop())

	recs := []store.MediaRecord{{Type: store.MediaMovie, TMDBID: 42, Title: "Fresh Result"}}
	items, err := r.EnrichWithRatings(context.Background(), store.MediaMovie, recs)
	if err != nil {
		t.Fatalf("EnrichWithRatings: %v", err)
	}
	if items[0].IMDbRating == nil || *items[0].IMDbRating != 7.7 {
		t.Fatalf("item rating = %+v", items[0].IMDbRating)
	}

	cached, err := mem.GetMedia(context.Background(), store.MediaMovie, 42)
	if err != nil {
		t.Fatalf("newly discovered mapping was not persisted to the cache: %v", err)
	}
	if cached.IMDbID == nil || *cached.IMDbID != "tt0000042" {
		t.Fatalf("cached record imdb id = %+v", cached.IMDbID)
	}
	if cached.Title != "Fresh Result" {
		t.Fatalf("cached record title = %q", cached.Title)
	}

	// The second pass reads the mapping from the cache.
	if _, err := r.EnrichWithRatings(context.Background(), store.MediaMovie,
		[]store.MediaRecord{*cached}); err != nil {
		t.Fatalf("second enrichment: %v", err)
	}
}
