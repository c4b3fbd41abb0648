package discover

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/resolve"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

// fakeTMDB answers discover calls from a per-region fixture and remembers
// every parameter set it saw.
type fakeTMDB struct {
	mu        sync.Mutex
	byRegion  map[string][]tmdb.DiscoverItem
	requests  []url.Values
	externals map[int]string
}

func (f *fakeTMDB) Discover(_ context.Context, _ string, _ int, params url.Values) (*tmdb.DiscoverResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, params)
	f.mu.Unlock()
	items := f.byRegion[params.Get("watch_region")]
	return &tmdb.DiscoverResponse{Page: 1, TotalPages: 1, TotalResults: len(items), Results: items}, nil
}

func (f *fakeTMDB) GetExternalIDs(_ context.Context, _ string, id int) (*tmdb.ExternalIDs, error) {
	return &tmdb.ExternalIDs{IMDbID: f.externals[id]}, nil
}

func (f *fakeTMDB) GetDetails(context.Context, string, int) (*tmdb.Details, error) {
	return nil, tmdb.ErrNotFound
}

func (f *fakeTMDB) FindByIMDbID(context.Context, string) (*tmdb.FindResponse, error) {
	return &tmdb.FindResponse{}, nil
}

func (f *fakeTMDB) GetGenres(context.Context, string) ([]tmdb.Genre, error) {
	return nil, nil
}

func newService(provider *fakeTMDB, mem *store.Memory) *Service {
	r := resolve.New(provider, mem, mem, zap.NewNop())
	return NewService(provider, r, zap.NewNop())
}

func item(id int, popularity float64) tmdb.DiscoverItem {
	return tmdb.DiscoverItem{ID: id, Title: "t", Popularity: popularity, VoteAverage: 7, VoteCount: 100}
}

func TestRunFanOutDedupesAndMerges(t *testing.T) {
	provider := &fakeTMDB{byRegion: map[string][]tmdb.DiscoverItem{
		"US": {item(1, 90), item(2, 80)},
		"GB": {item(1, 90), item(3, 70)},
	}}
	svc := newService(provider, store.NewMemory())

	page, err := svc.Run(context.Background(), Query{
		MediaType: store.MediaMovie,
		Filters: []store.FilterCondition{
			cond("watch_region", "eq", []any{"US", "GB"}),
		},
		Operator: store.FilterAnd,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("fan-out issued %d requests, want exactly 2", len(provider.requests))
	}
	if len(page.Items) != 3 {
		t.Fatalf("merged items = %d, want 3 after dedupe", len(page.Items))
	}
	seen := map[int]bool{}
	for _, it := range page.Items {
		if seen[it.TMDBID] {
			t.Fatalf("duplicate tmdb id %d in merged page", it.TMDBID)
		}
		seen[it.TMDBID] = true
	}
	// Re-sorted by popularity regardless of fetch interleaving.
	if page.Items[0].TMDBID != 1 || page.Items[2].TMDBID != 3 {
		t.Fatalf("merge order wrong: %v", []int{page.Items[0].TMDBID, page.Items[1].TMDBID, page.Items[2].TMDBID})
	}
}

func TestRunLocalOnlyRoutesThroughRatings(t *testing.T) {
	mem := store.NewMemory()
	if err := mem.InsertRatings(context.Background(), []store.TitleRating{
		{Tconst: "tt0000001", AverageRating: 8.4, NumVotes: 900},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	imdbID := "tt0000001"
	if err := mem.UpsertMedia(context.Background(), store.MediaRecord{
		Type: store.MediaMovie, TMDBID: 7, Title: "Local Hit", IMDbID: &imdbID,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	provider := &fakeTMDB{}
	svc := newService(provider, mem)

	page, err := svc.Run(context.Background(), Query{
		MediaType: store.MediaMovie,
		Filters:   []store.FilterCondition{cond("imdb_rating", "gte", 8.0)},
		Operator:  store.FilterAnd,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(provider.requests) != 0 {
		t.Fatalf("local-only query must not call discover, saw %d requests", len(provider.requests))
	}
	if len(page.Items) != 1 || page.Items[0].TMDBID != 7 {
		t.Fatalf("items = %+v", page.Items)
	}
	if page.Items[0].IMDbRating == nil || *page.Items[0].IMDbRating != 8.4 {
		t.Fatalf("rating missing: %+v", page.Items[0])
	}
}

func TestRunMixedFiltersPostFilterOnRatings(t *testing.T) {
	mem := store.NewMemory()
	if err := mem.InsertRatings(context.Background(), []store.TitleRating{
		{Tconst: "tt0000001", AverageRating: 8.8, NumVotes: 5000},
		{Tconst: "tt0000002", AverageRating: 5.1, NumVotes: 300},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	provider := &fakeTMDB{
		byRegion:  map[string][]tmdb.DiscoverItem{"": {item(1, 90), item(2, 80), item(3, 70)}},
		externals: map[int]string{1: "tt0000001", 2: "tt0000002"},
	}
	svc := newService(provider, mem)

	page, err := svc.Run(context.Background(), Query{
		MediaType: store.MediaMovie,
		Filters: []store.FilterCondition{
			cond("genres", "eq", "18"),
			cond("imdb_rating", "gte", 8.0),
		},
		Operator: store.FilterAnd,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Item 2 rates below the threshold, item 3 has no rating at all.
	if len(page.Items) != 1 || page.Items[0].TMDBID != 1 {
		t.Fatalf("post-filter kept %+v", page.Items)
	}
}

func TestRunTrimsToLimit(t *testing.T) {
	many := make([]tmdb.DiscoverItem, 0, 30)
	for i := 1; i <= 30; i++ {
		many = append(many, item(i, float64(100-i)))
	}
	provider := &fakeTMDB{byRegion: map[string][]tmdb.DiscoverItem{"": many}}
	svc := newService(provider, store.NewMemory())

	page, err := svc.Run(context.Background(), Query{
		MediaType: store.MediaMovie,
		Filters:   []store.FilterCondition{cond("genres", "eq", "28")},
		Operator:  store.FilterAnd,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(page.Items) != defaultLimit {
		t.Fatalf("page size = %d, want %d", len(page.Items), defaultLimit)
	}
	if page.Items[0].TMDBID != 1 {
		t.Fatalf("highest popularity should rank first, got %d", page.Items[0].TMDBID)
	}
}

func TestRunRejectsInvalidMediaType(t *testing.T) {
	svc := newService(&fakeTMDB{}, store.NewMemory())
	if _, err := svc.Run(context.Background(), Query{MediaType: "book"}); err == nil {
		t.Fatalf("invalid media type should error")
	}
}
