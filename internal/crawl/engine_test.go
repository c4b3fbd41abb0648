package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

// fakeTMDB serves a deterministic listing: totalPages pages of perPage items,
// item IDs page*100+1 .. page*100+perPage.
type fakeTMDB struct {
	mu            sync.Mutex
	totalPages    int
	perPage       int
	discoverCalls []int
	detailErr     map[int]error
	detailCalls   int
	externalErr   map[int]error
	externalCalls int
}

func newFakeTMDB(totalPages, perPage int) *fakeTMDB {
	return &fakeTMDB{
		totalPages: totalPages, perPage: perPage,
		detailErr: map[int]error{}, externalErr: map[int]error{},
	}
}

func (f *fakeTMDB) Discover(_ context.Context, _ string, page int, _ url.Values) (*tmdb.DiscoverResponse, error) {
	f.mu.Lock()
	f.discoverCalls = append(f.discoverCalls, page)
	f.mu.Unlock()
	if page > f.totalPages {
		return nil, tmdb.ErrNotFound
	}
	items := make([]tmdb.DiscoverItem, 0, f.perPage)
	for i := 1; i <= f.perPage; i++ {
		id := page*100 + i
		items = append(items, tmdb.DiscoverItem{
			ID: id, Title: "Item " + strconv.Itoa(id), VoteAverage: 7, VoteCount: 100, Popularity: 50,
		})
	}
	return &tmdb.DiscoverResponse{Page: page, TotalPages: f.totalPages, Results: items}, nil
}

func (f *fakeTMDB) GetDetails(_ context.Context, _ string, id int) (*tmdb.Details, error) {
	f.mu.Lock()
	f.detailCalls++
	err := f.detailErr[id]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &tmdb.Details{
		ID:          id,
		ExternalIDs: tmdb.ExternalIDs{IMDbID: fmt.Sprintf("tt%07d", id)},
	}, nil
}

func (f *fakeTMDB) GetExternalIDs(_ context.Context, _ string, id int) (*tmdb.ExternalIDs, error) {
	f.mu.Lock()
	f.externalCalls++
	err := f.externalErr[id]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &tmdb.ExternalIDs{IMDbID: fmt.Sprintf("tt%07d", id)}, nil
}

func (f *fakeTMDB) FindByIMDbID(context.Context, string) (*tmdb.FindResponse, error) {
	return &tmdb.FindResponse{}, nil
}

func (f *fakeTMDB) GetGenres(_ context.Context, category string) ([]tmdb.Genre, error) {
	if category == "movie" {
		return []tmdb.Genre{{ID: 28, Name: "Action"}, {ID: 35, Name: "Comedy"}}, nil
	}
	return []tmdb.Genre{{ID: 10765, Name: "Sci-Fi & Fantasy"}}, nil
}

func (f *fakeTMDB) pagesFetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.discoverCalls...)
}

func TestCrawlFullListing(t *testing.T) {
	provider := newFakeTMDB(3, 4)
	mem := store.NewMemory()
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{Light: true, Workers: 2})

	stats, err := eng.Run(context.Background(), store.MediaMovie)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stats.Completed || stats.LastPage != 3 {
		t.Fatalf("stats = %+v, want completed at page 3", stats)
	}
	if mem.MediaCount() != 12 {
		t.Fatalf("media count = %d, want 12", mem.MediaCount())
	}
	cur, err := mem.GetCursor(context.Background(), "movie")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cur.Status != store.SyncCompleted || cur.LastPage != 3 || cur.TotalPages != 3 {
		t.Fatalf("cursor = %+v", cur)
	}
}

func TestCrawlResumesAfterCursor(t *testing.T) {
	provider := newFakeTMDB(10, 2)
	mem := store.NewMemory()
	if err := mem.UpdateCursor(context.Background(), "movie", 7, 10, store.SyncInProgress); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{Light: true})

	stats, err := eng.Run(context.Background(), store.MediaMovie)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, page := range provider.pagesFetched() {
		if page <= 7 {
			t.Fatalf("page %d was refetched below the cursor", page)
		}
	}
	if stats.Pages != 3 || !stats.Completed {
		t.Fatalf("stats = %+v, want 3 pages and completion", stats)
	}
}

func TestCrawlCompletedCursorIsNoop(t *testing.T) {
	provider := newFakeTMDB(5, 2)
	mem := store.NewMemory()
	if err := mem.UpdateCursor(context.Background(), "tv", 5, 5, store.SyncCompleted); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{Light: true})

	stats, err := eng.Run(context.Background(), store.MediaTV)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(provider.pagesFetched()) != 0 {
		t.Fatalf("completed crawl should not hit the API, fetched %v", provider.pagesFetched())
	}
	if !stats.Completed {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCrawlMaxPagesCap(t *testing.T) {
	provider := newFakeTMDB(100, 2)
	mem := store.NewMemory()
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{Light: true, MaxPages: 4})

	stats, err := eng.Run(context.Background(), store.MediaMovie)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Pages != 4 || stats.Completed {
		t.Fatalf("stats = %+v, want 4 pages and no completion", stats)
	}
	cur, _ := mem.GetCursor(context.Background(), "movie")
	if cur.LastPage != 4 || cur.Status != store.SyncInProgress {
		t.Fatalf("cursor = %+v, want in_progress at page 4", cur)
	}
}

func TestCrawlEnrichmentOutcomes(t *testing.T) {
	provider := newFakeTMDB(1, 3)
	// Item 101 enriches, 102 is gone upstream, 103 fails transiently.
	provider.detailErr[102] = tmdb.ErrNotFound
	provider.detailErr[103] = errors.New("upstream 500")
	mem := store.NewMemory()
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{})

	stats, err := eng.Run(context.Background(), store.MediaMovie)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Items != 2 || stats.ItemsFailed != 1 {
		t.Fatalf("stats = %+v, want 2 stored and 1 failed", stats)
	}

	enriched, err := mem.GetMedia(context.Background(), store.MediaMovie, 101)
	if err != nil {
		t.Fatalf("GetMedia 101: %v", err)
	}
	if enriched.IMDbID == nil || *enriched.IMDbID != "tt0000101" {
		t.Fatalf("item 101 imdb id = %v", enriched.IMDbID)
	}

	light, err := mem.GetMedia(context.Background(), store.MediaMovie, 102)
	if err != nil {
		t.Fatalf("GetMedia 102: %v", err)
	}
	if light.IMDbID != nil {
		t.Fatalf("gone item should stay unenriched, got %v", *light.IMDbID)
	}

	if _, err := mem.GetMedia(context.Background(), store.MediaMovie, 103); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("transiently failed item must not be cached, err = %v", err)
	}
}

func TestLightCrawlStoresExternalIDs(t *testing.T) {
	provider := newFakeTMDB(1, 3)
	// Item 103's id lookup fails transiently; 101 and 102 resolve.
	provider.externalErr[103] = errors.New("upstream 500")
	mem := store.NewMemory()
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{Light: true})

	stats, err := eng.Run(context.Background(), store.MediaMovie)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Items != 2 || stats.ItemsFailed != 1 {
		t.Fatalf("stats = %+v, want 2 stored and 1 failed", stats)
	}
	if provider.detailCalls != 0 {
		t.Fatalf("light mode fetched details %d times", provider.detailCalls)
	}
	for _, id := range []int{101, 102} {
		rec, err := mem.GetMedia(context.Background(), store.MediaMovie, id)
		if err != nil {
			t.Fatalf("GetMedia %d: %v", id, err)
		}
		if rec.IMDbID == nil {
			t.Fatalf("light crawl left media %d without its imdb join key", id)
		}
		if want := fmt.Sprintf("tt%07d", id); *rec.IMDbID != want {
			t.Fatalf("media %d imdb id = %q, want %q", id, *rec.IMDbID, want)
		}
	}
	if _, err := mem.GetMedia(context.Background(), store.MediaMovie, 103); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("item with failed id lookup must not be cached, err = %v", err)
	}
}

// flakyMedia fails the first batch containing a marked TMDB id, simulating a
// crash while a later page is in flight.
type flakyMedia struct {
	*store.Memory
	mu   sync.Mutex
	fail map[int]bool
}

func (f *flakyMedia) UpsertMediaBatch(ctx context.Context, recs []store.MediaRecord) error {
	f.mu.Lock()
	for _, rec := range recs {
		if f.fail[rec.TMDBID] {
			delete(f.fail, rec.TMDBID)
			f.mu.Unlock()
			return errors.New("write failed")
		}
	}
	f.mu.Unlock()
	return f.Memory.UpsertMediaBatch(ctx, recs)
}

func TestCrawlCheckpointNeverCoversFailedPage(t *testing.T) {
	provider := newFakeTMDB(10, 2)
	mem := store.NewMemory()
	flaky := &flakyMedia{Memory: mem, fail: map[int]bool{801: true}} // page 8
	eng := New(provider, flaky, mem, nil, zap.NewNop(), Config{Light: true, Workers: 3, CheckpointEvery: 1})

	if _, err := eng.Run(context.Background(), store.MediaMovie); err == nil {
		t.Fatalf("expected error from failed page write")
	}
	cur, _ := mem.GetCursor(context.Background(), "movie")
	if cur.LastPage >= 8 {
		t.Fatalf("checkpoint %d covers the failed page 8", cur.LastPage)
	}
	if cur.Status != store.SyncInProgress {
		t.Fatalf("cursor status = %q", cur.Status)
	}

	// A second run picks up at the first unstored page and finishes.
	stats, err := eng.Run(context.Background(), store.MediaMovie)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if !stats.Completed {
		t.Fatalf("resume stats = %+v", stats)
	}
	if _, err := mem.GetMedia(context.Background(), store.MediaMovie, 801); err != nil {
		t.Fatalf("page 8 item missing after resume: %v", err)
	}
}

func TestRunBatchRange(t *testing.T) {
	provider := newFakeTMDB(5, 2)
	mem := store.NewMemory()
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{Light: true, Workers: 2})

	stats, err := eng.RunBatch(context.Background(), store.MediaTV, 2, 4)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if stats.Pages != 3 || stats.Items != 6 {
		t.Fatalf("stats = %+v, want 3 pages / 6 items", stats)
	}
	cur, _ := mem.GetCursor(context.Background(), "tv")
	if cur.LastPage != 4 || cur.Status != store.SyncInProgress {
		t.Fatalf("cursor = %+v", cur)
	}
	rec, err := mem.GetMedia(context.Background(), store.MediaTV, 201)
	if err != nil {
		t.Fatalf("GetMedia 201: %v", err)
	}
	if rec.IMDbID == nil || *rec.IMDbID != "tt0000201" {
		t.Fatalf("light batch left media 201 without its imdb join key: %v", rec.IMDbID)
	}

	if _, err := eng.RunBatch(context.Background(), store.MediaTV, 4, 2); err == nil {
		t.Fatalf("inverted range should error")
	}
}

func TestSyncGenres(t *testing.T) {
	provider := newFakeTMDB(1, 1)
	mem := store.NewMemory()
	eng := New(provider, mem, mem, nil, zap.NewNop(), Config{})

	if err := eng.SyncGenres(context.Background()); err != nil {
		t.Fatalf("SyncGenres: %v", err)
	}
}
