package lists

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/discover"
	"github.com/example/media-curator/internal/resolve"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

type fakeTMDB struct {
	items []tmdb.DiscoverItem
}

func (f *fakeTMDB) Discover(context.Context, string, int, url.Values) (*tmdb.DiscoverResponse, error) {
	return &tmdb.DiscoverResponse{Page: 1, TotalPages: 1, TotalResults: len(f.items), Results: f.items}, nil
}

func (f *fakeTMDB) GetDetails(context.Context, string, int) (*tmdb.Details, error) {
	return nil, tmdb.ErrNotFound
}

func (f *fakeTMDB) GetExternalIDs(context.Context, string, int) (*tmdb.ExternalIDs, error) {
	return &tmdb.ExternalIDs{}, nil
}

func (f *fakeTMDB) FindByIMDbID(context.Context, string) (*tmdb.FindResponse, error) {
	return &tmdb.FindResponse{}, nil
}

func (f *fakeTMDB) GetGenres(context.Context, string) ([]tmdb.Genre, error) {
	return nil, nil
}

func newTestService(provider *fakeTMDB, mem *store.Memory) *Service {
	r := resolve.New(provider, mem, mem, zap.NewNop())
	d := discover.NewService(provider, r, zap.NewNop())
	return NewService(mem, d, nil, zap.NewNop())
}

func genreList(name string) *store.List {
	return &store.List{
		Name:      name,
		MediaType: store.MediaMovie,
		Filters: []store.FilterCondition{
			{Field: "genres", Operator: "eq", Value: "28"},
		},
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc := newTestService(&fakeTMDB{}, store.NewMemory())
	l := genreList("Action")

	if err := svc.Create(context.Background(), l); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.ID == 0 {
		t.Fatalf("id not assigned")
	}
	if l.SortBy != "popularity.desc" || l.ItemLimit != 20 || l.UpdateIntervalHours != 24 {
		t.Fatalf("defaults not applied: %+v", l)
	}
	if l.FilterOperator != store.FilterAnd {
		t.Fatalf("operator default = %q", l.FilterOperator)
	}
}

func TestCreateRejectsInvalidDefinitions(t *testing.T) {
	svc := newTestService(&fakeTMDB{}, store.NewMemory())

	cases := []*store.List{
		{Name: "", MediaType: store.MediaMovie},
		{Name: "x", MediaType: "book"},
		{Name: "x", MediaType: store.MediaMovie, FilterOperator: "xor"},
		{Name: "x", MediaType: store.MediaMovie, Filters: []store.FilterCondition{
			{Field: "no_such_field", Operator: "eq", Value: "1"},
		}},
	}
	for i, l := range cases {
		if err := svc.Create(context.Background(), l); !errors.Is(err, ErrInvalidList) {
			t.Fatalf("case %d: err = %v, want ErrInvalidList", i, err)
		}
	}
}

func TestRefreshReplacesItems(t *testing.T) {
	mem := store.NewMemory()
	provider := &fakeTMDB{items: []tmdb.DiscoverItem{
		{ID: 1, Title: "First", Popularity: 90},
		{ID: 2, Title: "Second", Popularity: 80},
	}}
	svc := newTestService(provider, mem)

	l := genreList("Action")
	if err := svc.Create(context.Background(), l); err != nil {
		t.Fatalf("Create: %v", err)
	}
	count, err := svc.Refresh(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d", count)
	}

	got, err := svc.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastUpdated == nil {
		t.Fatalf("last_updated not set after refresh")
	}

	// Shrinking upstream results must shrink the list, not append.
	provider.items = provider.items[:1]
	if _, err := svc.Refresh(context.Background(), l.ID); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	items, err := svc.Items(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 1 || items[0].TMDBID != 1 {
		t.Fatalf("items after shrink = %+v", items)
	}
	if items[0].Position != 0 {
		t.Fatalf("positions not rewritten: %+v", items[0])
	}
}

func TestRefreshUnknownList(t *testing.T) {
	svc := newTestService(&fakeTMDB{}, store.NewMemory())
	if _, err := svc.Refresh(context.Background(), 404); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type fakeEnqueuer struct {
	ids []int64
}

func (f *fakeEnqueuer) EnqueueRefresh(_ context.Context, listID int64) error {
	f.ids = append(f.ids, listID)
	return nil
}

func TestSchedulerEnqueuesOnlyDueLists(t *testing.T) {
	mem := store.NewMemory()
	svc := newTestService(&fakeTMDB{}, mem)

	due := genreList("due")
	due.AutoUpdate = true
	due.UpdateIntervalHours = 1
	if err := svc.Create(context.Background(), due); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fresh := genreList("fresh")
	fresh.AutoUpdate = true
	fresh.UpdateIntervalHours = 1
	if err := svc.Create(context.Background(), fresh); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mem.ReplaceListItems(context.Background(), fresh.ID, nil); err != nil {
		t.Fatalf("touch fresh list: %v", err)
	}

	manual := genreList("manual")
	if err := svc.Create(context.Background(), manual); err != nil {
		t.Fatalf("Create: %v", err)
	}

	enq := &fakeEnqueuer{}
	sched := NewScheduler(svc, enq, time.Minute, zap.NewNop())
	sched.tick(context.Background(), time.Now())

	if len(enq.ids) != 1 || enq.ids[0] != due.ID {
		t.Fatalf("enqueued %v, want only list %d", enq.ids, due.ID)
	}
}
