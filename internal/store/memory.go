package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory store used by tests. It implements every store
// interface with the same observable semantics as Postgres.
type Memory struct {
	mu sync.Mutex

	media   map[string]MediaRecord // key mediaKey(type, tmdbID)
	genres  map[string]GenreRef
	cursors map[string]SyncCursor

	titles     []Title
	ratings    []TitleRating
	akas       []Aka
	principals []Principal

	lists     map[int64]*List
	listItems map[int64][]ListItem
	nextList  int64
}

func NewMemory() *Memory {
	return &Memory{
		media:     make(map[string]MediaRecord),
		genres:    make(map[string]GenreRef),
		cursors:   make(map[string]SyncCursor),
		lists:     make(map[int64]*List),
		listItems: make(map[int64][]ListItem),
		nextList:  1,
	}
}

func mediaKey(mt MediaType, tmdbID int) string {
	return string(mt) + "/" + strconv.Itoa(tmdbID)
}

func (m *Memory) upsertLocked(rec MediaRecord) {
	key := mediaKey(rec.Type, rec.TMDBID)
	if prev, ok := m.media[key]; ok {
		if rec.IMDbID == nil {
			rec.IMDbID = prev.IMDbID
		}
		if rec.TVDBID == nil {
			rec.TVDBID = prev.TVDBID
		}
		if rec.Details == nil {
			rec.Details = prev.Details
		}
		if rec.Overview == nil {
			rec.Overview = prev.Overview
		}
		if rec.PosterPath == nil {
			rec.PosterPath = prev.PosterPath
		}
	}
	rec.UpdatedAt = time.Now()
	m.media[key] = rec
}

func (m *Memory) UpsertMedia(_ context.Context, rec MediaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(rec)
	return nil
}

func (m *Memory) UpsertMediaBatch(_ context.Context, recs []MediaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.upsertLocked(rec)
	}
	return nil
}

func (m *Memory) GetMedia(_ context.Context, mt MediaType, tmdbID int) (*MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.media[mediaKey(mt, tmdbID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) GetMediaByTMDBIDs(_ context.Context, mt MediaType, ids []int) (map[int]MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]MediaRecord, len(ids))
	for _, id := range ids {
		if rec, ok := m.media[mediaKey(mt, id)]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) GetMediaByIMDbIDs(_ context.Context, mt MediaType, imdbIDs []string) (map[string]MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(imdbIDs))
	for _, id := range imdbIDs {
		want[id] = true
	}
	out := make(map[string]MediaRecord)
	for _, rec := range m.media {
		if rec.Type == mt && rec.IMDbID != nil && want[*rec.IMDbID] {
			out[*rec.IMDbID] = rec
		}
	}
	return out, nil
}

func (m *Memory) UpsertGenres(_ context.Context, genres []GenreRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range genres {
		m.genres[strconv.Itoa(g.ID)+"/"+string(g.MediaType)] = g
	}
	return nil
}

func (m *Memory) GetCursor(_ context.Context, category string) (SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.cursors[category]; ok {
		return cur, nil
	}
	cur := SyncCursor{Category: category, Status: SyncInProgress, UpdatedAt: time.Now()}
	m.cursors[category] = cur
	return cur, nil
}

func (m *Memory) UpdateCursor(_ context.Context, category string, lastPage, totalPages int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[category] = SyncCursor{
		Category: category, LastPage: lastPage, TotalPages: totalPages,
		Status: status, UpdatedAt: time.Now(),
	}
	return nil
}

func (m *Memory) ResetCursors(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors = make(map[string]SyncCursor)
	return nil
}

// ── Import store ───────────────────────────────────────────────────────────

func (m *Memory) RecreateTitles(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = nil
	return nil
}

func (m *Memory) InsertTitles(_ context.Context, rows []Title) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, rows...)
	return nil
}

func (m *Memory) IndexTitles(context.Context) error { return nil }

func (m *Memory) RecreateRatings(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings = nil
	return nil
}

func (m *Memory) InsertRatings(_ context.Context, rows []TitleRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings = append(m.ratings, rows...)
	return nil
}

func (m *Memory) IndexRatings(context.Context) error { return nil }

func (m *Memory) RecreateAkas(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.akas = nil
	return nil
}

func (m *Memory) InsertAkas(_ context.Context, rows []Aka) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.akas = append(m.akas, rows...)
	return nil
}

func (m *Memory) IndexAkas(context.Context) error { return nil }

func (m *Memory) RecreatePrincipals(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals = nil
	return nil
}

func (m *Memory) InsertPrincipals(_ context.Context, rows []Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals = append(m.principals, rows...)
	return nil
}

func (m *Memory) IndexPrincipals(context.Context) error { return nil }

// Test accessors. Copies keep callers from mutating internal state.

func (m *Memory) Titles() []Title {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Title(nil), m.titles...)
}

func (m *Memory) Ratings() []TitleRating {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TitleRating(nil), m.ratings...)
}

func (m *Memory) Akas() []Aka {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Aka(nil), m.akas...)
}

func (m *Memory) Principals() []Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Principal(nil), m.principals...)
}

func (m *Memory) MediaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.media)
}

// ── Rating store ───────────────────────────────────────────────────────────

func (m *Memory) QueryRatings(_ context.Context, q RatingQuery) ([]RatedTitle, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []RatedTitle
	for _, r := range m.ratings {
		if ratingMatches(r, q.Filters) {
			matched = append(matched, RatedTitle(r))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch {
		case strings.HasPrefix(q.SortBy, "imdb_rating.asc"):
			return a.AverageRating < b.AverageRating
		case strings.HasPrefix(q.SortBy, "imdb_rating"):
			return a.AverageRating > b.AverageRating
		default:
			return a.NumVotes > b.NumVotes
		}
	})

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func ratingMatches(r TitleRating, filters []FilterCondition) bool {
	for _, f := range filters {
		v, ok := numericValue(f.Value)
		if !ok {
			continue
		}
		switch {
		case f.Field == "imdb_rating" && f.Operator == "gte":
			if r.AverageRating < v {
				return false
			}
		case f.Field == "imdb_rating" && f.Operator == "lte":
			if r.AverageRating > v {
				return false
			}
		case f.Field == "imdb_votes" && f.Operator == "gte":
			if float64(r.NumVotes) < v {
				return false
			}
		}
	}
	return true
}

func (m *Memory) GetRatingsByTconsts(_ context.Context, tconsts []string) (map[string]RatedTitle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(tconsts))
	for _, t := range tconsts {
		want[t] = true
	}
	out := make(map[string]RatedTitle)
	for _, r := range m.ratings {
		if want[r.Tconst] {
			out[r.Tconst] = RatedTitle(r)
		}
	}
	return out, nil
}

// ── List store ─────────────────────────────────────────────────────────────

func (m *Memory) CreateList(_ context.Context, l *List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.nextList
	m.nextList++
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	cp := *l
	m.lists[l.ID] = &cp
	return nil
}

func (m *Memory) GetList(_ context.Context, id int64) (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	cp.ItemCount = len(m.listItems[id])
	return &cp, nil
}

func (m *Memory) GetLists(_ context.Context, mt *MediaType) ([]List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []List
	for _, l := range m.lists {
		if mt != nil && l.MediaType != *mt {
			continue
		}
		cp := *l
		cp.ItemCount = len(m.listItems[l.ID])
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateList(_ context.Context, l *List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.lists[l.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *l
	cp.CreatedAt = prev.CreatedAt
	cp.LastUpdated = prev.LastUpdated
	cp.UpdatedAt = time.Now()
	m.lists[l.ID] = &cp
	return nil
}

func (m *Memory) DeleteList(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[id]; !ok {
		return ErrNotFound
	}
	delete(m.lists, id)
	delete(m.listItems, id)
	return nil
}

func (m *Memory) GetListItems(_ context.Context, listID int64) ([]ListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ListItem(nil), m.listItems[listID]...), nil
}

func (m *Memory) ReplaceListItems(_ context.Context, listID int64, items []ListItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[listID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	stored := make([]ListItem, len(items))
	for i, it := range items {
		it.ListID = listID
		it.Position = i
		it.AddedAt = now
		stored[i] = it
	}
	m.listItems[listID] = stored
	l.LastUpdated = &now
	l.UpdatedAt = now
	return nil
}

func (m *Memory) GetDueLists(_ context.Context, now time.Time) ([]List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []List
	for _, l := range m.lists {
		if !l.AutoUpdate {
			continue
		}
		if l.LastUpdated == nil ||
			l.LastUpdated.Add(time.Duration(l.UpdateIntervalHours)*time.Hour).Before(now) ||
			l.LastUpdated.Add(time.Duration(l.UpdateIntervalHours)*time.Hour).Equal(now) {
			cp := *l
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
