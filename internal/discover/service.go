package discover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/resolve"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

const (
	defaultSort  = "popularity.desc"
	defaultLimit = 20
)

// ErrBadQuery marks client-side query problems: unknown media type or a
// filter set that cannot be translated.
var ErrBadQuery = errors.New("bad discover query")

// Query is one discovery request, interactive or list-driven.
type Query struct {
	MediaType store.MediaType
	Filters   []store.FilterCondition
	Operator  store.FilterOperator
	SortBy    string
	Page      int
	Limit     int
	// Enrich attaches IMDb ids and ratings to remote results. It is implied
	// whenever a local rating condition is present.
	Enrich bool
}

// Page is one merged result page.
type Page struct {
	Items []store.ListItem
	Total int
}

// Service executes discovery queries. Remote-only filters go straight to the
// discover endpoint; filters on locally stored ratings route through the
// resolver, which works from the rating tables outward.
type Service struct {
	tmdb     tmdb.Provider
	resolver *resolve.Resolver
	log      *zap.Logger
}

func NewService(provider tmdb.Provider, resolver *resolve.Resolver, log *zap.Logger) *Service {
	return &Service{tmdb: provider, resolver: resolver, log: log}
}

func (s *Service) Run(ctx context.Context, q Query) (*Page, error) {
	if !q.MediaType.Valid() {
		return nil, fmt.Errorf("%w: invalid media type %q", ErrBadQuery, q.MediaType)
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.SortBy == "" {
		q.SortBy = defaultSort
	}

	tr, err := Translate(q.MediaType, q.Filters, q.Operator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	if tr.LocalOnly() {
		res, err := s.resolver.Discover(ctx, q.MediaType, store.RatingQuery{
			Filters: tr.Local, SortBy: q.SortBy, Page: q.Page, Limit: q.Limit,
		})
		if err != nil {
			return nil, err
		}
		return &Page{Items: res.Items, Total: res.Total}, nil
	}
	return s.runRemote(ctx, q, tr)
}

// runRemote queries every fan-out combination, merges the pages with
// first-seen dedupe on TMDB id, re-sorts the union, and trims to the limit.
func (s *Service) runRemote(ctx context.Context, q Query, tr Translation) (*Page, error) {
	category := string(q.MediaType)
	seen := make(map[int]bool)
	var merged []tmdb.DiscoverItem
	total := 0
	for _, params := range tr.Remote {
		params.Set("sort_by", q.SortBy)
		resp, err := s.tmdb.Discover(ctx, category, q.Page, params)
		if err != nil {
			return nil, err
		}
		if resp.TotalResults > total {
			total = resp.TotalResults
		}
		for _, item := range resp.Results {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			merged = append(merged, item)
		}
	}

	records := make([]store.MediaRecord, 0, len(merged))
	for _, item := range merged {
		records = append(records, recordFromItem(q.MediaType, item))
	}

	if q.Enrich || len(tr.Local) > 0 {
		enriched, err := s.resolver.EnrichWithRatings(ctx, q.MediaType, records)
		if err != nil {
			return nil, err
		}
		enriched = filterLocal(enriched, tr.Local)
		sortItems(enriched, q.SortBy)
		if len(enriched) > q.Limit {
			enriched = enriched[:q.Limit]
		}
		return &Page{Items: enriched, Total: total}, nil
	}
	items := make([]store.ListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, listItem(rec))
	}
	sortItems(items, q.SortBy)
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return &Page{Items: items, Total: total}, nil
}

// filterLocal applies rating conditions that the remote API cannot express.
// An item with no rating fails every threshold.
func filterLocal(items []store.ListItem, conds []store.FilterCondition) []store.ListItem {
	if len(conds) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if localMatch(item, conds) {
			out = append(out, item)
		}
	}
	return out
}

func localMatch(item store.ListItem, conds []store.FilterCondition) bool {
	for _, c := range conds {
		threshold, ok := numeric(c.Value)
		if !ok {
			continue
		}
		var have *float64
		switch c.Field {
		case "imdb_rating":
			have = item.IMDbRating
		case "imdb_votes":
			if item.IMDbVotes != nil {
				v := float64(*item.IMDbVotes)
				have = &v
			}
		}
		if have == nil {
			return false
		}
		switch c.Operator {
		case "gte":
			if *have < threshold {
				return false
			}
		case "lte":
			if *have > threshold {
				return false
			}
		}
	}
	return true
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// sortItems orders a merged union the way a single remote page would have
// been ordered. Items missing the sort key sink to the end.
func sortItems(items []store.ListItem, sortBy string) {
	key, dir, _ := strings.Cut(sortBy, ".")
	asc := dir == "asc"
	val := func(it store.ListItem) (float64, bool) {
		switch key {
		case "vote_average":
			if it.VoteAverage != nil {
				return *it.VoteAverage, true
			}
		case "imdb_rating":
			if it.IMDbRating != nil {
				return *it.IMDbRating, true
			}
		case "vote_count":
			if it.VoteCount != nil {
				return float64(*it.VoteCount), true
			}
		default:
			if it.Popularity != nil {
				return *it.Popularity, true
			}
		}
		return 0, false
	}
	if key == "release_date" || key == "first_air_date" {
		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i].ReleaseDate, items[j].ReleaseDate
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			if asc {
				return *a < *b
			}
			return *a > *b
		})
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := val(items[i])
		b, bok := val(items[j])
		if aok != bok {
			return aok
		}
		if asc {
			return a < b
		}
		return a > b
	})
}

func recordFromItem(mt store.MediaType, item tmdb.DiscoverItem) store.MediaRecord {
	rec := store.MediaRecord{Type: mt, TMDBID: item.ID, Title: item.BestTitle()}
	if v := item.BestDate(); v != "" {
		rec.ReleaseDate = &v
	}
	if v := item.BestOriginalTitle(); v != "" {
		rec.OriginalTitle = &v
	}
	if item.Overview != "" {
		rec.Overview = &item.Overview
	}
	if item.PosterPath != "" {
		rec.PosterPath = &item.PosterPath
	}
	if item.BackdropPath != "" {
		rec.BackdropPath = &item.BackdropPath
	}
	rec.VoteAverage = &item.VoteAverage
	rec.VoteCount = &item.VoteCount
	rec.Popularity = &item.Popularity
	return rec
}

func listItem(rec store.MediaRecord) store.ListItem {
	return store.ListItem{
		TMDBID:      rec.TMDBID,
		IMDbID:      rec.IMDbID,
		MediaType:   rec.Type,
		Title:       rec.Title,
		PosterPath:  rec.PosterPath,
		Overview:    rec.Overview,
		ReleaseDate: rec.ReleaseDate,
		VoteAverage: rec.VoteAverage,
		VoteCount:   rec.VoteCount,
		Popularity:  rec.Popularity,
	}
}
