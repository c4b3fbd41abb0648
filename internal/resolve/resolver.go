// Package resolve joins the two identifier spaces. Rating-driven discovery
// starts from locally stored IMDb identifiers and resolves them to TMDB
// records; enrichment goes the other way, attaching IMDb ids and ratings to
// records that arrived through the TMDB crawl.
package resolve

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/media-curator/internal/platform/metrics"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

const defaultLookupConcurrency = 8

// Resolver maps identifiers across sources using the media cache first and
// the remote find endpoint for misses. Only confirmed mappings are written
// back to the cache; a transient lookup failure leaves no trace.
type Resolver struct {
	tmdb        tmdb.Provider
	media       store.MediaStore
	ratings     store.RatingStore
	log         *zap.Logger
	concurrency int64
}

func New(provider tmdb.Provider, media store.MediaStore, ratings store.RatingStore, log *zap.Logger) *Resolver {
	return &Resolver{
		tmdb:        provider,
		media:       media,
		ratings:     ratings,
		log:         log,
		concurrency: defaultLookupConcurrency,
	}
}

// Result is one rating-driven discovery page.
type Result struct {
	Items []store.ListItem
	// Total counts rating rows matching the query, before resolution. Items
	// can be shorter when some identifiers resolve to nothing.
	Total int
}

// Discover answers a rating-driven query: the local rating table supplies an
// ordered page of IMDb identifiers, each resolved to a TMDB record via the
// cache or a remote lookup. The rating table's order is preserved exactly;
// identifiers that resolve nowhere are dropped without disturbing it.
func (r *Resolver) Discover(ctx context.Context, mt store.MediaType, q store.RatingQuery) (*Result, error) {
	rated, total, err := r.ratings.QueryRatings(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rated) == 0 {
		return &Result{Total: total}, nil
	}

	tconsts := make([]string, len(rated))
	for i, rt := range rated {
		tconsts[i] = rt.Tconst
	}
	cached, err := r.media.GetMediaByIMDbIDs(ctx, mt, tconsts)
	if err != nil {
		return nil, err
	}
	for range cached {
		metrics.ResolveLookups.WithLabelValues("cache", "hit").Inc()
	}

	var missing []string
	for _, tc := range tconsts {
		if _, ok := cached[tc]; !ok {
			missing = append(missing, tc)
		}
	}
	found, err := r.lookupMissing(ctx, mt, missing)
	if err != nil {
		return nil, err
	}

	items := make([]store.ListItem, 0, len(rated))
	for _, rt := range rated {
		rec, ok := cached[rt.Tconst]
		if !ok {
			rec, ok = found[rt.Tconst]
		}
		if !ok {
			continue
		}
		item := itemFromRecord(rec)
		rating := rt.AverageRating
		votes := rt.NumVotes
		item.IMDbRating = &rating
		item.IMDbVotes = &votes
		items = append(items, item)
	}
	return &Result{Items: items, Total: total}, nil
}

// lookupMissing resolves uncached identifiers concurrently. Not-found is
// final for this call and silently dropped; any transient error aborts the
// whole lookup so a flaky upstream cannot thin out results unnoticed.
func (r *Resolver) lookupMissing(ctx context.Context, mt store.MediaType, missing []string) (map[string]store.MediaRecord, error) {
	found := make(map[string]store.MediaRecord, len(missing))
	if len(missing) == 0 {
		return found, nil
	}

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	sem := semaphore.NewWeighted(r.concurrency)
	for _, tc := range missing {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			resp, err := r.tmdb.FindByIMDbID(ctx, tc)
			if err != nil {
				if errors.Is(err, tmdb.ErrNotFound) {
					metrics.ResolveLookups.WithLabelValues("remote", "not_found").Inc()
					return
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				metrics.ResolveLookups.WithLabelValues("remote", "error").Inc()
				return
			}
			item, ok := pickFindResult(mt, resp)
			if !ok {
				metrics.ResolveLookups.WithLabelValues("remote", "not_found").Inc()
				return
			}
			rec := recordFromFind(mt, tc, item)
			mu.Lock()
			found[tc] = rec
			mu.Unlock()
			metrics.ResolveLookups.WithLabelValues("remote", "hit").Inc()
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	if len(found) > 0 {
		recs := make([]store.MediaRecord, 0, len(found))
		for _, rec := range found {
			recs = append(recs, rec)
		}
		if err := r.media.UpsertMediaBatch(ctx, recs); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// EnrichWithRatings walks the opposite direction: records already in the
// cache get their IMDb id resolved remotely when absent, then local ratings
// merged in. Records that still lack an id after lookup pass through
// unrated; input order is preserved.
func (r *Resolver) EnrichWithRatings(ctx context.Context, mt store.MediaType, recs []store.MediaRecord) ([]store.ListItem, error) {
	type slot struct {
		rec    store.MediaRecord
		imdbID string
	}
	slots := make([]slot, len(recs))
	for i, rec := range recs {
		slots[i] = slot{rec: rec}
		if rec.IMDbID != nil {
			slots[i].imdbID = *rec.IMDbID
		}
	}

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	sem := semaphore.NewWeighted(r.concurrency)
	for i := range slots {
		if slots[i].imdbID != "" {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			ids, err := r.tmdb.GetExternalIDs(ctx, string(mt), slots[i].rec.TMDBID)
			if err != nil {
				if errors.Is(err, tmdb.ErrNotFound) {
					return
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if ids.IMDbID == "" {
				return
			}
			mu.Lock()
			slots[i].imdbID = ids.IMDbID
			mu.Unlock()
			// Upsert rather than update: interactive results are often not
			// in the cache yet, and the mapping must survive for the next
			// refresh either way.
			cached := slots[i].rec
			id := ids.IMDbID
			cached.IMDbID = &id
			if err := r.media.UpsertMedia(ctx, cached); err != nil {
				r.log.Warn("caching imdb mapping failed",
					zap.Int("tmdb_id", cached.TMDBID), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	var tconsts []string
	for i := range slots {
		if slots[i].imdbID != "" {
			tconsts = append(tconsts, slots[i].imdbID)
		}
	}
	rated, err := r.ratings.GetRatingsByTconsts(ctx, tconsts)
	if err != nil {
		return nil, err
	}

	items := make([]store.ListItem, 0, len(slots))
	for i := range slots {
		item := itemFromRecord(slots[i].rec)
		if slots[i].imdbID != "" {
			id := slots[i].imdbID
			item.IMDbID = &id
			if rt, ok := rated[id]; ok {
				rating := rt.AverageRating
				votes := rt.NumVotes
				item.IMDbRating = &rating
				item.IMDbVotes = &votes
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func pickFindResult(mt store.MediaType, resp *tmdb.FindResponse) (tmdb.DiscoverItem, bool) {
	var results []tmdb.DiscoverItem
	if mt == store.MediaMovie {
		results = resp.MovieResults
	} else {
		results = resp.TVResults
	}
	if len(results) == 0 {
		return tmdb.DiscoverItem{}, false
	}
	return results[0], true
}

func recordFromFind(mt store.MediaType, imdbID string, item tmdb.DiscoverItem) store.MediaRecord {
	rec := store.MediaRecord{
		Type:   mt,
		TMDBID: item.ID,
		IMDbID: &imdbID,
		Title:  item.BestTitle(),
	}
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

func itemFromRecord(rec store.MediaRecord) store.ListItem {
	return store.ListItem{
		TMDBID:      rec.TMDBID,
		IMDbID:      rec.IMDbID,
		TVDBID:      rec.TVDBID,
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
