// Package crawl walks the TMDB discover listing page by page and materializes
// every item into the media cache. Page discovery is sequential so the remote
// pagination stays coherent; item enrichment fans out across a worker pool
// behind a bounded queue. Progress is checkpointed as a contiguous page
// watermark, so a resumed crawl restarts at the first page that is not known
// to be fully stored.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/analytics"
	"github.com/example/media-curator/internal/platform/metrics"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

const (
	defaultWorkers         = 4
	defaultQueueSize       = 8
	defaultCheckpointEvery = 5
)

// Config tunes one crawl run.
type Config struct {
	Workers         int
	QueueSize       int
	CheckpointEvery int
	// Light skips per-item detail enrichment and stores discover payloads
	// only. External ids stay unresolved until a later enrichment pass.
	Light bool
	// MaxPages caps the number of pages fetched this run. Zero means crawl
	// to the listing's final page.
	MaxPages int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}
}

// Stats summarizes one crawl run.
type Stats struct {
	Pages       int
	Items       int
	ItemsFailed int
	LastPage    int
	TotalPages  int
	Completed   bool
}

// Engine crawls one TMDB category.
type Engine struct {
	tmdb    tmdb.Provider
	media   store.MediaStore
	cursors store.CursorStore
	events  *analytics.Publisher
	log     *zap.Logger
	cfg     Config
}

func New(provider tmdb.Provider, media store.MediaStore, cursors store.CursorStore,
	events *analytics.Publisher, log *zap.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		tmdb:    provider,
		media:   media,
		cursors: cursors,
		events:  events,
		log:     log,
		cfg:     cfg,
	}
}

type pageJob struct {
	page       int
	totalPages int
	items      []tmdb.DiscoverItem
}

type pageResult struct {
	page       int
	totalPages int
	items      int
	failed     int
}

// Run resumes the crawl for one media type from its stored cursor. Progress
// survives cancellation: the watermark checkpoint written on exit covers only
// pages whose items are fully upserted.
func (e *Engine) Run(ctx context.Context, mt store.MediaType) (Stats, error) {
	category := string(mt)
	cur, err := e.cursors.GetCursor(ctx, category)
	if err != nil {
		return Stats{}, err
	}
	start := cur.LastPage + 1
	if cur.Status == store.SyncCompleted && cur.TotalPages > 0 && cur.LastPage >= cur.TotalPages {
		e.log.Info("crawl already completed", zap.String("category", category),
			zap.Int("pages", cur.TotalPages))
		return Stats{LastPage: cur.LastPage, TotalPages: cur.TotalPages, Completed: true}, nil
	}
	e.log.Info("crawl starting", zap.String("category", category),
		zap.Int("start_page", start), zap.Bool("light", e.cfg.Light),
		zap.Int("workers", e.cfg.Workers))

	jobs := make(chan pageJob, e.cfg.QueueSize)
	results := make(chan pageResult)
	prodErr := make(chan error, 1)

	go func() {
		prodErr <- e.produce(ctx, category, start, jobs)
		close(jobs)
	}()

	var wg sync.WaitGroup
	var workerErr error
	var errOnce sync.Once
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				items, failed, err := e.processPage(ctx, mt, job)
				if err != nil {
					errOnce.Do(func() { workerErr = err })
					continue
				}
				results <- pageResult{page: job.page, totalPages: job.totalPages, items: items, failed: failed}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	stats := e.track(ctx, category, start, results)

	if err := <-prodErr; err != nil && !errors.Is(err, context.Canceled) {
		return stats, fmt.Errorf("crawl %s: %w", category, err)
	}
	if workerErr != nil && !errors.Is(workerErr, context.Canceled) {
		return stats, fmt.Errorf("crawl %s: %w", category, workerErr)
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Completed {
		e.events.Publish(analytics.SubjectCrawlCompleted, "crawl_completed", map[string]any{
			"category": category, "last_page": stats.LastPage, "total_pages": stats.TotalPages,
		})
		e.log.Info("crawl completed", zap.String("category", category),
			zap.Int("pages", stats.Pages), zap.Int("items", stats.Items))
	}
	return stats, nil
}

// produce fetches discover pages in order and parks them on the bounded jobs
// channel. Backpressure from slow workers blocks the next page fetch.
func (e *Engine) produce(ctx context.Context, category string, start int, jobs chan<- pageJob) error {
	for page := start; ; page++ {
		if e.cfg.MaxPages > 0 && page-start >= e.cfg.MaxPages {
			return nil
		}
		resp, err := e.tmdb.Discover(ctx, category, page, nil)
		if errors.Is(err, tmdb.ErrNotFound) {
			// Past the end of the listing.
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case jobs <- pageJob{page: page, totalPages: resp.TotalPages, items: resp.Results}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if page >= resp.TotalPages {
			return nil
		}
	}
}

// enrichRecord fills rec from upstream per the crawl mode. Full mode fetches
// details (external ids ride along); light mode still resolves external ids
// so even a light pass populates the imdb join column. The outcome label is
// "enriched", "not_found" (listed but gone, discover payload kept) or
// "failed" with the transient error.
func (e *Engine) enrichRecord(ctx context.Context, mt store.MediaType, id int, rec *store.MediaRecord) (string, error) {
	if e.cfg.Light {
		ids, err := e.tmdb.GetExternalIDs(ctx, string(mt), id)
		switch {
		case err == nil:
			applyExternalIDs(rec, ids)
			return "enriched", nil
		case errors.Is(err, tmdb.ErrNotFound):
			return "not_found", nil
		default:
			return "failed", err
		}
	}
	details, err := e.tmdb.GetDetails(ctx, string(mt), id)
	switch {
	case err == nil:
		applyDetails(rec, details)
		return "enriched", nil
	case errors.Is(err, tmdb.ErrNotFound):
		return "not_found", nil
	default:
		return "failed", err
	}
}

// processPage converts one discover page into media records and upserts them
// in a single batch. An item whose enrichment fails transiently is dropped
// from the batch so nothing unconfirmed reaches the cache.
func (e *Engine) processPage(ctx context.Context, mt store.MediaType, job pageJob) (items, failed int, err error) {
	records := make([]store.MediaRecord, 0, len(job.items))
	for _, item := range job.items {
		rec := recordFromDiscover(mt, item)
		outcome, eerr := e.enrichRecord(ctx, mt, item.ID, &rec)
		metrics.CrawlItems.WithLabelValues(string(mt), outcome).Inc()
		if eerr != nil {
			if ctx.Err() != nil {
				return items, failed, ctx.Err()
			}
			e.log.Warn("enrichment failed, dropping item",
				zap.String("category", string(mt)), zap.Int("tmdb_id", item.ID),
				zap.Error(eerr))
			failed++
			continue
		}
		records = append(records, rec)
	}
	if err := e.media.UpsertMediaBatch(ctx, records); err != nil {
		return 0, failed, err
	}
	metrics.CrawlPages.WithLabelValues(string(mt)).Inc()
	return len(records), failed, nil
}

// track consumes page results and advances a contiguous watermark: a page is
// checkpointed only once every page before it has also finished. The cursor
// is persisted every CheckpointEvery watermark advances and once more on
// exit.
func (e *Engine) track(ctx context.Context, category string, start int, results <-chan pageResult) Stats {
	var stats Stats
	pending := make(map[int]pageResult)
	watermark := start - 1
	lastPersisted := watermark

	persist := func(status string) {
		if watermark == lastPersisted && status != store.SyncCompleted {
			return
		}
		// Persisting the checkpoint must survive a canceled run context.
		cctx := context.WithoutCancel(ctx)
		if err := e.cursors.UpdateCursor(cctx, category, watermark, stats.TotalPages, status); err != nil {
			e.log.Error("checkpoint write failed", zap.String("category", category), zap.Error(err))
			return
		}
		lastPersisted = watermark
		e.events.Publish(analytics.SubjectCrawlCheckpoint, "crawl_checkpoint", map[string]any{
			"category": category, "last_page": watermark, "total_pages": stats.TotalPages,
		})
	}

	for res := range results {
		stats.Pages++
		stats.Items += res.items
		stats.ItemsFailed += res.failed
		if res.totalPages > stats.TotalPages {
			stats.TotalPages = res.totalPages
		}
		pending[res.page] = res
		for {
			if _, ok := pending[watermark+1]; !ok {
				break
			}
			delete(pending, watermark+1)
			watermark++
		}
		if watermark-lastPersisted >= e.cfg.CheckpointEvery {
			persist(store.SyncInProgress)
		}
	}

	stats.LastPage = watermark
	stats.Completed = stats.TotalPages > 0 && watermark >= stats.TotalPages && ctx.Err() == nil
	if stats.Completed {
		persist(store.SyncCompleted)
	} else {
		persist(store.SyncInProgress)
	}
	return stats
}

// SyncGenres refreshes the genre reference table for both media types.
func (e *Engine) SyncGenres(ctx context.Context) error {
	for _, mt := range []store.MediaType{store.MediaMovie, store.MediaTV} {
		genres, err := e.tmdb.GetGenres(ctx, string(mt))
		if err != nil {
			return fmt.Errorf("fetch %s genres: %w", mt, err)
		}
		refs := make([]store.GenreRef, 0, len(genres))
		for _, g := range genres {
			refs = append(refs, store.GenreRef{ID: g.ID, MediaType: mt, Name: g.Name})
		}
		if err := e.media.UpsertGenres(ctx, refs); err != nil {
			return err
		}
		e.log.Info("genres synced", zap.String("category", string(mt)), zap.Int("count", len(refs)))
	}
	return nil
}

func recordFromDiscover(mt store.MediaType, item tmdb.DiscoverItem) store.MediaRecord {
	rec := store.MediaRecord{
		Type:   mt,
		TMDBID: item.ID,
		Title:  item.BestTitle(),
	}
	if v := item.BestDate(); v != "" {
		rec.ReleaseDate = &v
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
	if v := item.BestOriginalTitle(); v != "" {
		rec.OriginalTitle = &v
	}
	rec.VoteAverage = &item.VoteAverage
	rec.VoteCount = &item.VoteCount
	rec.Popularity = &item.Popularity
	return rec
}

func applyExternalIDs(rec *store.MediaRecord, ids *tmdb.ExternalIDs) {
	if ids.IMDbID != "" {
		v := ids.IMDbID
		rec.IMDbID = &v
	}
	if ids.TVDBID != 0 {
		v := ids.TVDBID
		rec.TVDBID = &v
	}
}

func applyDetails(rec *store.MediaRecord, d *tmdb.Details) {
	if d.ExternalIDs.IMDbID != "" {
		rec.IMDbID = &d.ExternalIDs.IMDbID
	}
	if d.ExternalIDs.TVDBID != 0 {
		id := d.ExternalIDs.TVDBID
		rec.TVDBID = &id
	}
	if len(d.Raw) > 0 {
		rec.Details = d.Raw
	}
}
