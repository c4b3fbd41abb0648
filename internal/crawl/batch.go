package crawl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/example/media-curator/internal/platform/metrics"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

// RunBatch crawls a fixed page range and writes the whole range in one store
// batch. Unlike Run it holds results in memory until every page has been
// fetched, so the cursor only ever moves in a single jump; it is meant for
// bounded catch-up passes where partial progress is not worth tracking.
func (e *Engine) RunBatch(ctx context.Context, mt store.MediaType, fromPage, toPage int) (Stats, error) {
	if fromPage < 1 || toPage < fromPage {
		return Stats{}, fmt.Errorf("invalid page range %d..%d", fromPage, toPage)
	}
	category := string(mt)
	e.log.Info("batch crawl starting", zap.String("category", category),
		zap.Int("from", fromPage), zap.Int("to", toPage))

	var (
		mu         sync.Mutex
		records    []store.MediaRecord
		failed     int
		totalPages int
	)
	sem := semaphore.NewWeighted(int64(e.cfg.Workers))
	g, gctx := errgroup.WithContext(ctx)

	for page := fromPage; page <= toPage; page++ {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			resp, err := e.tmdb.Discover(gctx, category, page, nil)
			if errors.Is(err, tmdb.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			pageRecs := make([]store.MediaRecord, 0, len(resp.Results))
			pageFailed := 0
			for _, item := range resp.Results {
				rec := recordFromDiscover(mt, item)
				outcome, eerr := e.enrichRecord(gctx, mt, item.ID, &rec)
				metrics.CrawlItems.WithLabelValues(category, outcome).Inc()
				if eerr != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					pageFailed++
					continue
				}
				pageRecs = append(pageRecs, rec)
			}
			mu.Lock()
			records = append(records, pageRecs...)
			failed += pageFailed
			if resp.TotalPages > totalPages {
				totalPages = resp.TotalPages
			}
			mu.Unlock()
			metrics.CrawlPages.WithLabelValues(category).Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{ItemsFailed: failed}, fmt.Errorf("batch crawl %s: %w", category, err)
	}

	// Deterministic write order regardless of fetch interleaving.
	sort.Slice(records, func(i, j int) bool { return records[i].TMDBID < records[j].TMDBID })
	if err := e.media.UpsertMediaBatch(ctx, records); err != nil {
		return Stats{ItemsFailed: failed}, err
	}

	last := toPage
	status := store.SyncInProgress
	if totalPages > 0 && last >= totalPages {
		last = totalPages
		status = store.SyncCompleted
	}
	if err := e.cursors.UpdateCursor(ctx, category, last, totalPages, status); err != nil {
		return Stats{}, err
	}
	return Stats{
		Pages:       toPage - fromPage + 1,
		Items:       len(records),
		ItemsFailed: failed,
		LastPage:    last,
		TotalPages:  totalPages,
		Completed:   status == store.SyncCompleted,
	}, nil
}
