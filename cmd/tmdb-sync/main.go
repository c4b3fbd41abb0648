package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/crawl"
	"github.com/example/media-curator/internal/platform/analytics"
	"github.com/example/media-curator/internal/platform/config"
	"github.com/example/media-curator/internal/platform/db"
	"github.com/example/media-curator/internal/platform/logging"
	"github.com/example/media-curator/internal/platform/natsconn"
	"github.com/example/media-curator/internal/platform/run"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

func main() {
	var (
		movies  = flag.Bool("movies", false, "sync the movie listing")
		tv      = flag.Bool("tv", false, "sync the tv listing")
		light   = flag.Bool("light", false, "skip per-item detail enrichment")
		pages   = flag.Int("pages", 0, "max pages per run, 0 for all")
		workers = flag.Int("workers", 0, "concurrent page workers")
		batch   = flag.String("batch", "", "fixed page range FROM-TO instead of cursor resume")
		reset   = flag.Bool("reset", false, "clear stored sync cursors before starting")
	)
	flag.Parse()

	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "tmdb-sync")
	}
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if !*movies && !*tv {
		log.Error("nothing to do: pass -movies, -tv or both")
		run.Exit(2)
	}

	ctx := context.Background()
	pool, err := db.Open(ctx)
	if err != nil {
		log.Error("db open", zap.Error(err))
		run.Exit(1)
	}
	defer pool.Close()
	pg := store.NewPostgres(pool)

	var events *analytics.Publisher
	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName})
		if err != nil {
			log.Warn("nats unavailable, events disabled", zap.Error(err))
		} else {
			defer nc.Close()
			if js, err := nc.JetStream(); err == nil {
				events = analytics.New(js, log)
			}
		}
	}

	if *reset {
		if err := pg.ResetCursors(ctx); err != nil {
			log.Error("cursor reset failed", zap.Error(err))
			run.Exit(1)
		}
		log.Info("sync cursors cleared")
	}

	client := tmdb.New(cfg.TMDB, log)
	engine := crawl.New(client, pg, pg, events, log, crawl.Config{
		Workers:  *workers,
		Light:    *light,
		MaxPages: *pages,
	})

	if err := engine.SyncGenres(ctx); err != nil {
		log.Warn("genre sync failed", zap.Error(err))
	}

	types := make([]store.MediaType, 0, 2)
	if *movies {
		types = append(types, store.MediaMovie)
	}
	if *tv {
		types = append(types, store.MediaTV)
	}

	for _, mt := range types {
		var (
			stats crawl.Stats
			err   error
		)
		if *batch != "" {
			from, to, perr := parseRange(*batch)
			if perr != nil {
				log.Error("bad -batch range", zap.String("batch", *batch), zap.Error(perr))
				run.Exit(2)
			}
			stats, err = engine.RunBatch(ctx, mt, from, to)
		} else {
			stats, err = engine.Run(ctx, mt)
		}
		if err != nil {
			log.Error("sync failed", zap.String("media_type", string(mt)), zap.Error(err))
			run.Exit(1)
		}
		log.Info("sync finished",
			zap.String("media_type", string(mt)),
			zap.Int("pages", stats.Pages),
			zap.Int("items", stats.Items),
			zap.Int("failed", stats.ItemsFailed))
	}
}

func parseRange(s string) (int, int, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("expected FROM-TO, got %q", s)
	}
	f, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, err
	}
	t, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return 0, 0, err
	}
	return f, t, nil
}
