package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/imdb"
	"github.com/example/media-curator/internal/platform/analytics"
	"github.com/example/media-curator/internal/platform/config"
	"github.com/example/media-curator/internal/platform/db"
	"github.com/example/media-curator/internal/platform/logging"
	"github.com/example/media-curator/internal/platform/natsconn"
	"github.com/example/media-curator/internal/platform/run"
	"github.com/example/media-curator/internal/store"
)

func main() {
	var (
		dataDirFlag  = flag.String("data-dir", "", "dataset directory (default IMDB_DATA_DIR)")
		skipDownload = flag.Bool("skip-download", false, "import existing files without downloading")
		keepFiles    = flag.Bool("keep-files", false, "keep downloaded dumps after a successful import")
		types        = flag.String("types", "", "comma-separated title type whitelist override")
		batch        = flag.Int("batch", 0, "insert batch size override")
	)
	flag.Parse()

	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "imdb-import")
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

	dataDir := cfg.IMDbDataDir
	if *dataDirFlag != "" {
		dataDir = *dataDirFlag
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

	dl := imdb.NewDownloader(dataDir, log)
	if !*skipDownload {
		for _, ds := range imdb.Datasets {
			if _, err := dl.Fetch(ctx, ds); err != nil {
				if ds.Required {
					log.Error("required dataset download failed",
						zap.String("dataset", ds.Name), zap.Error(err))
					run.Exit(1)
				}
				log.Warn("optional dataset download failed",
					zap.String("dataset", ds.Name), zap.Error(err))
			}
		}
	}

	var opts []imdb.Option
	if *batch > 0 {
		opts = append(opts, imdb.WithBatchSize(*batch))
	}
	if *types != "" {
		opts = append(opts, imdb.WithTitleTypes(strings.Split(*types, ",")))
	}

	start := time.Now()
	importer := imdb.NewImporter(pg, log, opts...)
	stats, err := importer.Run(ctx, imdb.DirSource{Dir: dataDir})
	if err != nil {
		log.Error("import failed", zap.Error(err))
		run.Exit(1)
	}
	elapsed := time.Since(start)

	if !*keepFiles && !*skipDownload {
		for _, ds := range imdb.Datasets {
			path := dl.LocalPath(ds)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warn("dump cleanup failed", zap.String("path", path), zap.Error(err))
			}
		}
	}

	events.Publish(analytics.SubjectImportCompleted, "import_completed", map[string]any{
		"titles":     stats.Titles.Kept,
		"ratings":    stats.Ratings.Kept,
		"akas":       stats.Akas.Kept,
		"principals": stats.Principals.Kept,
		"elapsed":    elapsed.String(),
	})
	log.Info("import completed",
		zap.Int("titles", stats.Titles.Kept),
		zap.Int("ratings", stats.Ratings.Kept),
		zap.Int("akas", stats.Akas.Kept),
		zap.Int("principals", stats.Principals.Kept),
		zap.Duration("elapsed", elapsed))
}
