package main

import (
	"context"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/media-curator/internal/crawl"
	"github.com/example/media-curator/internal/discover"
	"github.com/example/media-curator/internal/lists"
	"github.com/example/media-curator/internal/media"
	"github.com/example/media-curator/internal/platform/analytics"
	"github.com/example/media-curator/internal/platform/auth"
	"github.com/example/media-curator/internal/platform/config"
	"github.com/example/media-curator/internal/platform/db"
	"github.com/example/media-curator/internal/platform/httpserver"
	"github.com/example/media-curator/internal/platform/logging"
	"github.com/example/media-curator/internal/platform/natsconn"
	"github.com/example/media-curator/internal/platform/run"
	"github.com/example/media-curator/internal/queue"
	"github.com/example/media-curator/internal/resolve"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

func main() {
	if os.Getenv("SERVICE_NAME") == "" {
		_ = os.Setenv("SERVICE_NAME", "media-curator-api")
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

	ctx := context.Background()
	pool, err := db.Open(ctx)
	if err != nil {
		log.Error("db open", zap.Error(err))
		run.Exit(1)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Error("ensure schema", zap.Error(err))
		run.Exit(1)
	}

	client := tmdb.New(cfg.TMDB, log)
	resolver := resolve.New(client, pg, pg, log)
	discoverSvc := discover.NewService(client, resolver, log)

	// NATS is optional: without it refreshes run inline and analytics events
	// are dropped.
	var (
		events   *analytics.Publisher
		enqueuer lists.Enqueuer
		worker   *queue.Worker
	)
	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
			run.Exit(1)
		}
		defer nc.Close()
		js, err := nc.JetStream()
		if err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
		events = analytics.New(js, log)
		pub, err := queue.NewPublisher(nc)
		if err != nil {
			log.Error("queue publisher", zap.Error(err))
			run.Exit(1)
		}
		enqueuer = pub
		worker, err = queue.NewWorker(log, nc, queue.Handlers{})
		if err != nil {
			log.Error("queue worker", zap.Error(err))
			run.Exit(1)
		}
	}

	listSvc := lists.NewService(pg, discoverSvc, events, log)
	if worker != nil {
		worker.Handlers.RefreshList = func(ctx context.Context, listID int64) error {
			_, err := listSvc.Refresh(ctx, listID)
			return err
		}
	}
	engine := crawl.New(client, pg, pg, events, log, crawl.Config{})
	scheduler := lists.NewScheduler(listSvc, enqueuer, envDuration("LIST_SWEEP_INTERVAL", 15*time.Minute), log)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: func() error {
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pctx)
	}})
	r.Handle("/metrics", promhttp.Handler())

	listHandler := lists.NewHandler(listSvc, log)
	discoverHandler := discover.NewHandler(discoverSvc, log)
	mediaHandler := media.NewHandler(pg, client, log)
	r.Route("/api", func(r chi.Router) {
		listHandler.Routes(r)
		discoverHandler.Routes(r)
		mediaHandler.Routes(r)
	})
	if cfg.AdminJWTSecret != "" {
		verifier := auth.Verifier{Secret: []byte(cfg.AdminJWTSecret)}
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(verifier))
			newAdminHandler(engine, listSvc, log).Routes(r)
		})
	} else {
		log.Warn("ADMIN_JWT_SECRET unset, admin endpoints disabled")
	}

	srv := httpserver.New(httpserver.Options{
		Addr:        cfg.HTTP.Addr,
		ServiceName: cfg.ServiceName,
		Logger:      log,
		Router:      r,
	})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("scheduler stopped", zap.Error(err))
			}
		}()
		if worker != nil {
			go func() {
				if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("queue worker stopped", zap.Error(err))
				}
			}()
		}
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		return srv.Start(log)
	})
	run.Exit(code)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
