package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/media-curator/internal/crawl"
	"github.com/example/media-curator/internal/lists"
	"github.com/example/media-curator/internal/platform/api"
	"github.com/example/media-curator/internal/platform/httpserver"
	"github.com/example/media-curator/internal/store"
)

// adminHandler exposes operational triggers. Long-running jobs detach from
// the request and run at most once at a time per category.
type adminHandler struct {
	engine *crawl.Engine
	lists  *lists.Service
	log    *zap.Logger

	mu      sync.Mutex
	running map[string]bool
}

func newAdminHandler(engine *crawl.Engine, listSvc *lists.Service, log *zap.Logger) *adminHandler {
	return &adminHandler{engine: engine, lists: listSvc, log: log, running: make(map[string]bool)}
}

func (h *adminHandler) Routes(r chi.Router) {
	r.Post("/sync/{mediaType}", h.sync)
	r.Post("/genres/sync", h.genres)
}

func (h *adminHandler) tryStart(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running[key] {
		return false
	}
	h.running[key] = true
	return true
}

func (h *adminHandler) finish(key string) {
	h.mu.Lock()
	delete(h.running, key)
	h.mu.Unlock()
}

func (h *adminHandler) sync(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	mt := store.MediaType(chi.URLParam(r, "mediaType"))
	if !mt.Valid() {
		api.BadRequest(w, "INVALID_MEDIA_TYPE", "media type must be movie or tv", rid, nil)
		return
	}
	key := "sync:" + string(mt)
	if !h.tryStart(key) {
		api.Conflict(w, "SYNC_RUNNING", "a crawl for this category is already running", rid, nil)
		return
	}
	go func() {
		defer h.finish(key)
		stats, err := h.engine.Run(context.Background(), mt)
		if err != nil {
			h.log.Error("triggered crawl failed", zap.String("category", string(mt)), zap.Error(err))
			return
		}
		h.log.Info("triggered crawl done", zap.String("category", string(mt)),
			zap.Int("pages", stats.Pages), zap.Int("items", stats.Items))
	}()
	api.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "started", "category": mt})
}

func (h *adminHandler) genres(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	if err := h.engine.SyncGenres(r.Context()); err != nil {
		h.log.Error("genre sync failed", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
