package lists

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/api"
	"github.com/example/media-curator/internal/platform/httpserver"
	"github.com/example/media-curator/internal/store"
)

// Handler exposes list CRUD and refresh over HTTP.
type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/lists", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{listID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Get("/items", h.items)
			r.Post("/refresh", h.refresh)
		})
	})
}

func listID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "listID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var mt *store.MediaType
	if v := r.URL.Query().Get("media_type"); v != "" {
		m := store.MediaType(v)
		if !m.Valid() {
			api.BadRequest(w, "INVALID_MEDIA_TYPE", "media_type must be movie or tv", rid, nil)
			return
		}
		mt = &m
	}
	out, err := h.svc.All(r.Context(), mt)
	if err != nil {
		h.log.Error("list lists failed", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	if out == nil {
		out = []store.List{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"lists": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var l store.List
	if err := api.DecodeJSON(r, &l); err != nil {
		api.BadRequest(w, "INVALID_BODY", "malformed list payload", rid, nil)
		return
	}
	if err := h.svc.Create(r.Context(), &l); err != nil {
		if errors.Is(err, ErrInvalidList) {
			api.BadRequest(w, "INVALID_LIST", err.Error(), rid, nil)
			return
		}
		h.log.Error("create list failed", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusCreated, l)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := listID(r)
	if !ok {
		api.BadRequest(w, "INVALID_ID", "list id must be a positive integer", rid, nil)
		return
	}
	l, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "LIST_NOT_FOUND", "list does not exist", rid)
			return
		}
		h.log.Error("get list failed", zap.Int64("list_id", id), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := listID(r)
	if !ok {
		api.BadRequest(w, "INVALID_ID", "list id must be a positive integer", rid, nil)
		return
	}
	var l store.List
	if err := api.DecodeJSON(r, &l); err != nil {
		api.BadRequest(w, "INVALID_BODY", "malformed list payload", rid, nil)
		return
	}
	l.ID = id
	if err := h.svc.Update(r.Context(), &l); err != nil {
		switch {
		case errors.Is(err, ErrInvalidList):
			api.BadRequest(w, "INVALID_LIST", err.Error(), rid, nil)
		case errors.Is(err, store.ErrNotFound):
			api.NotFound(w, "LIST_NOT_FOUND", "list does not exist", rid)
		default:
			h.log.Error("update list failed", zap.Int64("list_id", id), zap.Error(err))
			api.Internal(w, rid)
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := listID(r)
	if !ok {
		api.BadRequest(w, "INVALID_ID", "list id must be a positive integer", rid, nil)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "LIST_NOT_FOUND", "list does not exist", rid)
			return
		}
		h.log.Error("delete list failed", zap.Int64("list_id", id), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) items(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := listID(r)
	if !ok {
		api.BadRequest(w, "INVALID_ID", "list id must be a positive integer", rid, nil)
		return
	}
	items, err := h.svc.Items(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "LIST_NOT_FOUND", "list does not exist", rid)
			return
		}
		h.log.Error("get list items failed", zap.Int64("list_id", id), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	if items == nil {
		items = []store.ListItem{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := listID(r)
	if !ok {
		api.BadRequest(w, "INVALID_ID", "list id must be a positive integer", rid, nil)
		return
	}
	count, err := h.svc.Refresh(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "LIST_NOT_FOUND", "list does not exist", rid)
			return
		}
		h.log.Error("refresh list failed", zap.Int64("list_id", id), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"list_id": id, "items": count})
}
