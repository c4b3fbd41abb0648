package discover

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/api"
	"github.com/example/media-curator/internal/platform/httpserver"
	"github.com/example/media-curator/internal/store"
)

// Handler exposes ad-hoc discovery queries.
type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/discover", h.discover)
}

type discoverRequest struct {
	MediaType      store.MediaType         `json:"media_type"`
	Filters        []store.FilterCondition `json:"filters"`
	FilterOperator store.FilterOperator    `json:"filter_operator"`
	SortBy         string                  `json:"sort_by"`
	Page           int                     `json:"page"`
	Limit          int                     `json:"limit"`
	Enrich         bool                    `json:"enrich"`
}

func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var req discoverRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.BadRequest(w, "INVALID_BODY", "malformed discover payload", rid, nil)
		return
	}
	page, err := h.svc.Run(r.Context(), Query{
		MediaType: req.MediaType,
		Filters:   req.Filters,
		Operator:  req.FilterOperator,
		SortBy:    req.SortBy,
		Page:      req.Page,
		Limit:     req.Limit,
		Enrich:    req.Enrich,
	})
	if err != nil {
		if errors.Is(err, ErrBadQuery) {
			api.BadRequest(w, "INVALID_QUERY", err.Error(), rid, nil)
			return
		}
		h.log.Error("discover failed", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	if page.Items == nil {
		page.Items = []store.ListItem{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"items": page.Items,
		"total": page.Total,
	})
}
