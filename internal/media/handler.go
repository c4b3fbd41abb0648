// Package media serves single-record lookups from the cache, falling back to
// the upstream API and writing confirmed results through.
package media

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/api"
	"github.com/example/media-curator/internal/platform/httpserver"
	"github.com/example/media-curator/internal/store"
	"github.com/example/media-curator/internal/tmdb"
)

type Handler struct {
	media store.MediaStore
	tmdb  tmdb.Provider
	log   *zap.Logger
}

func NewHandler(media store.MediaStore, provider tmdb.Provider, log *zap.Logger) *Handler {
	return &Handler{media: media, tmdb: provider, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/media/{mediaType}/{id}", h.get)
	r.Get("/find/{imdbID}", h.find)
}

type mediaResponse struct {
	MediaType     store.MediaType `json:"media_type"`
	TMDBID        int             `json:"tmdb_id"`
	IMDbID        *string         `json:"imdb_id"`
	TVDBID        *int            `json:"tvdb_id"`
	Title         string          `json:"title"`
	OriginalTitle *string         `json:"original_title"`
	Overview      *string         `json:"overview"`
	ReleaseDate   *string         `json:"release_date"`
	VoteAverage   *float64        `json:"vote_average"`
	VoteCount     *int            `json:"vote_count"`
	Popularity    *float64        `json:"popularity"`
	PosterPath    *string         `json:"poster_path"`
	BackdropPath  *string         `json:"backdrop_path"`
	Details       json.RawMessage `json:"details,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toResponse(rec *store.MediaRecord) mediaResponse {
	return mediaResponse{
		MediaType:     rec.Type,
		TMDBID:        rec.TMDBID,
		IMDbID:        rec.IMDbID,
		TVDBID:        rec.TVDBID,
		Title:         rec.Title,
		OriginalTitle: rec.OriginalTitle,
		Overview:      rec.Overview,
		ReleaseDate:   rec.ReleaseDate,
		VoteAverage:   rec.VoteAverage,
		VoteCount:     rec.VoteCount,
		Popularity:    rec.Popularity,
		PosterPath:    rec.PosterPath,
		BackdropPath:  rec.BackdropPath,
		Details:       rec.Details,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	mt := store.MediaType(chi.URLParam(r, "mediaType"))
	if !mt.Valid() {
		api.BadRequest(w, "INVALID_MEDIA_TYPE", "media type must be movie or tv", rid, nil)
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		api.BadRequest(w, "INVALID_ID", "id must be a positive integer", rid, nil)
		return
	}

	rec, err := h.media.GetMedia(r.Context(), mt, id)
	if err == nil {
		api.WriteJSON(w, http.StatusOK, toResponse(rec))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.log.Error("media lookup failed", zap.String("media_type", string(mt)), zap.Int("id", id), zap.Error(err))
		api.Internal(w, rid)
		return
	}

	// Cache miss: fetch upstream and write through.
	details, err := h.tmdb.GetDetails(r.Context(), string(mt), id)
	if errors.Is(err, tmdb.ErrNotFound) {
		api.NotFound(w, "MEDIA_NOT_FOUND", "no such record", rid)
		return
	}
	if err != nil {
		h.log.Error("upstream fetch failed", zap.String("media_type", string(mt)), zap.Int("id", id), zap.Error(err))
		api.WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "metadata source unavailable", rid, nil)
		return
	}
	fresh := recordFromDetails(mt, details)
	if err := h.media.UpsertMedia(r.Context(), fresh); err != nil {
		h.log.Warn("write-through failed", zap.Int("id", id), zap.Error(err))
	}
	api.WriteJSON(w, http.StatusOK, toResponse(&fresh))
}

// find reverse-resolves an IMDb id to the cached records that carry it,
// querying upstream only when neither category has a local match.
func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	imdbID := chi.URLParam(r, "imdbID")
	if !strings.HasPrefix(imdbID, "tt") {
		api.BadRequest(w, "INVALID_IMDB_ID", "imdb id must look like tt1234567", rid, nil)
		return
	}

	var matches []mediaResponse
	for _, mt := range []store.MediaType{store.MediaMovie, store.MediaTV} {
		recs, err := h.media.GetMediaByIMDbIDs(r.Context(), mt, []string{imdbID})
		if err != nil {
			h.log.Error("imdb lookup failed", zap.String("imdb_id", imdbID), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		for _, rec := range recs {
			matches = append(matches, toResponse(&rec))
		}
	}
	if len(matches) == 0 {
		resp, err := h.tmdb.FindByIMDbID(r.Context(), imdbID)
		if errors.Is(err, tmdb.ErrNotFound) {
			api.NotFound(w, "MEDIA_NOT_FOUND", "no record for this imdb id", rid)
			return
		}
		if err != nil {
			h.log.Error("upstream find failed", zap.String("imdb_id", imdbID), zap.Error(err))
			api.WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "metadata source unavailable", rid, nil)
			return
		}
		for _, rec := range recordsFromFind(imdbID, resp) {
			if err := h.media.UpsertMedia(r.Context(), rec); err != nil {
				h.log.Warn("write-through failed", zap.String("imdb_id", imdbID), zap.Error(err))
			}
			matches = append(matches, toResponse(&rec))
		}
	}
	if len(matches) == 0 {
		api.NotFound(w, "MEDIA_NOT_FOUND", "no record for this imdb id", rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"results": matches})
}

func recordsFromFind(imdbID string, resp *tmdb.FindResponse) []store.MediaRecord {
	var recs []store.MediaRecord
	if len(resp.MovieResults) > 0 {
		recs = append(recs, recordFromItem(store.MediaMovie, imdbID, resp.MovieResults[0]))
	}
	if len(resp.TVResults) > 0 {
		recs = append(recs, recordFromItem(store.MediaTV, imdbID, resp.TVResults[0]))
	}
	return recs
}

func recordFromItem(mt store.MediaType, imdbID string, item tmdb.DiscoverItem) store.MediaRecord {
	rec := store.MediaRecord{
		Type:      mt,
		TMDBID:    item.ID,
		IMDbID:    &imdbID,
		Title:     item.BestTitle(),
		UpdatedAt: time.Now(),
	}
	if v := item.BestOriginalTitle(); v != "" {
		rec.OriginalTitle = &v
	}
	if item.Overview != "" {
		rec.Overview = &item.Overview
	}
	if v := item.BestDate(); v != "" {
		rec.ReleaseDate = &v
	}
	if item.PosterPath != "" {
		rec.PosterPath = &item.PosterPath
	}
	if item.BackdropPath != "" {
		rec.BackdropPath = &item.BackdropPath
	}
	va, vc, pop := item.VoteAverage, item.VoteCount, item.Popularity
	rec.VoteAverage = &va
	rec.VoteCount = &vc
	rec.Popularity = &pop
	return rec
}

func recordFromDetails(mt store.MediaType, d *tmdb.Details) store.MediaRecord {
	rec := store.MediaRecord{
		Type:      mt,
		TMDBID:    d.ID,
		Title:     d.BestTitle(),
		UpdatedAt: time.Now(),
	}
	if d.ExternalIDs.IMDbID != "" {
		id := d.ExternalIDs.IMDbID
		rec.IMDbID = &id
	}
	if d.ExternalIDs.TVDBID != 0 {
		id := d.ExternalIDs.TVDBID
		rec.TVDBID = &id
	}
	if d.Overview != "" {
		rec.Overview = &d.Overview
	}
	if d.PosterPath != "" {
		rec.PosterPath = &d.PosterPath
	}
	if d.BackdropPath != "" {
		rec.BackdropPath = &d.BackdropPath
	}
	if v := d.BestDate(); v != "" {
		rec.ReleaseDate = &v
	}
	rec.VoteAverage = &d.VoteAverage
	rec.VoteCount = &d.VoteCount
	rec.Popularity = &d.Popularity
	if len(d.Raw) > 0 {
		rec.Details = d.Raw
	}
	return rec
}
