// Package store defines the persistence model for the aggregation pipeline:
// the IMDb reference tables rebuilt by the bulk importer, the TMDB media cache
// that carries the cross-source identity mapping, crawl cursors, and curated
// lists. Implementations: Postgres for production, memory for tests.
package store

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
)

var ErrNotFound = errors.New("store: not found")

type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

func (m MediaType) Valid() bool { return m == MediaMovie || m == MediaTV }

// ── IMDb reference tables (bulk import) ────────────────────────────────────

// Title is one row of title.basics after type filtering.
type Title struct {
	Tconst         string
	TitleType      string
	PrimaryTitle   string
	OriginalTitle  string
	IsAdult        bool
	StartYear      *int
	EndYear        *int
	RuntimeMinutes *int
	Genres         *string
}

// TitleRating is one row of title.ratings, kept only when its tconst survived
// the title phase.
type TitleRating struct {
	Tconst        string
	AverageRating float64
	NumVotes      int
}

// Aka is one alternate-title row per region/language.
type Aka struct {
	TitleID         string
	Ordering        *int
	Title           *string
	Region          *string
	Language        *string
	Types           *string
	Attributes      *string
	IsOriginalTitle *bool
}

// Principal is one cast-or-crew row per title.
type Principal struct {
	Tconst     string
	Ordering   *int
	Nconst     *string
	Category   *string
	Job        *string
	Characters *string
}

// ── TMDB media cache ───────────────────────────────────────────────────────

// MediaRecord is the denormalized snapshot of one TMDB record, keyed by
// (Type, TMDBID). IMDbID is the join column to TitleRating: while it is nil
// no rating can be attached to this record.
type MediaRecord struct {
	Type          MediaType
	TMDBID        int
	IMDbID        *string
	TVDBID        *int
	Title         string
	OriginalTitle *string
	Overview      *string
	ReleaseDate   *string
	VoteAverage   *float64
	VoteCount     *int
	Popularity    *float64
	PosterPath    *string
	BackdropPath  *string
	Details       json.RawMessage
	UpdatedAt     time.Time
}

// GenreRef is TMDB genre reference data.
type GenreRef struct {
	ID        int
	MediaType MediaType
	Name      string
}

// ── Crawl progress ─────────────────────────────────────────────────────────

const (
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
)

// SyncCursor records crawl progress per category. A resumed crawl starts at
// LastPage+1; it never revisits pages at or below LastPage.
type SyncCursor struct {
	Category   string
	LastPage   int
	TotalPages int
	Status     string
	UpdatedAt  time.Time
}

// ── Filters & lists ────────────────────────────────────────────────────────

type FilterOperator string

const (
	FilterAnd FilterOperator = "and"
	FilterOr  FilterOperator = "or"
)

// FilterCondition is one structural filter term. Value is either a scalar or
// a list of scalars; the single FilterOperator of the owning sequence applies
// uniformly across all conditions.
type FilterCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// List is a curated smart list: a stored filter plus refresh policy and the
// materialized item set in list_items.
type List struct {
	ID                  int64             `json:"id"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	MediaType           MediaType         `json:"media_type"`
	Filters             []FilterCondition `json:"filters"`
	FilterOperator      FilterOperator    `json:"filter_operator"`
	SortBy              string            `json:"sort_by"`
	ItemLimit           int               `json:"limit"`
	AutoUpdate          bool              `json:"auto_update"`
	UpdateIntervalHours int               `json:"update_interval"`
	LastUpdated         *time.Time        `json:"last_updated"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	ItemCount           int               `json:"item_count"`
}

type ListItem struct {
	ID          int64     `json:"id"`
	ListID      int64     `json:"list_id"`
	TMDBID      int       `json:"tmdb_id"`
	IMDbID      *string   `json:"imdb_id"`
	TVDBID      *int      `json:"tvdb_id"`
	MediaType   MediaType `json:"media_type"`
	Title       string    `json:"title"`
	PosterPath  *string   `json:"poster_path"`
	Overview    *string   `json:"overview"`
	ReleaseDate *string   `json:"release_date"`
	VoteAverage *float64  `json:"vote_average"`
	VoteCount   *int      `json:"vote_count"`
	Popularity  *float64  `json:"popularity"`
	IMDbRating  *float64  `json:"imdb_rating"`
	IMDbVotes   *int      `json:"imdb_votes"`
	Position    int       `json:"position"`
	AddedAt     time.Time `json:"added_at"`
}

// ── Rating-side discovery ──────────────────────────────────────────────────

// RatedTitle is one row of the rating-driven discovery query.
type RatedTitle struct {
	Tconst        string
	AverageRating float64
	NumVotes      int
}

// RatingQuery asks the local rating table for an ordered, filtered page of
// foreign identifiers. Supported fields: imdb_rating (gte/lte), imdb_votes
// (gte); sorts: imdb_rating.asc/desc, popularity.desc (num_votes proxy).
type RatingQuery struct {
	Filters []FilterCondition
	SortBy  string
	Page    int
	Limit   int
}

// ── Store interfaces ───────────────────────────────────────────────────────

// MediaStore persists the TMDB cross-reference cache.
type MediaStore interface {
	UpsertMedia(ctx context.Context, rec MediaRecord) error
	UpsertMediaBatch(ctx context.Context, recs []MediaRecord) error
	GetMedia(ctx context.Context, mt MediaType, tmdbID int) (*MediaRecord, error)
	GetMediaByTMDBIDs(ctx context.Context, mt MediaType, ids []int) (map[int]MediaRecord, error)
	GetMediaByIMDbIDs(ctx context.Context, mt MediaType, imdbIDs []string) (map[string]MediaRecord, error)
	UpsertGenres(ctx context.Context, genres []GenreRef) error
}

// CursorStore persists crawl progress per category.
type CursorStore interface {
	// GetCursor returns the cursor for category, creating a zero row if absent.
	GetCursor(ctx context.Context, category string) (SyncCursor, error)
	UpdateCursor(ctx context.Context, category string, lastPage, totalPages int, status string) error
	ResetCursors(ctx context.Context) error
}

// RatingStore reads the IMDb rating table for rating-driven discovery.
type RatingStore interface {
	// QueryRatings returns one ordered page plus the total row count.
	QueryRatings(ctx context.Context, q RatingQuery) ([]RatedTitle, int, error)
	GetRatingsByTconsts(ctx context.Context, tconsts []string) (map[string]RatedTitle, error)
}

// ImportStore receives the bulk importer's output. Each dataset follows
// recreate → batched inserts → index, a full refresh with index-after-load.
type ImportStore interface {
	RecreateTitles(ctx context.Context) error
	InsertTitles(ctx context.Context, rows []Title) error
	IndexTitles(ctx context.Context) error

	RecreateRatings(ctx context.Context) error
	InsertRatings(ctx context.Context, rows []TitleRating) error
	IndexRatings(ctx context.Context) error

	RecreateAkas(ctx context.Context) error
	InsertAkas(ctx context.Context, rows []Aka) error
	IndexAkas(ctx context.Context) error

	RecreatePrincipals(ctx context.Context) error
	InsertPrincipals(ctx context.Context, rows []Principal) error
	IndexPrincipals(ctx context.Context) error
}

// ListStore persists curated lists and their materialized items.
type ListStore interface {
	CreateList(ctx context.Context, l *List) error
	GetList(ctx context.Context, id int64) (*List, error)
	GetLists(ctx context.Context, mt *MediaType) ([]List, error)
	UpdateList(ctx context.Context, l *List) error
	DeleteList(ctx context.Context, id int64) error
	GetListItems(ctx context.Context, listID int64) ([]ListItem, error)
	// ReplaceListItems atomically swaps the materialized item set and touches
	// last_updated.
	ReplaceListItems(ctx context.Context, listID int64, items []ListItem) error
	// GetDueLists returns auto-updating lists whose refresh interval has
	// elapsed as of now.
	GetDueLists(ctx context.Context, now time.Time) ([]List, error)
}
