package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements the store interfaces on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the cache-side tables if they do not exist. The IMDb
// reference tables are owned by the import cycle and are created by
// RecreateTitles and friends.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS media (
	media_type     TEXT NOT NULL,
	tmdb_id        INTEGER NOT NULL,
	imdb_id        TEXT,
	tvdb_id        INTEGER,
	title          TEXT NOT NULL,
	original_title TEXT,
	overview       TEXT,
	release_date   TEXT,
	vote_average   DOUBLE PRECISION,
	vote_count     INTEGER,
	popularity     DOUBLE PRECISION,
	poster_path    TEXT,
	backdrop_path  TEXT,
	details        JSONB,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (media_type, tmdb_id)
);
CREATE INDEX IF NOT EXISTS idx_media_imdb_id ON media (media_type, imdb_id) WHERE imdb_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS genres (
	id         INTEGER NOT NULL,
	media_type TEXT NOT NULL,
	name       TEXT NOT NULL,
	PRIMARY KEY (id, media_type)
);

CREATE TABLE IF NOT EXISTS sync_progress (
	category    TEXT PRIMARY KEY,
	last_page   INTEGER NOT NULL DEFAULT 0,
	total_pages INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'in_progress',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lists (
	id                    BIGSERIAL PRIMARY KEY,
	name                  TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	media_type            TEXT NOT NULL,
	filters               JSONB NOT NULL DEFAULT '[]',
	filter_operator       TEXT NOT NULL DEFAULT 'and',
	sort_by               TEXT NOT NULL DEFAULT 'popularity.desc',
	item_limit            INTEGER NOT NULL DEFAULT 20,
	auto_update           BOOLEAN NOT NULL DEFAULT false,
	update_interval_hours INTEGER NOT NULL DEFAULT 24,
	last_updated          TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS list_items (
	id           BIGSERIAL PRIMARY KEY,
	list_id      BIGINT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	tmdb_id      INTEGER NOT NULL,
	imdb_id      TEXT,
	tvdb_id      INTEGER,
	media_type   TEXT NOT NULL,
	title        TEXT NOT NULL,
	poster_path  TEXT,
	overview     TEXT,
	release_date TEXT,
	vote_average DOUBLE PRECISION,
	vote_count   INTEGER,
	popularity   DOUBLE PRECISION,
	imdb_rating  DOUBLE PRECISION,
	imdb_votes   INTEGER,
	position     INTEGER NOT NULL DEFAULT 0,
	added_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_list_items_list_id ON list_items (list_id);
`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const upsertMediaSQL = `
INSERT INTO media (media_type, tmdb_id, imdb_id, tvdb_id, title, original_title,
	overview, release_date, vote_average, vote_count, popularity, poster_path,
	backdrop_path, details, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
ON CONFLICT (media_type, tmdb_id) DO UPDATE SET
	imdb_id        = COALESCE(EXCLUDED.imdb_id, media.imdb_id),
	tvdb_id        = COALESCE(EXCLUDED.tvdb_id, media.tvdb_id),
	title          = EXCLUDED.title,
	original_title = COALESCE(EXCLUDED.original_title, media.original_title),
	overview       = COALESCE(EXCLUDED.overview, media.overview),
	release_date   = COALESCE(EXCLUDED.release_date, media.release_date),
	vote_average   = COALESCE(EXCLUDED.vote_average, media.vote_average),
	vote_count     = COALESCE(EXCLUDED.vote_count, media.vote_count),
	popularity     = COALESCE(EXCLUDED.popularity, media.popularity),
	poster_path    = COALESCE(EXCLUDED.poster_path, media.poster_path),
	backdrop_path  = COALESCE(EXCLUDED.backdrop_path, media.backdrop_path),
	details        = COALESCE(EXCLUDED.details, media.details),
	updated_at     = now()`

func mediaArgs(rec MediaRecord) []any {
	var details any
	if len(rec.Details) > 0 {
		details = []byte(rec.Details)
	}
	return []any{
		rec.Type, rec.TMDBID, rec.IMDbID, rec.TVDBID, rec.Title,
		rec.OriginalTitle, rec.Overview, rec.ReleaseDate, rec.VoteAverage,
		rec.VoteCount, rec.Popularity, rec.PosterPath, rec.BackdropPath, details,
	}
}

func (p *Postgres) UpsertMedia(ctx context.Context, rec MediaRecord) error {
	if _, err := p.pool.Exec(ctx, upsertMediaSQL, mediaArgs(rec)...); err != nil {
		return fmt.Errorf("upsert media %s/%d: %w", rec.Type, rec.TMDBID, err)
	}
	return nil
}

func (p *Postgres) UpsertMediaBatch(ctx context.Context, recs []MediaRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(upsertMediaSQL, mediaArgs(rec)...)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert media batch (item %d): %w", i, err)
		}
	}
	return nil
}

const selectMediaCols = `media_type, tmdb_id, imdb_id, tvdb_id, title,
	original_title, overview, release_date, vote_average, vote_count,
	popularity, poster_path, backdrop_path, details, updated_at`

func scanMedia(row pgx.Row) (MediaRecord, error) {
	var rec MediaRecord
	var details []byte
	err := row.Scan(&rec.Type, &rec.TMDBID, &rec.IMDbID, &rec.TVDBID, &rec.Title,
		&rec.OriginalTitle, &rec.Overview, &rec.ReleaseDate, &rec.VoteAverage,
		&rec.VoteCount, &rec.Popularity, &rec.PosterPath, &rec.BackdropPath,
		&details, &rec.UpdatedAt)
	if err != nil {
		return MediaRecord{}, err
	}
	rec.Details = details
	return rec, nil
}

func (p *Postgres) GetMedia(ctx context.Context, mt MediaType, tmdbID int) (*MediaRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+selectMediaCols+` FROM media WHERE media_type = $1 AND tmdb_id = $2`,
		mt, tmdbID)
	rec, err := scanMedia(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media %s/%d: %w", mt, tmdbID, err)
	}
	return &rec, nil
}

func (p *Postgres) GetMediaByTMDBIDs(ctx context.Context, mt MediaType, ids []int) (map[int]MediaRecord, error) {
	out := make(map[int]MediaRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+selectMediaCols+` FROM media WHERE media_type = $1 AND tmdb_id = ANY($2)`,
		mt, ids)
	if err != nil {
		return nil, fmt.Errorf("get media by tmdb ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out[rec.TMDBID] = rec
	}
	return out, rows.Err()
}

func (p *Postgres) GetMediaByIMDbIDs(ctx context.Context, mt MediaType, imdbIDs []string) (map[string]MediaRecord, error) {
	out := make(map[string]MediaRecord, len(imdbIDs))
	if len(imdbIDs) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+selectMediaCols+` FROM media WHERE media_type = $1 AND imdb_id = ANY($2)`,
		mt, imdbIDs)
	if err != nil {
		return nil, fmt.Errorf("get media by imdb ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		if rec.IMDbID != nil {
			out[*rec.IMDbID] = rec
		}
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertGenres(ctx context.Context, genres []GenreRef) error {
	if len(genres) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, g := range genres {
		batch.Queue(`INSERT INTO genres (id, media_type, name) VALUES ($1,$2,$3)
			ON CONFLICT (id, media_type) DO UPDATE SET name = EXCLUDED.name`,
			g.ID, g.MediaType, g.Name)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range genres {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert genres: %w", err)
		}
	}
	return nil
}

func (p *Postgres) GetCursor(ctx context.Context, category string) (SyncCursor, error) {
	cur := SyncCursor{Category: category, Status: SyncInProgress}
	err := p.pool.QueryRow(ctx,
		`SELECT last_page, total_pages, status, updated_at FROM sync_progress WHERE category = $1`,
		category).Scan(&cur.LastPage, &cur.TotalPages, &cur.Status, &cur.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = p.pool.Exec(ctx,
			`INSERT INTO sync_progress (category) VALUES ($1) ON CONFLICT (category) DO NOTHING`,
			category)
		if err != nil {
			return SyncCursor{}, fmt.Errorf("init cursor %q: %w", category, err)
		}
		cur.UpdatedAt = time.Now()
		return cur, nil
	}
	if err != nil {
		return SyncCursor{}, fmt.Errorf("get cursor %q: %w", category, err)
	}
	return cur, nil
}

func (p *Postgres) UpdateCursor(ctx context.Context, category string, lastPage, totalPages int, status string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sync_progress (category, last_page, total_pages, status, updated_at)
		 VALUES ($1,$2,$3,$4,now())
		 ON CONFLICT (category) DO UPDATE SET
			last_page = EXCLUDED.last_page,
			total_pages = EXCLUDED.total_pages,
			status = EXCLUDED.status,
			updated_at = now()`,
		category, lastPage, totalPages, status)
	if err != nil {
		return fmt.Errorf("update cursor %q: %w", category, err)
	}
	return nil
}

func (p *Postgres) ResetCursors(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sync_progress`); err != nil {
		return fmt.Errorf("reset cursors: %w", err)
	}
	return nil
}
