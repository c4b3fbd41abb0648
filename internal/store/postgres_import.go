package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// The import cycle drops and recreates each reference table, streams rows in
// with COPY, and adds indexes only after the load so inserts stay cheap.

func (p *Postgres) recreate(ctx context.Context, table, ddl string) error {
	if _, err := p.pool.Exec(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) copyRows(ctx context.Context, table string, cols []string, src pgx.CopyFromSource) error {
	if _, err := p.pool.CopyFrom(ctx, pgx.Identifier{table}, cols, src); err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) RecreateTitles(ctx context.Context) error {
	return p.recreate(ctx, "imdb_titles", `
CREATE TABLE imdb_titles (
	tconst          TEXT NOT NULL,
	title_type      TEXT NOT NULL,
	primary_title   TEXT NOT NULL,
	original_title  TEXT NOT NULL,
	is_adult        BOOLEAN NOT NULL,
	start_year      INTEGER,
	end_year        INTEGER,
	runtime_minutes INTEGER,
	genres          TEXT
)`)
}

func (p *Postgres) InsertTitles(ctx context.Context, rows []Title) error {
	cols := []string{"tconst", "title_type", "primary_title", "original_title",
		"is_adult", "start_year", "end_year", "runtime_minutes", "genres"}
	return p.copyRows(ctx, "imdb_titles", cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			t := rows[i]
			return []any{t.Tconst, t.TitleType, t.PrimaryTitle, t.OriginalTitle,
				t.IsAdult, t.StartYear, t.EndYear, t.RuntimeMinutes, t.Genres}, nil
		}))
}

func (p *Postgres) IndexTitles(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE UNIQUE INDEX idx_imdb_titles_tconst ON imdb_titles (tconst);
CREATE INDEX idx_imdb_titles_type ON imdb_titles (title_type);`)
	if err != nil {
		return fmt.Errorf("index imdb_titles: %w", err)
	}
	return nil
}

func (p *Postgres) RecreateRatings(ctx context.Context) error {
	return p.recreate(ctx, "imdb_ratings", `
CREATE TABLE imdb_ratings (
	tconst         TEXT NOT NULL,
	average_rating DOUBLE PRECISION NOT NULL,
	num_votes      INTEGER NOT NULL
)`)
}

func (p *Postgres) InsertRatings(ctx context.Context, rows []TitleRating) error {
	cols := []string{"tconst", "average_rating", "num_votes"}
	return p.copyRows(ctx, "imdb_ratings", cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.Tconst, r.AverageRating, r.NumVotes}, nil
		}))
}

func (p *Postgres) IndexRatings(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE UNIQUE INDEX idx_imdb_ratings_tconst ON imdb_ratings (tconst);
CREATE INDEX idx_imdb_ratings_votes ON imdb_ratings (num_votes);
CREATE INDEX idx_imdb_ratings_rating ON imdb_ratings (average_rating);`)
	if err != nil {
		return fmt.Errorf("index imdb_ratings: %w", err)
	}
	return nil
}

func (p *Postgres) RecreateAkas(ctx context.Context) error {
	return p.recreate(ctx, "imdb_akas", `
CREATE TABLE imdb_akas (
	title_id          TEXT NOT NULL,
	ordering          INTEGER,
	title             TEXT,
	region            TEXT,
	language          TEXT,
	types             TEXT,
	attributes        TEXT,
	is_original_title BOOLEAN
)`)
}

func (p *Postgres) InsertAkas(ctx context.Context, rows []Aka) error {
	cols := []string{"title_id", "ordering", "title", "region", "language",
		"types", "attributes", "is_original_title"}
	return p.copyRows(ctx, "imdb_akas", cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			a := rows[i]
			return []any{a.TitleID, a.Ordering, a.Title, a.Region, a.Language,
				a.Types, a.Attributes, a.IsOriginalTitle}, nil
		}))
}

func (p *Postgres) IndexAkas(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE INDEX idx_imdb_akas_title_id ON imdb_akas (title_id)`)
	if err != nil {
		return fmt.Errorf("index imdb_akas: %w", err)
	}
	return nil
}

func (p *Postgres) RecreatePrincipals(ctx context.Context) error {
	return p.recreate(ctx, "imdb_principals", `
CREATE TABLE imdb_principals (
	tconst     TEXT NOT NULL,
	ordering   INTEGER,
	nconst     TEXT,
	category   TEXT,
	job        TEXT,
	characters TEXT
)`)
}

func (p *Postgres) InsertPrincipals(ctx context.Context, rows []Principal) error {
	cols := []string{"tconst", "ordering", "nconst", "category", "job", "characters"}
	return p.copyRows(ctx, "imdb_principals", cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			pr := rows[i]
			return []any{pr.Tconst, pr.Ordering, pr.Nconst, pr.Category, pr.Job, pr.Characters}, nil
		}))
}

func (p *Postgres) IndexPrincipals(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE INDEX idx_imdb_principals_tconst ON imdb_principals (tconst)`)
	if err != nil {
		return fmt.Errorf("index imdb_principals: %w", err)
	}
	return nil
}

// ── Rating-driven discovery ────────────────────────────────────────────────

func ratingOrderBy(sortBy string) string {
	switch sortBy {
	case "imdb_rating.asc":
		return "average_rating ASC, num_votes DESC"
	case "imdb_rating.desc":
		return "average_rating DESC, num_votes DESC"
	default:
		return "num_votes DESC, average_rating DESC"
	}
}

func (p *Postgres) QueryRatings(ctx context.Context, q RatingQuery) ([]RatedTitle, int, error) {
	where := []string{"1=1"}
	args := []any{}
	for _, f := range q.Filters {
		v, ok := numericValue(f.Value)
		if !ok {
			continue
		}
		args = append(args, v)
		n := len(args)
		switch {
		case f.Field == "imdb_rating" && f.Operator == "gte":
			where = append(where, fmt.Sprintf("average_rating >= $%d", n))
		case f.Field == "imdb_rating" && f.Operator == "lte":
			where = append(where, fmt.Sprintf("average_rating <= $%d", n))
		case f.Field == "imdb_votes" && f.Operator == "gte":
			where = append(where, fmt.Sprintf("num_votes >= $%d", n))
		default:
			args = args[:n-1]
		}
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM imdb_ratings WHERE `+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count ratings: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT tconst, average_rating, num_votes FROM imdb_ratings
		 WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		cond, ratingOrderBy(q.SortBy), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()

	var out []RatedTitle
	for rows.Next() {
		var r RatedTitle
		if err := rows.Scan(&r.Tconst, &r.AverageRating, &r.NumVotes); err != nil {
			return nil, 0, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (p *Postgres) GetRatingsByTconsts(ctx context.Context, tconsts []string) (map[string]RatedTitle, error) {
	out := make(map[string]RatedTitle, len(tconsts))
	if len(tconsts) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT tconst, average_rating, num_votes FROM imdb_ratings WHERE tconst = ANY($1)`,
		tconsts)
	if err != nil {
		return nil, fmt.Errorf("get ratings by tconst: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r RatedTitle
		if err := rows.Scan(&r.Tconst, &r.AverageRating, &r.NumVotes); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out[r.Tconst] = r
	}
	return out, rows.Err()
}

// numericValue coerces a decoded JSON filter value to float64.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
