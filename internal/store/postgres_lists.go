package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

const selectListCols = `l.id, l.name, l.description, l.media_type, l.filters,
	l.filter_operator, l.sort_by, l.item_limit, l.auto_update,
	l.update_interval_hours, l.last_updated, l.created_at, l.updated_at,
	(SELECT count(*) FROM list_items li WHERE li.list_id = l.id)`

func scanList(row pgx.Row) (List, error) {
	var l List
	var filters []byte
	err := row.Scan(&l.ID, &l.Name, &l.Description, &l.MediaType, &filters,
		&l.FilterOperator, &l.SortBy, &l.ItemLimit, &l.AutoUpdate,
		&l.UpdateIntervalHours, &l.LastUpdated, &l.CreatedAt, &l.UpdatedAt,
		&l.ItemCount)
	if err != nil {
		return List{}, err
	}
	if err := json.Unmarshal(filters, &l.Filters); err != nil {
		return List{}, fmt.Errorf("decode list filters: %w", err)
	}
	return l, nil
}

func (p *Postgres) CreateList(ctx context.Context, l *List) error {
	filters, err := json.Marshal(l.Filters)
	if err != nil {
		return fmt.Errorf("encode list filters: %w", err)
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO lists (name, description, media_type, filters, filter_operator,
			sort_by, item_limit, auto_update, update_interval_hours)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING id, created_at, updated_at`,
		l.Name, l.Description, l.MediaType, filters, l.FilterOperator,
		l.SortBy, l.ItemLimit, l.AutoUpdate, l.UpdateIntervalHours).
		Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

func (p *Postgres) GetList(ctx context.Context, id int64) (*List, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+selectListCols+` FROM lists l WHERE l.id = $1`, id)
	l, err := scanList(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list %d: %w", id, err)
	}
	return &l, nil
}

func (p *Postgres) GetLists(ctx context.Context, mt *MediaType) ([]List, error) {
	query := `SELECT ` + selectListCols + ` FROM lists l`
	args := []any{}
	if mt != nil {
		query += ` WHERE l.media_type = $1`
		args = append(args, *mt)
	}
	query += ` ORDER BY l.created_at DESC`
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get lists: %w", err)
	}
	defer rows.Close()

	var out []List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateList(ctx context.Context, l *List) error {
	filters, err := json.Marshal(l.Filters)
	if err != nil {
		return fmt.Errorf("encode list filters: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE lists SET name = $2, description = $3, media_type = $4,
			filters = $5, filter_operator = $6, sort_by = $7, item_limit = $8,
			auto_update = $9, update_interval_hours = $10, updated_at = now()
		 WHERE id = $1`,
		l.ID, l.Name, l.Description, l.MediaType, filters, l.FilterOperator,
		l.SortBy, l.ItemLimit, l.AutoUpdate, l.UpdateIntervalHours)
	if err != nil {
		return fmt.Errorf("update list %d: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteList(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM lists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete list %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetListItems(ctx context.Context, listID int64) ([]ListItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, list_id, tmdb_id, imdb_id, tvdb_id, media_type, title,
			poster_path, overview, release_date, vote_average, vote_count,
			popularity, imdb_rating, imdb_votes, position, added_at
		 FROM list_items WHERE list_id = $1 ORDER BY position`,
		listID)
	if err != nil {
		return nil, fmt.Errorf("get list items %d: %w", listID, err)
	}
	defer rows.Close()

	var out []ListItem
	for rows.Next() {
		var it ListItem
		err := rows.Scan(&it.ID, &it.ListID, &it.TMDBID, &it.IMDbID, &it.TVDBID,
			&it.MediaType, &it.Title, &it.PosterPath, &it.Overview,
			&it.ReleaseDate, &it.VoteAverage, &it.VoteCount, &it.Popularity,
			&it.IMDbRating, &it.IMDbVotes, &it.Position, &it.AddedAt)
		if err != nil {
			return nil, fmt.Errorf("scan list item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) ReplaceListItems(ctx context.Context, listID int64, items []ListItem) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace items: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM list_items WHERE list_id = $1`, listID); err != nil {
		return fmt.Errorf("clear list items %d: %w", listID, err)
	}
	for i, it := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO list_items (list_id, tmdb_id, imdb_id, tvdb_id, media_type,
				title, poster_path, overview, release_date, vote_average,
				vote_count, popularity, imdb_rating, imdb_votes, position)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			listID, it.TMDBID, it.IMDbID, it.TVDBID, it.MediaType, it.Title,
			it.PosterPath, it.Overview, it.ReleaseDate, it.VoteAverage,
			it.VoteCount, it.Popularity, it.IMDbRating, it.IMDbVotes, i)
		if err != nil {
			return fmt.Errorf("insert list item %d/%d: %w", listID, it.TMDBID, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE lists SET last_updated = now(), updated_at = now() WHERE id = $1`,
		listID); err != nil {
		return fmt.Errorf("touch list %d: %w", listID, err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetDueLists(ctx context.Context, now time.Time) ([]List, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+selectListCols+` FROM lists l
		 WHERE l.auto_update
		   AND (l.last_updated IS NULL
			OR l.last_updated + make_interval(hours => l.update_interval_hours) <= $1)
		 ORDER BY l.last_updated NULLS FIRST`,
		now)
	if err != nil {
		return nil, fmt.Errorf("get due lists: %w", err)
	}
	defer rows.Close()

	var out []List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
