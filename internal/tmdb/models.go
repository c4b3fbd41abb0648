package tmdb

import json "github.com/goccy/go-json"

// DiscoverItem is the per-result payload of the discover, find and list
// endpoints. Movie and TV results share the shape; title/name pairs differ.
type DiscoverItem struct {
	ID            int      `json:"id"`
	Title         string   `json:"title"`
	Name          string   `json:"name"`
	OriginalTitle string   `json:"original_title"`
	OriginalName  string   `json:"original_name"`
	OriginalLang  string   `json:"original_language"`
	Overview      string   `json:"overview"`
	ReleaseDate   string   `json:"release_date"`
	FirstAirDate  string   `json:"first_air_date"`
	VoteAverage   float64  `json:"vote_average"`
	VoteCount     int      `json:"vote_count"`
	Popularity    float64  `json:"popularity"`
	PosterPath    string   `json:"poster_path"`
	BackdropPath  string   `json:"backdrop_path"`
	GenreIDs      []int    `json:"genre_ids"`
	OriginCountry []string `json:"origin_country"`
	Adult         bool     `json:"adult"`
}

// BestTitle returns the movie title or TV name, whichever is set.
func (it DiscoverItem) BestTitle() string {
	if it.Title != "" {
		return it.Title
	}
	return it.Name
}

// BestOriginalTitle returns the original movie title or TV name, whichever
// is set.
func (it DiscoverItem) BestOriginalTitle() string {
	if it.OriginalTitle != "" {
		return it.OriginalTitle
	}
	return it.OriginalName
}

// BestDate returns the release date or first air date, whichever is set.
func (it DiscoverItem) BestDate() string {
	if it.ReleaseDate != "" {
		return it.ReleaseDate
	}
	return it.FirstAirDate
}

type DiscoverResponse struct {
	Page         int            `json:"page"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
	Results      []DiscoverItem `json:"results"`
}

// ExternalIDs maps a TMDB record to foreign identifier spaces.
type ExternalIDs struct {
	IMDbID string `json:"imdb_id"`
	TVDBID int    `json:"tvdb_id"`
}

// Details is the full detail payload with external IDs appended. Raw keeps the
// undecoded body so callers can persist the complete denormalized snapshot
// without this package enumerating every sub-resource.
type Details struct {
	ID            int         `json:"id"`
	Title         string      `json:"title"`
	Name          string      `json:"name"`
	OriginalTitle string      `json:"original_title"`
	OriginalName  string      `json:"original_name"`
	Overview      string      `json:"overview"`
	Tagline       string      `json:"tagline"`
	Status        string      `json:"status"`
	ReleaseDate   string      `json:"release_date"`
	FirstAirDate  string      `json:"first_air_date"`
	Runtime       int         `json:"runtime"`
	VoteAverage   float64     `json:"vote_average"`
	VoteCount     int         `json:"vote_count"`
	Popularity    float64     `json:"popularity"`
	PosterPath    string      `json:"poster_path"`
	BackdropPath  string      `json:"backdrop_path"`
	Adult         bool        `json:"adult"`
	ExternalIDs   ExternalIDs `json:"external_ids"`

	Raw json.RawMessage `json:"-"`
}

// BestTitle returns the movie title or TV name, whichever is set.
func (d *Details) BestTitle() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

// BestDate returns the release date or first air date, whichever is set.
func (d *Details) BestDate() string {
	if d.ReleaseDate != "" {
		return d.ReleaseDate
	}
	return d.FirstAirDate
}

// FindResponse is the payload of /find/{external_id}.
type FindResponse struct {
	MovieResults []DiscoverItem `json:"movie_results"`
	TVResults    []DiscoverItem `json:"tv_results"`
}

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type GenreListResponse struct {
	Genres []Genre `json:"genres"`
}
