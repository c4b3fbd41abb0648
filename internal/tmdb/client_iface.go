package tmdb

import (
	"context"
	"net/url"
)

// Provider is the port for fetching metadata from the TMDB API.
type Provider interface {
	Discover(ctx context.Context, category string, page int, params url.Values) (*DiscoverResponse, error)
	GetDetails(ctx context.Context, category string, id int) (*Details, error)
	GetExternalIDs(ctx context.Context, category string, id int) (*ExternalIDs, error)
	FindByIMDbID(ctx context.Context, imdbID string) (*FindResponse, error)
	GetGenres(ctx context.Context, category string) ([]Genre, error)
}
