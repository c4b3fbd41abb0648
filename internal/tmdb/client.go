package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/config"
	"github.com/example/media-curator/internal/platform/metrics"
)

// ErrNotFound marks a confirmed 404 from the API: the item does not exist.
// It is distinct from transport or server errors so callers never cache an
// absence they could not actually confirm.
var ErrNotFound = errors.New("tmdb: not found")

// ErrThrottled is returned once the bounded retry budget for 429 responses is
// exhausted.
var ErrThrottled = errors.New("tmdb: throttled, retries exhausted")

const (
	maxThrottleRetries = 3
	defaultRetryAfter  = 10 * time.Second
	maxBodyBytes       = 4 << 20
)

// Client is a rate-limited TMDB API client. All requests pass through the
// sliding-window limiter and a circuit breaker; 429s are retried a bounded
// number of times honoring Retry-After.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	apiKey  string
	limiter *Limiter
	breaker *gobreaker.CircuitBreaker[httpResult]
	log     *zap.Logger
}

type httpResult struct {
	status int
	header http.Header
	body   []byte
}

func New(cfg config.TMDBConfig, log *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker[httpResult](gobreaker.Settings{
		Name:    "tmdb-api",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("tmdb breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Client{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     cfg.APIKey,
		limiter:    NewLimiter(cfg.RateLimit, cfg.RatePeriod),
		breaker:    breaker,
		log:        log,
	}
}

// request performs a rate-limited GET of endpoint and decodes a 2xx body into
// out. 404 maps to ErrNotFound; 429 sleeps per Retry-After and retries up to
// maxThrottleRetries times before surfacing ErrThrottled.
func (c *Client) request(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	rawURL := c.BaseURL + endpoint + "?" + params.Encode()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		start := time.Now()
		res, err := c.breaker.Execute(func() (httpResult, error) {
			return c.doOnce(ctx, rawURL)
		})
		metrics.TMDBRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.TMDBRequests.WithLabelValues(endpoint, "error").Inc()
			return fmt.Errorf("tmdb: GET %s: %w", endpoint, err)
		}

		switch {
		case res.status >= 200 && res.status < 300:
			metrics.TMDBRequests.WithLabelValues(endpoint, "ok").Inc()
			if err := json.Unmarshal(res.body, out); err != nil {
				return fmt.Errorf("tmdb: decode %s: %w", endpoint, err)
			}
			if d, ok := out.(*Details); ok {
				d.Raw = append(json.RawMessage(nil), res.body...)
			}
			return nil

		case res.status == http.StatusNotFound:
			metrics.TMDBRequests.WithLabelValues(endpoint, "not_found").Inc()
			return ErrNotFound

		case res.status == http.StatusTooManyRequests:
			metrics.TMDBRequests.WithLabelValues(endpoint, "throttled").Inc()
			if attempt >= maxThrottleRetries {
				return fmt.Errorf("tmdb: GET %s: %w", endpoint, ErrThrottled)
			}
			delay := retryAfter(res.header)
			c.log.Warn("tmdb rate limited, backing off",
				zap.String("endpoint", endpoint), zap.Duration("delay", delay), zap.Int("attempt", attempt+1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

		default:
			metrics.TMDBRequests.WithLabelValues(endpoint, "error").Inc()
			return fmt.Errorf("tmdb: GET %s: status %d body=%q",
				endpoint, res.status, string(res.body[:min(len(res.body), 200)]))
		}
	}
}

// doOnce runs inside the breaker: transport failures and 5xx count against it,
// 404/429 are valid API answers and do not.
func (c *Client) doOnce(ctx context.Context, rawURL string) (httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return httpResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "media-curator/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return httpResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return httpResult{}, err
	}
	if resp.StatusCode >= 500 {
		return httpResult{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	return httpResult{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// ── Discovery ──────────────────────────────────────────────────────────────

// Discover fetches one discovery page for "movie" or "tv". Extra native
// parameters (filters, sort) are merged into the query.
func (c *Client) Discover(ctx context.Context, category string, page int, params url.Values) (*DiscoverResponse, error) {
	merged := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}
	merged.Set("page", strconv.Itoa(page))
	if merged.Get("sort_by") == "" {
		merged.Set("sort_by", "popularity.desc")
	}
	var out DiscoverResponse
	if err := c.request(ctx, "/discover/"+category, merged, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Details ────────────────────────────────────────────────────────────────

const (
	movieAppend = "credits,keywords,videos,watch/providers,release_dates,alternative_titles,recommendations,similar,external_ids"
	tvAppend    = "credits,keywords,videos,watch/providers,content_ratings,alternative_titles,recommendations,similar,external_ids"
)

// GetDetails fetches the full detail payload with sub-resources appended in a
// single call.
func (c *Client) GetDetails(ctx context.Context, category string, id int) (*Details, error) {
	appendTo := movieAppend
	if category == "tv" {
		appendTo = tvAppend
	}
	params := url.Values{"append_to_response": {appendTo}}
	var out Details
	if err := c.request(ctx, fmt.Sprintf("/%s/%d", category, id), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExternalIDs fetches the external identifier mapping for one record.
func (c *Client) GetExternalIDs(ctx context.Context, category string, id int) (*ExternalIDs, error) {
	var out ExternalIDs
	if err := c.request(ctx, fmt.Sprintf("/%s/%d/external_ids", category, id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByIMDbID reverse-resolves an IMDb identifier to TMDB records.
func (c *Client) FindByIMDbID(ctx context.Context, imdbID string) (*FindResponse, error) {
	params := url.Values{"external_source": {"imdb_id"}}
	var out FindResponse
	if err := c.request(ctx, "/find/"+url.PathEscape(imdbID), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Reference data ─────────────────────────────────────────────────────────

// GetGenres fetches the genre list for "movie" or "tv".
func (c *Client) GetGenres(ctx context.Context, category string) ([]Genre, error) {
	var out GenreListResponse
	if err := c.request(ctx, "/genre/"+category+"/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Genres, nil
}
