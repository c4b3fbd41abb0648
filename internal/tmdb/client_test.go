package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(config.TMDBConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		RateLimit:  1000,
		RatePeriod: time.Second,
	}, zap.NewNop())
	return c, srv
}

func TestClientNotFoundIsSentinel(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status_message":"not found"}`, http.StatusNotFound)
	}))

	_, err := c.GetDetails(context.Background(), "movie", 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClientServerErrorIsNotNotFound(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.GetDetails(context.Background(), "movie", 1)
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("a server error must never look like a confirmed absence")
	}
}

func TestClientRetriesThrottleThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"page":1,"total_pages":1,"total_results":1,"results":[{"id":7,"title":"ok"}]}`))
	}))

	resp, err := c.Discover(context.Background(), "movie", 1, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2 (one throttle, one success)", hits.Load())
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != 7 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestClientThrottleRetriesAreBounded(t *testing.T) {
	var hits atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Discover(context.Background(), "movie", 1, nil)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("err = %v, want ErrThrottled", err)
	}
	if got := hits.Load(); got != maxThrottleRetries+1 {
		t.Fatalf("hits = %d, want %d", got, maxThrottleRetries+1)
	}
}

func TestClientSendsKeyPageAndDefaultSort(t *testing.T) {
	var got atomic.Pointer[http.Request]
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(r.Context())
		got.Store(clone)
		w.Write([]byte(`{"page":3,"total_pages":5,"results":[]}`))
	}))

	if _, err := c.Discover(context.Background(), "tv", 3, nil); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	r := got.Load()
	if r.URL.Path != "/discover/tv" {
		t.Fatalf("path = %q", r.URL.Path)
	}
	q := r.URL.Query()
	if q.Get("api_key") != "test-key" || q.Get("page") != "3" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("sort_by") != "popularity.desc" {
		t.Fatalf("default sort missing, query = %v", q)
	}
}

func TestClientDetailsKeepRawBody(t *testing.T) {
	const body = `{"id":42,"title":"Raw Kept","external_ids":{"imdb_id":"tt0000042"},"budget":1000}`
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))

	d, err := c.GetDetails(context.Background(), "movie", 42)
	if err != nil {
		t.Fatalf("GetDetails: %v", err)
	}
	if d.ExternalIDs.IMDbID != "tt0000042" {
		t.Fatalf("external ids = %+v", d.ExternalIDs)
	}
	if string(d.Raw) != body {
		t.Fatalf("raw body not preserved: %s", d.Raw)
	}
}

func TestClientFindUsesIMDbSource(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("external_source") != "imdb_id" {
			t.Errorf("external_source = %q", r.URL.Query().Get("external_source"))
		}
		w.Write([]byte(`{"movie_results":[{"id":9}],"tv_results":[]}`))
	}))

	resp, err := c.FindByIMDbID(context.Background(), "tt0000009")
	if err != nil {
		t.Fatalf("FindByIMDbID: %v", err)
	}
	if len(resp.MovieResults) != 1 || resp.MovieResults[0].ID != 9 {
		t.Fatalf("resp = %+v", resp)
	}
}
