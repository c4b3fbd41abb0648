package httpserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-chi/chi/v5"
)

func serve(r chi.Router, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		ready    func() error
		path     string
		wantCode int
		wantBody string
	}{
		{name: "healthz", path: "/healthz", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "readyz without check", path: "/readyz", wantCode: http.StatusOK, wantBody: "ready"},
		{
			name:     "readyz check passes",
			ready:    func() error { return nil },
			path:     "/readyz",
			wantCode: http.StatusOK,
			wantBody: "ready",
		},
		{
			name:     "readyz check fails",
			ready:    func() error { return errors.New("pg pool not ready") },
			path:     "/readyz",
			wantCode: http.StatusServiceUnavailable,
			wantBody: "pg pool not ready",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			SetupRouter(r, RouterConfig{ReadyFunc: tt.ready})

			rr := serve(r, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.wantCode {
				t.Fatalf("GET %s: code = %d, want %d", tt.path, rr.Code, tt.wantCode)
			}
			if rr.Body.String() != tt.wantBody {
				t.Fatalf("GET %s: body = %q, want %q", tt.path, rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestPanicReturnsServerError(t *testing.T) {
	r := chi.NewRouter()
	SetupRouter(r)
	r.Post("/api/lists/broken/refresh", func(http.ResponseWriter, *http.Request) {
		panic("refresh blew up")
	})

	rr := serve(r, httptest.NewRequest(http.MethodPost, "/api/lists/broken/refresh", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500 after handler panic", rr.Code)
	}
}

func TestCORSWildcardByDefault(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	r := chi.NewRouter()
	SetupRouter(r)
	r.Get("/api/discover/movie", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/discover/movie", nil)
	req.Header.Set("Origin", "https://app.mediacurator.dev")
	rr := serve(r, req)
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected Access-Control-Allow-Origin on cross-origin request")
	}
}

func TestParseCORSOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{"*"}},
		{"  ", []string{"*"}},
		{"https://mediacurator.dev", []string{"https://mediacurator.dev"}},
		{
			"https://mediacurator.dev , https://app.mediacurator.dev,",
			[]string{"https://mediacurator.dev", "https://app.mediacurator.dev"},
		},
	}
	for _, tt := range tests {
		if got := parseCORSOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseCORSOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestRequestIDMintedAndEchoed(t *testing.T) {
	r := chi.NewRouter()
	SetupRouter(r)
	var seen string
	r.Get("/api/media/movie/1", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/api/media/movie/1", nil))
	if seen == "" {
		t.Fatal("no request id in handler context")
	}
	if got := rr.Header().Get(defaultRequestIDHeader); got != seen {
		t.Fatalf("response header id = %q, context id = %q", got, seen)
	}
}

func TestRequestIDHonorsCaller(t *testing.T) {
	r := chi.NewRouter()
	SetupRouter(r)
	r.Get("/api/lists", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/lists", nil)
	req.Header.Set(defaultRequestIDHeader, "crawl-trace-917")
	rr := serve(r, req)
	if got := rr.Header().Get(defaultRequestIDHeader); got != "crawl-trace-917" {
		t.Fatalf("caller-supplied id not echoed: got %q", got)
	}
}
