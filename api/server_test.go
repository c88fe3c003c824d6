package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhuvisx/area-news/backend/internal/config"
	"github.com/bhuvisx/area-news/backend/internal/diagnostics"
	"github.com/bhuvisx/area-news/backend/internal/elasticsearch"
	"github.com/bhuvisx/area-news/backend/internal/logger"
	"github.com/bhuvisx/area-news/backend/internal/metrics"
	"github.com/bhuvisx/area-news/backend/internal/models"
	"github.com/bhuvisx/area-news/backend/internal/normalize"
	"github.com/bhuvisx/area-news/backend/internal/sonar"
)

type stubFetcher struct {
	in      normalize.Input
	err     error
	prompts []string
}

func (s *stubFetcher) Fetch(_ context.Context, prompt string) (normalize.Input, error) {
	s.prompts = append(s.prompts, prompt)
	return s.in, s.err
}

type stubPublisher struct {
	areas []string
	items [][]models.NewsItem
	err   error
}

func (s *stubPublisher) Publish(_ context.Context, area string, items []models.NewsItem) (string, error) {
	s.areas = append(s.areas, area)
	s.items = append(s.items, items)
	return "fetch-1", s.err
}

type stubSearcher struct {
	params    elasticsearch.SearchParams
	result    *elasticsearch.SearchResult
	err       error
	healthErr error
}

func (s *stubSearcher) SearchNews(_ context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error) {
	s.params = params
	return s.result, s.err
}

func (s *stubSearcher) Health(context.Context) error { return s.healthErr }

const itemsJSON = `[{"title":"Metro opens","description":"Trial runs begin","source":"TOI","link":"https://example.com/metro"}]`

func newTestServer(t *testing.T, fetcher sonar.Fetcher) (*server, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	cfg := &config.API{
		Sonar:          config.Sonar{Mode: config.ModeRaw},
		CORSOrigins:    []string{"*"},
		DiagnosticsDir: dir,
		DefaultPage:    20,
		MaxPage:        100,
	}
	return &server{
		log:        logger.Discard(),
		cfg:        cfg,
		upstream:   fetcher,
		normalizer: normalize.New(),
		diag:       diagnostics.New(dir, logger.Discard()),
		metrics:    metrics.New(),
	}, dir
}

func envelope(content string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(data)
}

func do(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Code != http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHandleNewsSuccess(t *testing.T) {
	raw := envelope("```json\n" + itemsJSON + "\n```")
	fetcher := &stubFetcher{in: normalize.Input{Kind: normalize.KindEnvelope, Text: raw}}
	srv, dir := newTestServer(t, fetcher)
	pub := &stubPublisher{}
	srv.archive = pub

	rec, _ := do(t, srv.routes(), "/api/news/Model%20Colony")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var items []models.NewsItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Equal(t, []models.NewsItem{{Title: "Metro opens", Description: "Trial runs begin", Source: "TOI", Link: "https://example.com/metro"}}, items)

	require.Len(t, fetcher.prompts, 1)
	require.Equal(t, sonar.BuildPrompt("Model Colony"), fetcher.prompts[0])

	saved, err := os.ReadFile(filepath.Join(dir, "sonar_raw_Model_Colony.txt"))
	require.NoError(t, err)
	require.Equal(t, raw, string(saved))

	require.Equal(t, []string{"Model Colony"}, pub.areas)
	require.Equal(t, items, pub.items[0])
}

func TestHandleNewsContentMode(t *testing.T) {
	fetcher := &stubFetcher{in: normalize.Input{Kind: normalize.KindContent, Text: "Here you go: " + itemsJSON}}
	srv, _ := newTestServer(t, fetcher)

	rec, _ := do(t, srv.routes(), "/api/news/Swargate")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, itemsJSON, rec.Body.String())
}

func TestHandleNewsEmptyArrayEncodesAsArray(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: "[]"}})
	rec, _ := do(t, srv.routes(), "/api/news/Swargate")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleNewsErrors(t *testing.T) {
	secret := "model-said-something-odd"
	tests := []struct {
		name    string
		fetcher *stubFetcher
		want    string
	}{
		{
			name:    "network",
			fetcher: &stubFetcher{err: errors.New("dial tcp: connection refused")},
			want:    msgFetch,
		},
		{
			name:    "upstream status",
			fetcher: &stubFetcher{in: normalize.Input{Kind: normalize.KindEnvelope, Text: `{"error":"` + secret + `"}`}, err: &sonar.StatusError{StatusCode: 401}},
			want:    msgFetch,
		},
		{
			name:    "oversized upstream body",
			fetcher: &stubFetcher{err: fmt.Errorf("%w: over limit", sonar.ErrResponseTooLarge)},
			want:    msgFetch,
		},
		{
			name:    "envelope",
			fetcher: &stubFetcher{in: normalize.Input{Kind: normalize.KindEnvelope, Text: `{"id":"x"}`}},
			want:    msgEnvelope,
		},
		{
			name:    "envelope from content client",
			fetcher: &stubFetcher{err: fmt.Errorf("%w: no choices", normalize.ErrEnvelope)},
			want:    msgEnvelope,
		},
		{
			name:    "parse",
			fetcher: &stubFetcher{in: normalize.Input{Kind: normalize.KindEnvelope, Text: envelope(secret)}},
			want:    msgParseSaved,
		},
		{
			name:    "shape",
			fetcher: &stubFetcher{in: normalize.Input{Kind: normalize.KindContent, Text: `{"title":"` + secret + `"}`}},
			want:    msgShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.fetcher)
			pub := &stubPublisher{}
			srv.archive = pub

			rec, body := do(t, srv.routes(), "/api/news/Swargate")
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			require.Equal(t, tt.want, body["error"])
			require.NotContains(t, rec.Body.String(), secret)
			require.Empty(t, pub.areas)
		})
	}
}

func TestHandleNewsParseMessageWithoutDiagnostics(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: "no news"}})
	srv.cfg.DiagnosticsDir = ""
	srv.diag = diagnostics.New("", nil)

	rec, body := do(t, srv.routes(), "/api/news/Swargate")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, msgParse, body["error"])
}

func TestHandleNewsStrictItems(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: `[{"description":"untitled"}]`}})
	srv.normalizer = normalize.New(normalize.WithValidator(normalize.RequireTitle))

	rec, body := do(t, srv.routes(), "/api/news/Swargate")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, msgInvalidItem, body["error"])
}

func TestHandleNewsDiagnosticsFailureDoesNotFailRequest(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: itemsJSON}})
	srv.diag = diagnostics.New(filepath.Join(blocker, "data"), logger.Discard())

	rec, _ := do(t, srv.routes(), "/api/news/Swargate")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleNewsArchiveFailureDoesNotFailRequest(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: itemsJSON}})
	srv.archive = &stubPublisher{err: errors.New("broker down")}

	rec, _ := do(t, srv.routes(), "/api/news/Swargate")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleNewsBlankArea(t *testing.T) {
	fetcher := &stubFetcher{}
	srv, _ := newTestServer(t, fetcher)

	rec, body := do(t, srv.routes(), "/api/news/%20%20")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, msgAreaRequired, body["error"])
	require.Empty(t, fetcher.prompts)
}

func TestHandleNewsAreaDecodedOnce(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/news/Model%20Colony", want: "Model Colony"},
		{path: "/api/news/Sector%2541", want: "Sector%41"},
		{path: "/api/news/100%25%20Road", want: "100% Road"},
		{path: "/api/news/Aundh%2FBaner", want: "Aundh/Baner"},
		{path: "/api/news/Sector%2541%2FEast", want: "Sector%41/East"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			fetcher := &stubFetcher{in: normalize.Input{Text: itemsJSON}}
			srv, _ := newTestServer(t, fetcher)
			pub := &stubPublisher{}
			srv.archive = pub

			rec, _ := do(t, srv.routes(), tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, []string{sonar.BuildPrompt(tt.want)}, fetcher.prompts)
			require.Equal(t, []string{tt.want}, pub.areas)
		})
	}
}

func TestHandleArchive(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{})

	rec, body := do(t, srv.routes(), "/api/archive?q=metro")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, msgSearchOff, body["error"])

	search := &stubSearcher{result: &elasticsearch.SearchResult{Total: 1, Items: []models.NewsDocument{{ID: "abc", Title: "Metro opens"}}}}
	srv.search = search

	rec, _ = do(t, srv.routes(), "/api/archive?q=metro&area=Swargate&size=500&from=-1&start=2025-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "metro", search.params.Query)
	require.Equal(t, "Swargate", search.params.Area)
	require.Equal(t, 100, search.params.Size)
	require.Equal(t, 0, search.params.From)
	require.NotNil(t, search.params.Start)
	require.True(t, search.params.Start.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Nil(t, search.params.End)

	var result elasticsearch.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.EqualValues(t, 1, result.Total)

	search.err = errors.New("es down")
	rec, body = do(t, srv.routes(), "/api/archive")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, msgSearchFailure, body["error"])
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{})

	rec, _ := do(t, srv.routes(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","archive":"disabled"}`, rec.Body.String())

	srv.search = &stubSearcher{healthErr: errors.New("red")}
	rec, _ = do(t, srv.routes(), "/health")
	require.JSONEq(t, `{"status":"ok","archive":"unavailable"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: itemsJSON}})
	h := srv.routes()
	do(t, h, "/api/news/Swargate")

	rec, _ := do(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `area_news_requests_total{outcome="ok"} 1`)
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{in: normalize.Input{Text: itemsJSON}})
	req := httptest.NewRequest(http.MethodGet, "/api/news/Swargate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 20, clampInt("", 20, 100))
	require.Equal(t, 20, clampInt("abc", 20, 100))
	require.Equal(t, 20, clampInt("0", 20, 100))
	require.Equal(t, 50, clampInt("50", 20, 100))
	require.Equal(t, 100, clampInt("500", 20, 100))
}
