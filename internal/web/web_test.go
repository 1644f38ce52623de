package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventletter/internal/config"
	"eventletter/internal/model"
	"eventletter/internal/oracle"
	"eventletter/internal/pipeline"
	"eventletter/internal/scrape"
	"eventletter/internal/store"
)

type stubScraper struct{}

func (stubScraper) Scrape(_ context.Context, _ []config.SourceConfig, r scrape.Range) (*model.EventsFile, error) {
	doc := &model.EventsFile{DateRange: &model.DateRange{
		StartDate: r.Start.Format(time.DateOnly),
		EndDate:   r.End.Format(time.DateOnly),
	}}
	doc.SetSource("cte", []model.Event{sampleEvent()})
	doc.SetSource("elp", []model.Event{})
	return doc, nil
}

func sampleEvent() model.Event {
	return model.Event{
		Name:     "Teaching with Cases",
		Link:     "https://calendar.example.edu/event/101",
		Date:     "Tuesday, June 10, 2025",
		Time:     "10:00am - 11:00am",
		Location: "Evans Library 204",
	}
}

var stubOracle = oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
	if req.Purpose == oracle.PurposeClassify {
		return `{"categories": [{"category_name": "Case Teaching", "description": ""}], "event_assignments": {"0": "Case Teaching"}}`, nil
	}
	return "Hands-on sessions about case teaching.", nil
})

func setupTestRouter(t *testing.T, auth *config.BasicAuthConfig) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.BasicAuth = auth
	p := pipeline.New(cfg, store.NewDocuments(dir, 3), store.NewFileBackend(dir), stubOracle, stubScraper{})
	return NewServer(cfg, p).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestBasicAuth(t *testing.T) {
	h := setupTestRouter(t, &config.BasicAuthConfig{Username: "editor", Password: "s3cret"})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)

	w := do(t, h, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("editor", "s3cret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code, "authorized, but nothing scraped yet")

	req.SetBasicAuth("editor", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEmptyCredentialsDisableAuth(t *testing.T) {
	h := setupTestRouter(t, &config.BasicAuthConfig{Username: "editor"})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/events", nil).Code)
}

func TestEventsEditor(t *testing.T) {
	h := setupTestRouter(t, nil)

	doc := &model.EventsFile{
		DateRange: &model.DateRange{StartDate: "2025-06-01", EndDate: "2025-06-30"},
		Sources:   []model.SourceEvents{{Tag: "cte", Events: []model.Event{sampleEvent(), {Name: "No Details"}}}},
	}
	w := do(t, h, http.MethodPut, "/api/events", doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["issues"])

	w = do(t, h, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.EventsFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	events, ok := got.Source("cte")
	require.True(t, ok)
	assert.Equal(t, "No Details", events[1].Name)

	w = do(t, h, http.MethodGet, "/api/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode(t, w)["summary"].(map[string]any)
	assert.Greater(t, summary["critical"], float64(0))

	w = do(t, h, http.MethodPut, "/api/events", []string{"not", "an", "object"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScrape(t *testing.T) {
	h := setupTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/scrape", map[string]string{"start_date": "2025-06-30", "end_date": "2025-06-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodPost, "/api/scrape", map[string]string{"start_date": "2025-06-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/scrape", map[string]string{"start_date": "2025-06-01", "end_date": "2025-06-30"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, map[string]any{"cte": float64(1), "elp": float64(0)}, body["events"])
	assert.Equal(t, true, body["valid"])
}

func TestCategorizeAndRender(t *testing.T) {
	h := setupTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/categorize", map[string]any{"api_key": "sk-test"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "no_input", body["kind"])
	assert.Equal(t, "load", body["stage"])
	assert.NotContains(t, w.Body.String(), "sk-test")

	w = do(t, h, http.MethodPost, "/api/render", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/newsletter.html", nil).Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/scrape", map[string]string{"start_date": "2025-06-01", "end_date": "2025-06-30"}).Code)

	w = do(t, h, http.MethodPost, "/api/categorize", map[string]any{"model": "gpt-4o-mini"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "the key is required per request")

	w = do(t, h, http.MethodPost, "/api/categorize", map[string]any{"api_key": "sk-test", "regenerate": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.NotEmpty(t, body["run_id"])
	assert.NotContains(t, w.Body.String(), "sk-test")

	w = do(t, h, http.MethodGet, "/api/categorized", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"category_name":"Case Teaching"`)

	w = do(t, h, http.MethodPost, "/api/render", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/newsletter.html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "TEACHING WITH CASES")
}

func TestStaticAndMetrics(t *testing.T) {
	h := setupTestRouter(t, nil)

	w := do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>eventletter</title>")

	w = do(t, h, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}
