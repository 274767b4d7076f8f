package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/discovery"
	"reddot-watch/breakingnews/internal/health"
	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/pipeline"
	"reddot-watch/breakingnews/internal/registry"
	"reddot-watch/breakingnews/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPipeline struct {
	mu      sync.Mutex
	running bool
	err     error
	calls   int
	done    chan struct{}
}

func (s *stubPipeline) Run(context.Context) (models.PipelineRun, error) {
	s.mu.Lock()
	s.calls++
	err, done := s.err, s.done
	s.mu.Unlock()
	if done != nil {
		defer close(done)
	}
	return models.PipelineRun{ID: "run-1", Saved: 2}, err
}

func (s *stubPipeline) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type fixture struct {
	router   *gin.Engine
	articles storage.ArticleRepository
	reg      *registry.Registry
	pipe     *stubPipeline
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "api.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		router:   gin.New(),
		articles: storage.NewArticleRepository(db),
		reg:      registry.New(db),
		pipe:     &stubPipeline{},
	}
	h := NewHandler(Deps{
		Articles:  f.articles,
		Runs:      storage.NewRunRepository(db),
		Sources:   f.reg,
		Health:    health.New(f.reg),
		Discovery: discovery.New(f.reg, discovery.Config{}),
		Pipeline:  f.pipe,
		DB:        db,
	})
	RegisterRoutes(f.router, h, apiKey)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (f *fixture) addArticle(t *testing.T, headline string, published time.Time) int64 {
	t.Helper()

	a := models.NewArticle()
	a.Headline = headline
	a.SourceURL = "https://wire.example/" + strings.ReplaceAll(headline, " ", "-")
	a.PublishedAt = published
	if _, err := f.articles.Insert(context.Background(), a); err != nil {
		t.Fatalf("insert article: %v", err)
	}
	return a.ID
}

func TestListNewsPaginates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.addArticle(t, fmt.Sprintf("Story %d", i), base.Add(time.Duration(i)*time.Minute))
	}

	rec := f.do(t, http.MethodGet, "/v1/news?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var page NewsResponse
	decode(t, rec, &page)
	if len(page.Items) != 2 || page.Items[0].Headline != "Story 2" || page.NextCursor == nil {
		t.Fatalf("first page = %+v", page)
	}

	rec = f.do(t, http.MethodGet, "/v1/news?limit=2&cursor="+*page.NextCursor, "")
	var next NewsResponse
	decode(t, rec, &next)
	if len(next.Items) != 1 || next.Items[0].Headline != "Story 0" || next.NextCursor != nil {
		t.Fatalf("second page = %+v", next)
	}
}

func TestListNewsRejectsBadParams(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	for _, target := range []string{"/v1/news?limit=0", "/v1/news?limit=5000", "/v1/news?limit=x", "/v1/news?cursor=%21%21"} {
		if rec := f.do(t, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestGetNews(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	id := f.addArticle(t, "Dam bursts", time.Now().UTC())

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/v1/news/%d", id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var a models.Article
	decode(t, rec, &a)
	if a.Headline != "Dam bursts" {
		t.Fatalf("article = %+v", a)
	}

	if rec := f.do(t, http.MethodGet, "/v1/news/999", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing article status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/news/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestClearNews(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.addArticle(t, "One", time.Now().UTC())
	f.addArticle(t, "Two", time.Now().UTC())

	rec := f.do(t, http.MethodDelete, "/v1/news", "")
	var body struct{ Deleted int64 }
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body.Deleted != 2 {
		t.Fatalf("clear = %d %s", rec.Code, rec.Body)
	}
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "s3cret")

	if rec := f.do(t, http.MethodGet, "/v1/news", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/news", "", "X-API-Key", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/news", "", "X-API-Key", "s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("right key: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body)
	}
}

func TestScrape(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/v1/scrape?wait=true", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"saved":2`) {
		t.Fatalf("waited scrape = %d %s", rec.Code, rec.Body)
	}

	f.pipe.mu.Lock()
	f.pipe.running = true
	f.pipe.mu.Unlock()
	if rec := f.do(t, http.MethodPost, "/v1/scrape", ""); rec.Code != http.StatusConflict {
		t.Fatalf("busy scrape status = %d", rec.Code)
	}

	f.pipe.mu.Lock()
	f.pipe.running = false
	f.pipe.err = pipeline.ErrRunInProgress
	f.pipe.mu.Unlock()
	if rec := f.do(t, http.MethodPost, "/v1/scrape?wait=true", ""); rec.Code != http.StatusConflict {
		t.Fatalf("racing scrape status = %d", rec.Code)
	}

	f.pipe.mu.Lock()
	f.pipe.err = nil
	f.pipe.done = make(chan struct{})
	done := f.pipe.done
	f.pipe.mu.Unlock()
	if rec := f.do(t, http.MethodPost, "/v1/scrape", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("async scrape status = %d", rec.Code)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("background run never started")
	}
}

func TestSourcesCRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/v1/sources", `{"name":"Wire","url":"https://wire.example/rss","credibility_score":140}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	var created struct{ ID int64 }
	decode(t, rec, &created)
	path := fmt.Sprintf("/v1/sources/%d", created.ID)

	if rec := f.do(t, http.MethodPost, "/v1/sources", `{"name":"Copy","url":"https://wire.example/rss"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/sources", `{"url":"https://x.example/rss"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/sources", `{"name":"X","url":"https://x.example/rss","type":"pigeon"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, path, "")
	var src models.Source
	decode(t, rec, &src)
	if src.CredibilityScore != 100 || src.AddedBy != models.AddedByManual || !src.IsActive {
		t.Fatalf("source = %+v", src)
	}

	if rec := f.do(t, http.MethodPut, path, `{"credibility_score":80,"is_active":false}`); rec.Code != http.StatusOK {
		t.Fatalf("update = %d %s", rec.Code, rec.Body)
	}
	got, err := f.reg.GetByID(context.Background(), created.ID)
	if err != nil || got.CredibilityScore != 80 || got.IsActive || got.Name != "Wire" {
		t.Fatalf("after update = %+v, %v", got, err)
	}
	if rec := f.do(t, http.MethodPut, path, `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty update = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/v1/sources/999", `{"name":"Ghost"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("update missing = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/sources?active=false", "")
	var list struct{ Count int }
	decode(t, rec, &list)
	if list.Count != 1 {
		t.Fatalf("inactive listing count = %d", list.Count)
	}
	rec = f.do(t, http.MethodGet, "/v1/sources", "")
	decode(t, rec, &list)
	if list.Count != 0 {
		t.Fatalf("active listing count = %d", list.Count)
	}

	if rec := f.do(t, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, "")

	s := models.NewSource()
	s.Name = "Flaky"
	s.URL = "https://flaky.example/rss"
	id, err := f.reg.Insert(ctx, *s)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := f.reg.RecordFetchAttempt(ctx, id, false, 0, "timeout"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rec := f.do(t, http.MethodPost, "/v1/sources/health-check", "")
	var checks health.CheckResult
	decode(t, rec, &checks)
	if rec.Code != http.StatusOK || checks.Disabled != 1 {
		t.Fatalf("health-check = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodPost, "/v1/sources/retry-disabled", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"re_enabled":0`) {
		t.Fatalf("retry-disabled = %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/v1/sources/cleanup", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed":0`) {
		t.Fatalf("cleanup = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/sources/stats", "")
	var rep health.Report
	decode(t, rec, &rep)
	if rep.Total != 1 || rep.Active != 0 || rep.Distribution.Poor != 1 {
		t.Fatalf("stats = %s", rec.Body)
	}
}

func TestDiscoverValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	if rec := f.do(t, http.MethodPost, "/v1/sources/discover", `{"name":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing url = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/sources/discover", `{"url":"ftp://example.com"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad url = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/sources/discover/bulk", `{"websites":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty bulk = %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/v1/runs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"runs":[]`) {
		t.Fatalf("runs = %d %s", rec.Code, rec.Body)
	}
}
