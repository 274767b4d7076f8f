package registry

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "registry.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func newSource(name, url string, credibility int) models.Source {
	s := models.NewSource()
	s.Name = name
	s.URL = url
	s.CredibilityScore = credibility
	return *s
}

func TestInsertAndGetByURLRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	in := newSource("Reuters World", "https://feeds.example.com/world.xml", 90)
	in.Type = models.SourceTypeAtom
	in.Category = "world"
	in.Language = "en"
	in.Country = "GB"
	in.IsVerified = true
	in.Selector = ".story-body"
	in.FetchConfig = models.Metadata{"timeout_s": 5.0}
	in.Metadata = models.Metadata{"note": "wire"}
	in.AddedBy = models.AddedBySeed

	id, err := r.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := r.GetByURL(ctx, in.URL)
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if got.ID != id {
		t.Fatalf("id = %d, want %d", got.ID, id)
	}
	if got.Name != in.Name || got.Type != in.Type || got.Category != in.Category ||
		got.Language != in.Language || got.Country != in.Country ||
		got.CredibilityScore != in.CredibilityScore || got.IsActive != in.IsActive ||
		got.IsVerified != in.IsVerified || got.Selector != in.Selector ||
		got.HealthScore != in.HealthScore || got.AddedBy != in.AddedBy {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", *got, in)
	}
	if got.Metadata.String("note") != "wire" || got.FetchConfig.Int("timeout_s") != 5 {
		t.Fatalf("json columns not round-tripped: %v %v", got.Metadata, got.FetchConfig)
	}
	if got.LastFetchAt != nil || got.FetchCount != 0 {
		t.Fatalf("fresh source should have no fetch history")
	}
}

func TestInsertDuplicateURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	if _, err := r.Insert(ctx, newSource("A", "https://a.example/rss", 50)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := r.Insert(ctx, newSource("B", "https://a.example/rss", 60))
	if !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}
}

func TestInsertRejectsMissingFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	if _, err := r.Insert(ctx, newSource("", "https://x.example", 50)); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("missing name: expected ErrInvalidSource, got %v", err)
	}
	if _, err := r.Insert(ctx, newSource("X", "  ", 50)); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("missing url: expected ErrInvalidSource, got %v", err)
	}
	bad := newSource("X", "https://x.example", 50)
	bad.Type = "carrier-pigeon"
	if _, err := r.Insert(ctx, bad); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("bad type: expected ErrInvalidSource, got %v", err)
	}
}

func TestInsertClampsScores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	s := newSource("Loud", "https://loud.example/rss", 250)
	id, err := r.Insert(ctx, s)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := r.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CredibilityScore != 100 {
		t.Fatalf("credibility = %d, want 100", got.CredibilityScore)
	}
}

func TestUpdateIsPartial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	id, err := r.Insert(ctx, newSource("Partial", "https://p.example/rss", 70))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	before, _ := r.GetByID(ctx, id)

	cat := "science"
	cred := -20
	if err := r.Update(ctx, id, models.SourceUpdate{Category: &cat, CredibilityScore: &cred}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	after, err := r.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.Category != "science" {
		t.Fatalf("category = %q", after.Category)
	}
	if after.CredibilityScore != 0 {
		t.Fatalf("credibility should clamp to 0, got %d", after.CredibilityScore)
	}
	if after.Name != before.Name || after.URL != before.URL || after.HealthScore != before.HealthScore {
		t.Fatalf("untouched fields changed: %+v", after)
	}
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}

	if err := r.Update(ctx, id+100, models.SourceUpdate{Category: &cat}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateURLCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	if _, err := r.Insert(ctx, newSource("One", "https://one.example/rss", 50)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id, err := r.Insert(ctx, newSource("Two", "https://two.example/rss", 50))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	url := "https://one.example/rss"
	if err := r.Update(ctx, id, models.SourceUpdate{URL: &url}); !errors.Is(err, ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}
}

func TestListActiveOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	mk := func(name string, cred, health int, active bool) {
		s := newSource(name, "https://"+name+".example/rss", cred)
		s.HealthScore = health
		s.IsActive = active
		if _, err := r.Insert(ctx, s); err != nil {
			t.Fatalf("Insert %s: %v", name, err)
		}
	}
	mk("mid", 70, 90, true)
	mk("top", 95, 40, true)
	mk("tie-low-health", 70, 60, true)
	mk("sick", 99, 10, true)
	mk("off", 99, 100, false)

	got, err := r.ListActive(ctx, 30)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	want := []string{"top", "mid", "tie-low-health"}
	if len(got) != len(want) {
		t.Fatalf("got %d sources, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d = %s, want %s", i, got[i].Name, name)
		}
	}
}

func TestRecordFetchAttemptBookkeeping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	id, err := r.Insert(ctx, newSource("Counter", "https://c.example/rss", 50))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := r.RecordFetchAttempt(ctx, id, true, 10, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordFetchAttempt(ctx, id, false, 0, "timeout"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordFetchAttempt(ctx, id, true, 5, ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	s, err := r.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if s.FetchCount != 3 || s.SuccessCount != 2 || s.ErrorCount != 1 {
		t.Fatalf("counters = %d/%d/%d", s.FetchCount, s.SuccessCount, s.ErrorCount)
	}
	if s.HealthScore != 67 {
		t.Fatalf("health = %d, want 67", s.HealthScore)
	}
	if s.AvgItemsPerFetch != 5 {
		t.Fatalf("avg items = %v, want 5", s.AvgItemsPerFetch)
	}
	if s.LastError != "timeout" {
		t.Fatalf("last_error should persist after a later success, got %q", s.LastError)
	}
	if s.LastFetchAt == nil || s.LastSuccessAt == nil {
		t.Fatalf("timestamps not recorded")
	}

	if err := r.RecordFetchAttempt(ctx, 9999, true, 1, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHealthMatchesRoundedSuccessRate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	id, err := r.Insert(ctx, newSource("Random", "https://rand.example/rss", 50))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	success := 0
	for n := 1; n <= 60; n++ {
		ok := rng.Intn(3) != 0
		if ok {
			success++
		}
		if err := r.RecordFetchAttempt(ctx, id, ok, rng.Intn(10), "boom"); err != nil {
			t.Fatalf("record %d: %v", n, err)
		}

		s, err := r.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if s.FetchCount != n || s.SuccessCount != success || s.ErrorCount != n-success {
			t.Fatalf("after %d attempts counters = %d/%d/%d", n, s.FetchCount, s.SuccessCount, s.ErrorCount)
		}
		if want := models.Percent(success, n); s.HealthScore != want {
			t.Fatalf("after %d attempts health = %d, want %d", n, s.HealthScore, want)
		}
		if s.HealthScore < 0 || s.HealthScore > 100 {
			t.Fatalf("health out of range: %d", s.HealthScore)
		}
	}
}

func TestConcurrentFetchAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	ids := make([]int64, 4)
	for i := range ids {
		id, err := r.Insert(ctx, newSource("S"+string(rune('a'+i)), "https://s"+string(rune('a'+i))+".example/rss", 50))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := r.RecordFetchAttempt(ctx, id, i%2 == 0, 3, "flaky"); err != nil {
					t.Errorf("record: %v", err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if s.FetchCount != 10 || s.SuccessCount != 5 || s.HealthScore != 50 {
			t.Fatalf("source %d: fetch=%d success=%d health=%d", id, s.FetchCount, s.SuccessCount, s.HealthScore)
		}
	}
}

func TestStatsAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRegistry(t)

	a := newSource("A", "https://a.example/rss", 80)
	a.IsVerified = true
	idA, _ := r.Insert(ctx, a)
	b := newSource("B", "https://b.example/rss", 60)
	b.IsActive = false
	idB, _ := r.Insert(ctx, b)

	_ = r.RecordFetchAttempt(ctx, idA, true, 4, "")
	_ = r.RecordFetchAttempt(ctx, idA, true, 4, "")
	_ = r.RecordFetchAttempt(ctx, idB, false, 0, "dns")

	st, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 || st.Active != 1 || st.Verified != 1 {
		t.Fatalf("counts = %+v", st)
	}
	if st.TotalFetches != 3 || st.TotalSuccesses != 2 || st.SuccessRate != 67 {
		t.Fatalf("fetch totals = %+v", st)
	}
	if st.AvgCredibility != 70 {
		t.Fatalf("avg credibility = %v", st.AvgCredibility)
	}

	if err := r.Delete(ctx, idB); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.GetByID(ctx, idB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := r.Delete(ctx, idB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
