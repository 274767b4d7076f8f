package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"reddot-watch/breakingnews/internal/models"
)

// newsServer serves ids newest first in pages of two, cursor = next index.
func newsServer(t *testing.T, ids []int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid or missing API key"}`))
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
		end := min(start+2, len(ids))
		page := NewsPage{}
		for _, id := range ids[start:end] {
			page.Items = append(page.Items, models.Article{ID: id, Headline: "h" + strconv.FormatInt(id, 10)})
		}
		if end < len(ids) {
			next := strconv.Itoa(end)
			page.NextCursor = &next
		}
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewSince(t *testing.T) {
	t.Parallel()
	srv := newsServer(t, []int64{9, 8, 7, 6, 5, 4})
	c, err := New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got []int64
	last, err := c.NewSince(context.Background(), 5, func(a models.Article) error {
		got = append(got, a.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("NewSince: %v", err)
	}
	if last != 9 {
		t.Fatalf("last = %d, want 9", last)
	}
	want := []int64{6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	last, err = c.NewSince(context.Background(), 9, func(models.Article) error {
		t.Fatalf("no article should be newer than 9")
		return nil
	})
	if err != nil || last != 9 {
		t.Fatalf("second pass = %d, %v", last, err)
	}
}

func TestStatusErrorNotRetried(t *testing.T) {
	t.Parallel()
	srv := newsServer(t, nil)
	c, err := New(srv.URL, "wrong")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.ListNews(context.Background(), 10, "")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 StatusError", err)
	}
	if se.Message != "Invalid or missing API key" {
		t.Fatalf("message = %q", se.Message)
	}
}

func TestRetryOnServerError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Method != http.MethodPost || r.URL.Query().Get("wait") != "true" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		w.Write([]byte(`{"run":{"id":"r1","saved":2}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.InitialBackoff = time.Millisecond

	run, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if run.ID != "r1" || run.Saved != 2 {
		t.Fatalf("run = %+v", run)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()
	for _, u := range []string{"", "localhost", "://x"} {
		if _, err := New(u, ""); err == nil {
			t.Fatalf("New(%q) should fail", u)
		}
	}
}
