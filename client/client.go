// Package client is a Go client for the breakingnews HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/models"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 100

	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	backoffFactor         = 2.0
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Message)
}

// NewsPage is one page of GET /v1/news.
type NewsPage struct {
	Items      []models.Article `json:"items"`
	NextCursor *string          `json:"next_cursor"`
}

// Client calls the API with retries on transient failures.
type Client struct {
	base   *url.URL
	apiKey string
	hc     *http.Client

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// New creates a Client for the server at baseURL. An empty apiKey sends no
// X-API-Key header.
func New(baseURL, apiKey string) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base API URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base API URL %q", baseURL)
	}
	return &Client{
		base:           base,
		apiKey:         apiKey,
		hc:             &http.Client{Timeout: DefaultTimeout},
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}, nil
}

// ListNews fetches one page, newest first. An empty cursor starts at the top.
func (c *Client) ListNews(ctx context.Context, limit int, cursor string) (NewsPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page NewsPage
	err := c.do(ctx, http.MethodGet, "/v1/news", q, &page)
	return page, err
}

// Scrape runs the pipeline on the server and waits for it to finish.
func (c *Client) Scrape(ctx context.Context) (models.PipelineRun, error) {
	var resp struct {
		Run models.PipelineRun `json:"run"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/scrape", url.Values{"wait": {"true"}}, &resp)
	return resp.Run, err
}

// NewSince walks the news pages until it reaches an article with an id at or
// below lastID and hands the newer ones to fn, oldest first. It returns the
// highest id handed over, or lastID when there was nothing new.
func (c *Client) NewSince(ctx context.Context, lastID int64, fn func(models.Article) error) (int64, error) {
	var fresh []models.Article
	cursor := ""
pages:
	for {
		page, err := c.ListNews(ctx, DefaultPageSize, cursor)
		if err != nil {
			return lastID, err
		}
		for _, a := range page.Items {
			if a.ID <= lastID {
				break pages
			}
			fresh = append(fresh, a)
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
	}

	maxID := lastID
	for i := len(fresh) - 1; i >= 0; i-- {
		if err := fn(fresh[i]); err != nil {
			return maxID, err
		}
		maxID = max(maxID, fresh[i].ID)
	}
	return maxID, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	backoff := c.InitialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = c.once(ctx, method, u.String(), out)
		if err == nil || attempt >= c.MaxRetries || !isRetriable(err) {
			return err
		}

		// Add jitter
		delay := time.Duration(float64(backoff) * (1.0 + 0.2*rand.Float64()))
		log.Warn().Err(err).
			Dur("retry_in", delay.Round(time.Millisecond)).
			Int("attempt", attempt+1).
			Msg("Transient API error")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		backoff = min(time.Duration(float64(backoff)*backoffFactor), c.MaxBackoff)
	}
}

func (c *Client) once(ctx context.Context, method, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}

// isRetriable reports whether err is worth another attempt: timeouts, broken
// connections, 5xx and 429.
func isRetriable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
