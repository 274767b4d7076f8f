// Package collector fetches raw items from every active source concurrently
// and reports each source's outcome back to the registry.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reddot-watch/breakingnews/internal/models"
)

const (
	DefaultMaxItems  = 10
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; NewsBot/1.0)"
)

var errUnsupportedType = errors.New("unsupported source type")

// FetchRecorder receives the outcome of every source fetch.
type FetchRecorder interface {
	RecordFetchAttempt(ctx context.Context, id int64, success bool, itemCount int, fetchErr string) error
}

// ArticleExtractor fetches the full body of a linked article.
type ArticleExtractor interface {
	Extract(ctx context.Context, pageURL, hint string) (string, error)
}

// Config tunes a Collector.
type Config struct {
	Workers  int // concurrent sources, 0 for no limit
	MaxItems int
	Timeout  time.Duration
}

// Collector fetches sources concurrently with per-source isolation.
type Collector struct {
	reader    FeedReader
	extractor ArticleExtractor
	recorder  FetchRecorder
	workers   int
	maxItems  int
	timeout   time.Duration
	now       func() time.Time
}

// New creates a Collector. extractor may be nil to skip full-article fetches.
func New(reader FeedReader, extractor ArticleExtractor, recorder FetchRecorder, cfg Config) *Collector {
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Collector{
		reader:    reader,
		extractor: extractor,
		recorder:  recorder,
		workers:   cfg.Workers,
		maxItems:  cfg.MaxItems,
		timeout:   cfg.Timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Collect fetches every source and returns the union of their items, grouped
// in the order of sources. It never fails: source errors are logged and
// recorded as failed attempts.
func (c *Collector) Collect(ctx context.Context, sources []models.Source) []models.RawItem {
	results := make([][]models.RawItem, len(sources))

	var g errgroup.Group
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}

	for i := range sources {
		src := sources[i]
		g.Go(func() error {
			results[i] = c.collectSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, r := range results {
		total += len(r)
	}
	items := make([]models.RawItem, 0, total)
	for _, r := range results {
		items = append(items, r...)
	}

	log.Info().
		Int("sources", len(sources)).
		Int("items", len(items)).
		Msg("Collection finished")
	return items
}

func (c *Collector) collectSource(ctx context.Context, src models.Source) []models.RawItem {
	if ctx.Err() != nil {
		return nil
	}

	items, err := c.fetchSource(ctx, src)

	logger := log.With().Int64("source_id", src.ID).Str("source", src.Name).Logger()
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		logger.Warn().Err(err).Str("url", src.URL).Msg("Source fetch failed")
	} else if len(items) == 0 {
		logger.Debug().Msg("Source returned no items")
	} else {
		logger.Debug().Int("items", len(items)).Msg("Source fetched")
	}

	if c.recorder != nil && src.ID != 0 {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		recErr := c.recorder.RecordFetchAttempt(recCtx, src.ID, len(items) > 0, len(items), errMsg)
		cancel()
		if recErr != nil {
			logger.Error().Err(recErr).Msg("Failed to record fetch attempt")
		}
	}
	return items
}

func (c *Collector) fetchSource(ctx context.Context, src models.Source) (items []models.RawItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("panic while fetching: %v", r)
		}
	}()

	if !src.Type.IsFeed() {
		return nil, fmt.Errorf("%w: %s", errUnsupportedType, src.Type)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	entries, err := c.reader.Read(fetchCtx, src.URL)
	cancel()
	if err != nil {
		return nil, err
	}

	if len(entries) > c.maxItems {
		entries = entries[:c.maxItems]
	}

	for _, e := range entries {
		if e.Title == "" || e.Link == "" {
			continue
		}

		content := e.Snippet
		if utf8.RuneCountInString(content) < MinArticleLength && c.extractor != nil {
			articleCtx, cancel := context.WithTimeout(ctx, c.timeout)
			full, xerr := c.extractor.Extract(articleCtx, e.Link, src.Selector)
			cancel()
			if xerr != nil {
				log.Debug().Err(xerr).Str("url", e.Link).Msg("Full article fetch failed, keeping snippet")
			} else if full != "" {
				content = full
			}
		}

		published := e.PublishedAt
		if published.IsZero() {
			published = c.now()
		}

		items = append(items, models.RawItem{
			Title:       e.Title,
			Content:     content,
			URL:         e.Link,
			Source:      src.Name,
			SourceID:    src.ID,
			PublishedAt: published.UTC(),
		})
	}
	return items, nil
}
