package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/reddot-watch/feedfetcher"
)

// Entry is one feed entry as returned by a FeedReader.
type Entry struct {
	Title       string
	Link        string
	Snippet     string
	PublishedAt time.Time // zero when the feed did not provide one
}

// FeedReader fetches and parses a syndication feed.
type FeedReader interface {
	Read(ctx context.Context, url string) ([]Entry, error)
}

// ReaderConfig configures the feed readers.
type ReaderConfig struct {
	UserAgent string
	Timeout   time.Duration
	MaxItems  int
	MaxAge    time.Duration
}

// FetcherReader reads feeds with feedfetcher. feedfetcher drops entries with
// no publication date and entries outside the MaxAge window.
type FetcherReader struct {
	fetcher *feedfetcher.FeedFetcher
}

// NewFetcherReader builds a FeedReader on top of feedfetcher.
func NewFetcherReader(cfg ReaderConfig) *FetcherReader {
	return &FetcherReader{
		fetcher: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent:            cfg.UserAgent,
			RequestTimeout:       cfg.Timeout,
			MaxItems:             cfg.MaxItems,
			MaxHeadingLength:     300,
			MaxAge:               cfg.MaxAge,
			FutureDriftTolerance: 12 * time.Hour,
		}),
	}
}

// Read implements FeedReader.
func (r *FetcherReader) Read(ctx context.Context, url string) ([]Entry, error) {
	items, err := r.fetcher.FetchAndProcess(ctx, url)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			Title:       strings.TrimSpace(item.Headline),
			Link:        strings.TrimSpace(item.URL),
			Snippet:     plainText(item.Content),
			PublishedAt: item.PublishedAt,
		})
	}
	return entries, nil
}

// GofeedReader reads feeds with gofeed. It keeps entries of any age.
type GofeedReader struct {
	parser *gofeed.Parser
}

// NewGofeedReader builds a FeedReader on top of gofeed.
func NewGofeedReader(cfg ReaderConfig) *GofeedReader {
	p := gofeed.NewParser()
	p.UserAgent = cfg.UserAgent
	p.Client = &http.Client{Timeout: cfg.Timeout}
	return &GofeedReader{parser: p}
}

// Read implements FeedReader.
func (r *GofeedReader) Read(ctx context.Context, url string) ([]Entry, error) {
	feed, err := r.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		e := Entry{
			Title:   strings.TrimSpace(item.Title),
			Link:    strings.TrimSpace(item.Link),
			Snippet: plainText(item.Description),
		}
		if e.Snippet == "" {
			e.Snippet = plainText(item.Content)
		}
		if item.PublishedParsed != nil {
			e.PublishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			e.PublishedAt = *item.UpdatedParsed
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// NewReader returns the FeedReader registered under name. The empty name
// selects gofeed.
func NewReader(name string, cfg ReaderConfig) (FeedReader, error) {
	switch strings.ToLower(name) {
	case "", "gofeed":
		return NewGofeedReader(cfg), nil
	case "feedfetcher":
		return NewFetcherReader(cfg), nil
	}
	return nil, fmt.Errorf("unknown feed reader %q", name)
}

// plainText strips markup from an HTML fragment.
func plainText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" || !strings.Contains(fragment, "<") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return normalizeText(doc.Text())
}
