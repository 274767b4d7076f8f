// Package discovery seeds the registry with verified sources and finds feeds
// advertised by arbitrary websites.
package discovery

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/registry"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (compatible; NewsBot/1.0)"
	DefaultTimeout      = 10 * time.Second
	DefaultSiteInterval = time.Second
)

// CommonFeedPaths are probed on every discovered site.
var CommonFeedPaths = []string{
	"/rss",
	"/feed",
	"/rss.xml",
	"/feed.xml",
	"/atom.xml",
	"/feeds/posts/default",
}

const feedLinkSelector = `link[type="application/rss+xml"], link[type="application/atom+xml"], link[rel="alternate"]`

// ErrInvalidSite is returned for website URLs that cannot be searched.
var ErrInvalidSite = errors.New("invalid website URL")

//go:embed seeds.yaml
var seedData []byte

// Store is the part of the registry discovery writes to.
type Store interface {
	Insert(ctx context.Context, s models.Source) (int64, error)
}

// Site is a website to search for feeds.
type Site struct {
	URL      string `json:"url" yaml:"url" binding:"required"`
	Name     string `json:"name,omitempty" yaml:"name"`
	Category string `json:"category,omitempty" yaml:"category"`
}

type SeedResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

type DiscoverResult struct {
	Discovered int `json:"discovered"`
	Added      int `json:"added"`
}

type BulkResult struct {
	Processed  int `json:"processed"`
	Discovered int `json:"discovered"`
	Added      int `json:"added"`
}

// Config configures a Discoverer. Zero values use the defaults.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	SiteInterval time.Duration
}

// Discoverer finds and registers feeds.
type Discoverer struct {
	store     Store
	client    *http.Client
	userAgent string
	interval  time.Duration
}

func New(store Store, cfg Config) *Discoverer {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SiteInterval <= 0 {
		cfg.SiteInterval = DefaultSiteInterval
	}
	return &Discoverer{
		store:     store,
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		interval:  cfg.SiteInterval,
	}
}

type seedSource struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Type        string `yaml:"type"`
	Category    string `yaml:"category"`
	Country     string `yaml:"country"`
	Credibility int    `yaml:"credibility"`
}

// SeedSources returns the embedded list of verified sources.
func SeedSources() ([]models.Source, error) {
	var raw []seedSource
	if err := yaml.Unmarshal(seedData, &raw); err != nil {
		return nil, fmt.Errorf("parse seed sources: %w", err)
	}

	sources := make([]models.Source, 0, len(raw))
	for _, r := range raw {
		typ, err := models.ParseSourceType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("seed source %q: %w", r.Name, err)
		}
		s := models.NewSource()
		s.Name = r.Name
		s.URL = r.URL
		s.Type = typ
		s.Category = r.Category
		s.Country = r.Country
		s.CredibilityScore = r.Credibility
		s.IsVerified = true
		s.AddedBy = models.AddedBySeed
		sources = append(sources, *s)
	}
	return sources, nil
}

// Seed inserts the embedded verified sources. Sources whose URL is already
// registered are skipped.
func (d *Discoverer) Seed(ctx context.Context) (SeedResult, error) {
	var res SeedResult

	sources, err := SeedSources()
	if err != nil {
		return res, err
	}

	log.Info().Int("sources", len(sources)).Msg("Seeding news sources")
	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := d.store.Insert(ctx, s)
		switch {
		case errors.Is(err, registry.ErrDuplicateURL):
			res.Skipped++
		case err != nil:
			log.Error().Err(err).Str("name", s.Name).Msg("Error adding seed source")
		default:
			res.Added++
		}
	}

	log.Info().Int("added", res.Added).Int("skipped", res.Skipped).Msg("Seeding complete")
	return res, nil
}

// Discover looks for feeds on site, validates them and registers the valid
// ones as unverified sources.
func (d *Discoverer) Discover(ctx context.Context, site Site) (DiscoverResult, error) {
	var res DiscoverResult

	base, err := url.Parse(site.URL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return res, fmt.Errorf("%w: %q", ErrInvalidSite, site.URL)
	}

	logger := log.With().Str("site", site.URL).Logger()
	logger.Info().Msg("Discovering feeds")

	candidates, err := d.Candidates(ctx, base)
	if err != nil {
		return res, err
	}

	name := site.Name
	if name == "" {
		name = base.Hostname()
	}

	for _, feedURL := range candidates {
		typ, ok := d.validate(ctx, feedURL)
		if !ok {
			continue
		}
		res.Discovered++

		s := models.NewSource()
		s.Name = name
		s.URL = feedURL
		s.Type = typ
		s.Category = site.Category
		s.CredibilityScore = models.DefaultCredibility
		s.IsVerified = false
		s.AddedBy = models.AddedByDiscovery

		_, err := d.store.Insert(ctx, *s)
		switch {
		case errors.Is(err, registry.ErrDuplicateURL):
			logger.Debug().Str("feed", feedURL).Msg("Feed already registered")
		case err != nil:
			logger.Error().Err(err).Str("feed", feedURL).Msg("Error adding feed")
		default:
			res.Added++
		}
	}

	logger.Info().Int("discovered", res.Discovered).Int("added", res.Added).Msg("Discovery finished")
	return res, nil
}

// BulkDiscover runs Discover for each site, one at a time, waiting between
// sites. A failing site is logged and skipped.
func (d *Discoverer) BulkDiscover(ctx context.Context, sites []Site) (BulkResult, error) {
	var res BulkResult
	limiter := rate.NewLimiter(rate.Every(d.interval), 1)

	for _, site := range sites {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		r, err := d.Discover(ctx, site)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Error().Err(err).Str("site", site.URL).Msg("Error processing site")
			continue
		}
		res.Processed++
		res.Discovered += r.Discovered
		res.Added += r.Added
	}
	return res, nil
}

// Candidates returns the feed URLs advertised by the page at base followed by
// the common feed paths of its origin, without duplicates.
func (d *Discoverer) Candidates(ctx context.Context, base *url.URL) ([]string, error) {
	body, err := d.get(ctx, base.String())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", base, err)
	}

	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	doc.Find(feedLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		add(base.ResolveReference(ref).String())
	})

	origin := base.Scheme + "://" + base.Host
	for _, p := range CommonFeedPaths {
		add(origin + p)
	}
	return out, nil
}

// validate fetches feedURL and reports whether it parses as a feed.
func (d *Discoverer) validate(ctx context.Context, feedURL string) (models.SourceType, bool) {
	body, err := d.get(ctx, feedURL)
	if err != nil {
		log.Debug().Err(err).Str("feed", feedURL).Msg("Feed candidate unreachable")
		return "", false
	}
	defer body.Close()

	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		log.Debug().Err(err).Str("feed", feedURL).Msg("Feed candidate is not a feed")
		return "", false
	}
	if feed.FeedType == "atom" {
		return models.SourceTypeAtom, true
	}
	return models.SourceTypeRSS, true
}

func (d *Discoverer) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
