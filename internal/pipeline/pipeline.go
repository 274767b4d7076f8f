// Package pipeline runs collection, dedup, classification and persistence
// as one unit of work and records statistics for every run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reddot-watch/breakingnews/internal/classifier"
	"reddot-watch/breakingnews/internal/dedup"
	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/seencache"
	"reddot-watch/breakingnews/internal/storage"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

const (
	DefaultMinHealth       = 30
	DefaultBatchSize       = 5
	DefaultBatchDelay      = time.Second
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultClassifyTimeout = 90 * time.Second
)

// Registry supplies sources and their live credibility.
type Registry interface {
	ListActive(ctx context.Context, minHealth int) ([]models.Source, error)
	CredibilityByName(ctx context.Context) (map[string]int, error)
}

// Collector fetches raw items from sources.
type Collector interface {
	Collect(ctx context.Context, sources []models.Source) []models.RawItem
}

// Config tunes an Orchestrator. Zero values fall back to the defaults, except
// MinHealth where zero admits every source and only a negative value defaults.
type Config struct {
	MinHealth       int
	BatchSize       int
	BatchDelay      time.Duration
	Retention       time.Duration
	ClassifyTimeout time.Duration
	Comparators     []dedup.Comparator
}

// Orchestrator owns one pipeline run at a time.
type Orchestrator struct {
	registry   Registry
	collector  Collector
	classifier classifier.Classifier
	articles   storage.ArticleRepository
	runs       storage.RunRepository
	seen       seencache.Cache
	cfg        Config

	// rejections are remembered only when a real classifier made them
	markRejected bool

	running atomic.Bool
	now     func() time.Time
}

// New creates an Orchestrator. runs and seen may be nil.
func New(reg Registry, col Collector, cls classifier.Classifier, articles storage.ArticleRepository,
	runs storage.RunRepository, seen seencache.Cache, cfg Config) *Orchestrator {
	if cfg.MinHealth < 0 {
		cfg.MinHealth = DefaultMinHealth
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	markRejected := true
	switch cls.(type) {
	case classifier.Reject, *classifier.Reject:
		markRejected = false
	}
	return &Orchestrator{
		registry:     reg,
		collector:    col,
		classifier:   cls,
		articles:     articles,
		runs:         runs,
		seen:         seen,
		cfg:          cfg,
		markRejected: markRejected,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// counters accumulates per-item outcomes across concurrent classifications.
type counters struct {
	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// Run executes one full pipeline pass. On a systemic failure the partial
// statistics are returned together with the error.
func (o *Orchestrator) Run(ctx context.Context) (models.PipelineRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return models.PipelineRun{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	start := o.now()
	run := models.PipelineRun{ID: uuid.NewString(), StartedAt: start}
	logger := log.With().Str("run_id", run.ID).Logger()
	logger.Info().Msg("Starting pipeline run")

	err := o.run(ctx, &run)

	finished := o.now()
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(start).Milliseconds()
	if err != nil {
		run.Error = err.Error()
	}

	if o.runs != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		if saveErr := o.runs.Save(saveCtx, run); saveErr != nil {
			logger.Error().Err(saveErr).Msg("Failed to record pipeline run")
		}
		cancel()
	}

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Int("collected", run.Collected).
		Int("deduplicated", run.Deduplicated).
		Int("processed", run.Processed).
		Int("saved", run.Saved).
		Int("failed", run.Failed).
		Int64("purged", run.Purged).
		Dur("duration", run.Duration()).
		Msg("Pipeline run finished")
	return run, err
}

func (o *Orchestrator) run(ctx context.Context, run *models.PipelineRun) error {
	sources, err := o.registry.ListActive(ctx, o.cfg.MinHealth)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	byName, err := o.registry.CredibilityByName(ctx)
	if err != nil {
		return fmt.Errorf("load credibility: %w", err)
	}
	byID := make(map[int64]int, len(sources))
	for _, s := range sources {
		byID[s.ID] = s.CredibilityScore
	}

	items := o.collector.Collect(ctx, sources)
	run.Collected = len(items)

	res := dedup.New(dedup.CredibilityPriority(byID, byName), o.cfg.Comparators...).DedupeWithStats(items)
	run.Deduplicated = len(res.Items)
	log.Info().
		Int("before", len(items)).
		Int("after", len(res.Items)).
		Int("replaced", res.Replaced).
		Msg("Deduplicated items")

	var c counters
	for i := 0; i < len(res.Items); i += o.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && o.cfg.BatchDelay > 0 {
			if err := sleep(ctx, o.cfg.BatchDelay); err != nil {
				return err
			}
		}

		end := min(i+o.cfg.BatchSize, len(res.Items))
		batch := res.Items[i:end]
		accepted := make([]*models.Article, len(batch))

		var g errgroup.Group
		for j := range batch {
			g.Go(func() error {
				a, err := o.process(ctx, batch[j], &c)
				accepted[j] = a
				return err
			})
		}
		err := g.Wait()
		run.Processed = int(c.processed.Load())
		run.Failed = int(c.failed.Load())
		if err != nil {
			return err
		}

		for _, a := range accepted {
			if a == nil {
				continue
			}
			inserted, err := o.articles.Insert(ctx, a)
			if err != nil {
				return fmt.Errorf("save article: %w", err)
			}
			if inserted {
				run.Saved++
				log.Info().Int64("article_id", a.ID).Str("headline", a.Headline).Msg("Saved article")
			}
		}
	}

	if n := c.skipped.Load(); n > 0 {
		log.Info().Int64("skipped", n).Msg("Skipped already known items")
	}

	purged, err := o.articles.PurgeOlderThan(ctx, o.now().Add(-o.cfg.Retention))
	if err != nil {
		return fmt.Errorf("purge articles: %w", err)
	}
	run.Purged = purged
	return nil
}

// process classifies one item. It returns the article to save, or nil when
// the item is skipped, rejected or failed. Only store errors are returned.
func (o *Orchestrator) process(ctx context.Context, it models.RawItem, c *counters) (*models.Article, error) {
	logger := log.With().Str("url", it.URL).Str("source", it.Source).Logger()

	if o.seen != nil {
		seen, err := o.seen.Seen(ctx, it.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("Seen cache lookup failed")
		} else if seen {
			c.skipped.Add(1)
			logger.Debug().Msg("Skipping item rejected earlier")
			return nil, nil
		}
	}

	exists, err := o.articles.Exists(ctx, it.Title, it.URL)
	if err != nil {
		return nil, fmt.Errorf("check existing article: %w", err)
	}
	if exists {
		c.skipped.Add(1)
		logger.Debug().Str("title", it.Title).Msg("Skipping duplicate article")
		return nil, nil
	}

	clsCtx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout)
	v, err := o.classifier.Classify(clsCtx, it.Title+"\n\n"+it.Content, it.URL)
	cancel()
	if err != nil || v == nil {
		c.failed.Add(1)
		logger.Warn().Err(err).Msg("Classification failed")
		return nil, nil
	}
	if !v.IsBreaking {
		logger.Debug().Str("title", it.Title).Msg("Not breaking news")
		if o.seen != nil && o.markRejected {
			if err := o.seen.Mark(ctx, it.URL); err != nil {
				logger.Warn().Err(err).Msg("Failed to mark item as seen")
			}
		}
		return nil, nil
	}
	c.processed.Add(1)

	a := models.NewArticle()
	a.Headline = v.Headline
	a.Summary = v.Summary
	a.FullText = v.FullText
	a.SourceURL = it.URL
	a.OriginalTitle = it.Title
	a.PublishedAt = it.PublishedAt.UTC()
	a.CredibilityScore = models.ClampScore(v.CredibilityScore)
	a.CreatedAt = o.now()
	a.Metadata = models.Metadata{"source": it.Source, "original_title": it.Title}
	return a, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
