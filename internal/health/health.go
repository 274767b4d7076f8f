// Package health walks the source registry and disables, retries, promotes
// or removes sources based on their accumulated fetch statistics.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/registry"
)

// Thresholds of the source state machine.
const (
	DisableMinFetches = 10
	DisableBelow      = 20

	WarnMinFetches = 5
	WarnBelow      = 50

	PromoteMinFetches    = 20
	PromoteMinHealth     = 95
	PromoteBelow         = 90
	PromoteStep          = 5
	PromoteCap           = 95
	RetryAfter           = 7 * 24 * time.Hour
	RetryHealth          = 50
	CleanupMinFetches    = 20
	CleanupBelow         = 10
	CleanupMinRetries    = 3
	disabledReasonHealth = "Low health score"
)

// Metadata keys written by the monitor.
const (
	MetaDisabledReason = "disabled_reason"
	MetaDisabledAt     = "disabled_at"
	MetaReEnabledAt    = "re_enabled_at"
	MetaRetryCount     = "retry_count"
	MetaPromotedAt     = "promoted_at_fetch_count"
)

type CheckResult struct {
	Disabled int `json:"disabled"`
	Warned   int `json:"warned"`
	Promoted int `json:"promoted"`
}

type RetryResult struct {
	ReEnabled int `json:"re_enabled"`
}

type CleanupResult struct {
	Removed int `json:"removed"`
}

// Distribution buckets sources by health score.
type Distribution struct {
	Excellent int `json:"excellent"` // >= 90
	Good      int `json:"good"`      // 70-89
	Fair      int `json:"fair"`      // 50-69
	Poor      int `json:"poor"`      // < 50
}

// Report is a registry-wide health summary.
type Report struct {
	models.SourceStats
	Distribution Distribution `json:"health_distribution"`
}

// Monitor applies the health rules to every registered source.
type Monitor struct {
	reg *registry.Registry
	now func() time.Time
}

// New creates a Monitor using the wall clock.
func New(reg *registry.Registry) *Monitor {
	return &Monitor{reg: reg, now: func() time.Time { return time.Now().UTC() }}
}

// RunHealthChecks disables failing active sources, warns about degraded ones
// and promotes the credibility of consistently reliable sources. Re-running
// it with unchanged statistics changes nothing.
func (m *Monitor) RunHealthChecks(ctx context.Context) (CheckResult, error) {
	var res CheckResult

	sources, err := m.reg.List(ctx, false, 0)
	if err != nil {
		return res, fmt.Errorf("health checks: %w", err)
	}

	for _, src := range sources {
		logger := log.With().Int64("source_id", src.ID).Str("source", src.Name).Int("health", src.HealthScore).Logger()

		switch {
		case src.IsActive && src.FetchCount >= DisableMinFetches && src.HealthScore < DisableBelow:
			meta := src.Metadata.Clone()
			meta[MetaDisabledReason] = disabledReasonHealth
			meta.SetTime(MetaDisabledAt, m.now())
			inactive := false
			if err := m.reg.Update(ctx, src.ID, models.SourceUpdate{IsActive: &inactive, Metadata: &meta}); err != nil {
				logger.Error().Err(err).Msg("Failed to disable source")
				continue
			}
			res.Disabled++
			logger.Warn().Int("fetch_count", src.FetchCount).Msg("Disabled source")

		case src.IsActive && src.FetchCount >= WarnMinFetches && src.HealthScore < WarnBelow:
			res.Warned++
			logger.Warn().Int("fetch_count", src.FetchCount).Msg("Source health is declining")
		}

		if m.promotable(src) {
			cred := min(src.CredibilityScore+PromoteStep, PromoteCap)
			meta := src.Metadata.Clone()
			meta[MetaPromotedAt] = src.FetchCount
			if err := m.reg.Update(ctx, src.ID, models.SourceUpdate{CredibilityScore: &cred, Metadata: &meta}); err != nil {
				logger.Error().Err(err).Msg("Failed to promote source")
				continue
			}
			res.Promoted++
			logger.Info().Int("credibility", cred).Msg("Increased source credibility")
		}
	}

	log.Info().
		Int("disabled", res.Disabled).
		Int("warned", res.Warned).
		Int("promoted", res.Promoted).
		Msg("Health checks complete")
	return res, nil
}

// promotable reports whether src earns a credibility step. A source is only
// promoted again once it has been fetched since its last promotion.
func (m *Monitor) promotable(src models.Source) bool {
	if src.HealthScore < PromoteMinHealth || src.FetchCount < PromoteMinFetches || src.CredibilityScore >= PromoteBelow {
		return false
	}
	if _, ok := src.Metadata[MetaPromotedAt]; ok && src.Metadata.Int(MetaPromotedAt) >= src.FetchCount {
		return false
	}
	return true
}

// RetryDisabled re-enables sources that were disabled by the monitor at
// least RetryAfter ago. Their health is reset to RetryHealth. Sources
// deactivated by hand carry no disabled_at and are left alone.
func (m *Monitor) RetryDisabled(ctx context.Context) (RetryResult, error) {
	var res RetryResult

	sources, err := m.reg.List(ctx, false, 0)
	if err != nil {
		return res, fmt.Errorf("retry disabled sources: %w", err)
	}

	now := m.now()
	for _, src := range sources {
		if src.IsActive {
			continue
		}
		disabledAt, ok := src.Metadata.Time(MetaDisabledAt)
		if !ok || now.Sub(disabledAt) < RetryAfter {
			continue
		}

		meta := src.Metadata.Clone()
		delete(meta, MetaDisabledAt)
		meta.SetTime(MetaReEnabledAt, now)
		meta[MetaRetryCount] = src.Metadata.Int(MetaRetryCount) + 1

		active := true
		health := RetryHealth
		upd := models.SourceUpdate{IsActive: &active, HealthScore: &health, Metadata: &meta}
		if err := m.reg.Update(ctx, src.ID, upd); err != nil {
			log.Error().Err(err).Int64("source_id", src.ID).Msg("Failed to re-enable source")
			continue
		}
		res.ReEnabled++
		log.Info().
			Int64("source_id", src.ID).
			Str("source", src.Name).
			Int("retry_count", meta.Int(MetaRetryCount)).
			Msg("Re-enabled source for retry")
	}

	log.Info().Int("re_enabled", res.ReEnabled).Msg("Disabled source retry complete")
	return res, nil
}

// Cleanup deletes unverified, disabled sources that kept failing across
// several retries.
func (m *Monitor) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	sources, err := m.reg.List(ctx, false, 0)
	if err != nil {
		return res, fmt.Errorf("cleanup sources: %w", err)
	}

	for _, src := range sources {
		if src.IsVerified || src.IsActive {
			continue
		}
		if src.FetchCount < CleanupMinFetches || src.HealthScore >= CleanupBelow {
			continue
		}
		if src.Metadata.Int(MetaRetryCount) < CleanupMinRetries {
			continue
		}
		if err := m.reg.Delete(ctx, src.ID); err != nil {
			log.Error().Err(err).Int64("source_id", src.ID).Msg("Failed to remove source")
			continue
		}
		res.Removed++
		log.Info().Int64("source_id", src.ID).Str("source", src.Name).Msg("Removed failed source")
	}

	log.Info().Int("removed", res.Removed).Msg("Source cleanup complete")
	return res, nil
}

// Report summarizes registry health.
func (m *Monitor) Report(ctx context.Context) (Report, error) {
	var rep Report

	stats, err := m.reg.Stats(ctx)
	if err != nil {
		return rep, fmt.Errorf("health report: %w", err)
	}
	rep.SourceStats = stats

	sources, err := m.reg.List(ctx, false, 0)
	if err != nil {
		return rep, fmt.Errorf("health report: %w", err)
	}
	for _, src := range sources {
		switch h := src.HealthScore; {
		case h >= 90:
			rep.Distribution.Excellent++
		case h >= 70:
			rep.Distribution.Good++
		case h >= 50:
			rep.Distribution.Fair++
		default:
			rep.Distribution.Poor++
		}
	}
	return rep, nil
}

// Run executes checks, retries and cleanup in that order. A failing step is
// logged and the remaining steps still run; the first error is returned.
func (m *Monitor) Run(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.Error().Err(err).Msg("Health step failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	_, err := m.RunHealthChecks(ctx)
	keep(err)
	_, err = m.RetryDisabled(ctx)
	keep(err)
	_, err = m.Cleanup(ctx)
	keep(err)
	return firstErr
}
