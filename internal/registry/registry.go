// Package registry owns the sources table: configuration and live fetch
// statistics for every content source.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/models"
)

var (
	ErrDuplicateURL  = errors.New("source URL already exists")
	ErrNotFound      = errors.New("source not found")
	ErrInvalidSource = errors.New("invalid source")
)

const sourceColumns = `id, name, url, type, category, language, country, credibility_score,
	is_active, is_verified, selector, fetch_config, last_fetch_at, last_success_at, last_error,
	fetch_count, success_count, error_count, avg_items_per_fetch, health_score, added_by,
	created_at, updated_at, metadata`

// Registry persists sources and their fetch bookkeeping.
type Registry struct {
	db  *database.DB
	now func() time.Time
}

// New creates a registry backed by db.
func New(db *database.DB) *Registry {
	return &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListActive returns active sources with health >= minHealth, best first.
func (r *Registry) ListActive(ctx context.Context, minHealth int) ([]models.Source, error) {
	return r.List(ctx, true, minHealth)
}

// List returns sources ordered by credibility then health, both descending.
// activeOnly restricts the result to active sources.
func (r *Registry) List(ctx context.Context, activeOnly bool, minHealth int) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE health_score >= ?`
	args := []any{minHealth}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY credibility_score DESC, health_score DESC, id ASC`

	sources := []models.Source{}
	if err := r.db.SelectContext(ctx, &sources, query, args...); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// GetByID returns the source with the given id or ErrNotFound.
func (r *Registry) GetByID(ctx context.Context, id int64) (*models.Source, error) {
	var s models.Source
	err := r.db.GetContext(ctx, &s, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	return &s, nil
}

// GetByURL returns the source with the given URL or ErrNotFound.
func (r *Registry) GetByURL(ctx context.Context, url string) (*models.Source, error) {
	var s models.Source
	err := r.db.GetContext(ctx, &s, `SELECT `+sourceColumns+` FROM sources WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source by url: %w", err)
	}
	return &s, nil
}

// Insert adds a new source and returns its id. Start from models.NewSource to
// get the default scores; scores are clamped either way.
func (r *Registry) Insert(ctx context.Context, s models.Source) (int64, error) {
	if err := validate(&s); err != nil {
		return 0, err
	}

	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (name, url, type, category, language, country, credibility_score,
			is_active, is_verified, selector, fetch_config, health_score, added_by,
			created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.URL, s.Type, s.Category, s.Language, s.Country, models.ClampScore(s.CredibilityScore),
		s.IsActive, s.IsVerified, s.Selector, s.FetchConfig, models.ClampScore(s.HealthScore), s.AddedBy,
		now, now, s.Metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateURL, s.URL)
		}
		return 0, fmt.Errorf("insert source: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert source: %w", err)
	}

	log.Debug().Int64("source_id", id).Str("url", s.URL).Str("added_by", s.AddedBy).Msg("Source added")
	return id, nil
}

// Upsert inserts s when it has no id, otherwise applies all of its mutable
// configuration fields as an update.
func (r *Registry) Upsert(ctx context.Context, s models.Source) (int64, error) {
	if s.ID == 0 {
		return r.Insert(ctx, s)
	}
	upd := models.SourceUpdate{
		Name:             &s.Name,
		URL:              &s.URL,
		Type:             &s.Type,
		Category:         &s.Category,
		Language:         &s.Language,
		Country:          &s.Country,
		CredibilityScore: &s.CredibilityScore,
		IsActive:         &s.IsActive,
		IsVerified:       &s.IsVerified,
		Selector:         &s.Selector,
	}
	if s.FetchConfig != nil {
		upd.FetchConfig = &s.FetchConfig
	}
	if s.Metadata != nil {
		upd.Metadata = &s.Metadata
	}
	return s.ID, r.Update(ctx, s.ID, upd)
}

// Update writes only the supplied fields of u; updated_at is always refreshed.
func (r *Registry) Update(ctx context.Context, id int64, u models.SourceUpdate) error {
	b := sq.Update("sources").
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Question)

	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return fmt.Errorf("%w: name is required", ErrInvalidSource)
		}
		b = b.Set("name", strings.TrimSpace(*u.Name))
	}
	if u.URL != nil {
		if strings.TrimSpace(*u.URL) == "" {
			return fmt.Errorf("%w: url is required", ErrInvalidSource)
		}
		b = b.Set("url", strings.TrimSpace(*u.URL))
	}
	if u.Type != nil {
		if !u.Type.Valid() {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidSource, *u.Type)
		}
		b = b.Set("type", *u.Type)
	}
	if u.Category != nil {
		b = b.Set("category", *u.Category)
	}
	if u.Language != nil {
		b = b.Set("language", *u.Language)
	}
	if u.Country != nil {
		b = b.Set("country", *u.Country)
	}
	if u.CredibilityScore != nil {
		b = b.Set("credibility_score", models.ClampScore(*u.CredibilityScore))
	}
	if u.HealthScore != nil {
		b = b.Set("health_score", models.ClampScore(*u.HealthScore))
	}
	if u.IsActive != nil {
		b = b.Set("is_active", *u.IsActive)
	}
	if u.IsVerified != nil {
		b = b.Set("is_verified", *u.IsVerified)
	}
	if u.Selector != nil {
		b = b.Set("selector", *u.Selector)
	}
	if u.FetchConfig != nil {
		b = b.Set("fetch_config", *u.FetchConfig)
	}
	if u.Metadata != nil {
		b = b.Set("metadata", *u.Metadata)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build source update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateURL, *u.URL)
		}
		return fmt.Errorf("update source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update source %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFetchAttempt folds one fetch outcome into the source's counters in a
// single statement. last_error is only written on failure.
func (r *Registry) RecordFetchAttempt(ctx context.Context, id int64, success bool, itemCount int, fetchErr string) error {
	if itemCount < 0 {
		itemCount = 0
	}
	s, e := 0, 1
	if success {
		s, e = 1, 0
	}
	now := r.now()

	// Every right-hand side reads the pre-update row.
	res, err := r.db.ExecContext(ctx, `
		UPDATE sources SET
			fetch_count         = fetch_count + 1,
			success_count       = success_count + ?,
			error_count         = error_count + ?,
			avg_items_per_fetch = (avg_items_per_fetch * fetch_count + ?) / (fetch_count + 1),
			health_score        = CAST((success_count + ?) * 100.0 / (fetch_count + 1) + 0.5 AS INTEGER),
			last_fetch_at       = ?,
			last_success_at     = CASE WHEN ? THEN ? ELSE last_success_at END,
			last_error          = CASE WHEN ? THEN last_error ELSE ? END,
			updated_at          = ?
		WHERE id = ?`,
		s, e, itemCount, s, now, success, now, success, fetchErr, now, id,
	)
	if err != nil {
		return fmt.Errorf("record fetch attempt for source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record fetch attempt for source %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a source permanently.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates registry-wide counters.
func (r *Registry) Stats(ctx context.Context) (models.SourceStats, error) {
	var st models.SourceStats
	err := r.db.GetContext(ctx, &st, `
		SELECT
			COUNT(*)                                 AS total,
			COALESCE(SUM(is_active), 0)              AS active,
			COALESCE(SUM(is_verified), 0)            AS verified,
			COALESCE(AVG(health_score), 0)           AS avg_health,
			COALESCE(AVG(credibility_score), 0)      AS avg_credibility,
			COALESCE(SUM(fetch_count), 0)            AS total_fetches,
			COALESCE(SUM(success_count), 0)          AS total_successes
		FROM sources`)
	if err != nil {
		return st, fmt.Errorf("source stats: %w", err)
	}
	st.SuccessRate = models.Percent(st.TotalSuccesses, st.TotalFetches)
	return st, nil
}

// CredibilityByName returns a name -> credibility lookup of every source.
func (r *Registry) CredibilityByName(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Name        string `db:"name"`
		Credibility int    `db:"credibility_score"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT name, credibility_score FROM sources`); err != nil {
		return nil, fmt.Errorf("load credibility: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Credibility
	}
	return out, nil
}

func validate(s *models.Source) error {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	}
	if s.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidSource)
	}
	if s.Type == "" {
		s.Type = models.SourceTypeRSS
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSource, s.Type)
	}
	if s.Language == "" {
		s.Language = models.DefaultLanguage
	}
	if s.AddedBy == "" {
		s.AddedBy = models.AddedByManual
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
