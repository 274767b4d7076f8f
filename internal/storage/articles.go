// Package storage persists published articles and pipeline run statistics.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/models"
)

// ErrNotFound is returned when an article or run does not exist.
var ErrNotFound = errors.New("not found")

const articleColumns = `id, headline, summary, full_text, source_url, original_title, published_at,
	credibility_score, is_breaking, metadata, created_at`

// ArticleRepository defines operations on published articles.
type ArticleRepository interface {
	// Insert stores a. It reports false when an article with the same
	// headline and source URL already exists.
	Insert(ctx context.Context, a *models.Article) (bool, error)
	// Exists reports whether an article was already published for the item
	// with the given title or source URL.
	Exists(ctx context.Context, title, sourceURL string) (bool, error)
	List(ctx context.Context, limit int, cursorTimestamp *time.Time, cursorID *int64) ([]models.Article, error)
	GetByID(ctx context.Context, id int64) (*models.Article, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
}

// sqlxArticles implements ArticleRepository using sqlx.
type sqlxArticles struct {
	db *database.DB
}

// NewArticleRepository creates a new repository instance.
func NewArticleRepository(db *database.DB) ArticleRepository {
	return &sqlxArticles{db: db}
}

func (r *sqlxArticles) Insert(ctx context.Context, a *models.Article) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = a.CreatedAt
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO articles (headline, summary, full_text, source_url, original_title, published_at,
			credibility_score, is_breaking, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(headline, source_url) DO NOTHING`,
		a.Headline, a.Summary, a.FullText, a.SourceURL, a.OriginalTitle, a.PublishedAt.UTC(),
		models.ClampScore(a.CredibilityScore), a.IsBreaking, a.Metadata, a.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	if n == 0 {
		log.Debug().
			Str("headline", a.Headline).
			Str("source_url", a.SourceURL).
			Msg("Duplicate article detected")
		return false, nil
	}

	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return true, nil
}

func (r *sqlxArticles) Exists(ctx context.Context, title, sourceURL string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM articles WHERE source_url = ?`
	args := []any{sourceURL}
	if title != "" {
		query += ` OR original_title = ? OR headline = ?`
		args = append(args, title, title)
	}
	query += `)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("check article: %w", err)
	}
	return exists, nil
}

// List returns breaking articles, newest first. With a cursor only articles
// strictly after the (published_at, id) position are returned.
func (r *sqlxArticles) List(ctx context.Context, limit int, cursorTimestamp *time.Time, cursorID *int64) ([]models.Article, error) {
	// Order must be total for cursor pagination to work.
	const baseQuery = `SELECT ` + articleColumns + ` FROM articles WHERE is_breaking = 1 `
	const orderBy = ` ORDER BY published_at DESC, id DESC LIMIT ?`

	var query string
	var args []any
	if cursorTimestamp != nil && cursorID != nil {
		query = baseQuery + `AND ((published_at < ?) OR (published_at = ? AND id < ?))` + orderBy
		args = append(args, cursorTimestamp.UTC(), cursorTimestamp.UTC(), *cursorID, limit)
	} else {
		query = baseQuery + orderBy
		args = append(args, limit)
	}

	items := []models.Article{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return items, nil
}

func (r *sqlxArticles) GetByID(ctx context.Context, id int64) (*models.Article, error) {
	var a models.Article
	err := r.db.GetContext(ctx, &a, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article %d: %w", id, err)
	}
	return &a, nil
}

// PurgeOlderThan deletes articles published before cutoff.
func (r *sqlxArticles) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	log.Info().Time("cutoff", cutoff.UTC()).Msg("Purging old articles")

	res, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE published_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to execute purge command on articles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Msg("Could not get RowsAffected after purging articles")
		return 0, nil
	}
	return n, nil
}

func (r *sqlxArticles) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM articles`)
	if err != nil {
		return 0, fmt.Errorf("delete articles: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqlxArticles) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM articles`); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}
