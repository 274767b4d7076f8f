package models

import "time"

// RawItem is a single entry collected from a source before dedup and
// classification. It is never persisted.
type RawItem struct {
	Title       string
	Content     string
	URL         string
	Source      string
	SourceID    int64
	PublishedAt time.Time
}

// Article represents a row in the articles table
type Article struct {
	ID               int64     `db:"id" json:"id"`
	Headline         string    `db:"headline" json:"headline"`
	Summary          string    `db:"summary" json:"summary"`
	FullText         string    `db:"full_text" json:"full_text"`
	SourceURL        string    `db:"source_url" json:"source_url"`
	OriginalTitle    string    `db:"original_title" json:"original_title"`
	PublishedAt      time.Time `db:"published_at" json:"published_at"`
	CredibilityScore int       `db:"credibility_score" json:"credibility_score"`
	IsBreaking       bool      `db:"is_breaking" json:"is_breaking"`
	Metadata         Metadata  `db:"metadata" json:"metadata,omitempty"` // {"source": "...", "original_title": "..."}
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// NewArticle creates a new Article with default values
func NewArticle() *Article {
	now := time.Now().UTC()
	return &Article{
		PublishedAt: now,
		IsBreaking:  true,
		CreatedAt:   now,
	}
}

// PipelineRun records the statistics of one pipeline run.
type PipelineRun struct {
	ID           string     `db:"id" json:"id"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Collected    int        `db:"collected" json:"collected"`
	Deduplicated int        `db:"deduplicated" json:"deduplicated"`
	Processed    int        `db:"processed" json:"processed"`
	Saved        int        `db:"saved" json:"saved"`
	Failed       int        `db:"failed" json:"failed"`
	Purged       int64      `db:"purged" json:"purged"`
	DurationMS   int64      `db:"duration_ms" json:"duration_ms"`
	Error        string     `db:"error" json:"error,omitempty"`
}

// Duration returns the wall-clock duration of the run.
func (r PipelineRun) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}
