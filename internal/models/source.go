package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies how a source is fetched.
type SourceType string

const (
	SourceTypeRSS     SourceType = "rss"
	SourceTypeAtom    SourceType = "atom"
	SourceTypeHTML    SourceType = "html"
	SourceTypeAPI     SourceType = "api"
	SourceTypeSitemap SourceType = "sitemap"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeRSS, SourceTypeAtom, SourceTypeHTML, SourceTypeAPI, SourceTypeSitemap:
		return true
	}
	return false
}

// IsFeed reports whether the source is a syndication feed.
func (t SourceType) IsFeed() bool {
	return t == SourceTypeRSS || t == SourceTypeAtom
}

// ParseSourceType converts user input (CSV, API) to a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return SourceTypeRSS, nil
	}
	if !t.Valid() {
		return "", fmt.Errorf("unknown source type %q", s)
	}
	return t, nil
}

// Provenance tags for Source.AddedBy.
const (
	AddedBySystem    = "system"
	AddedByManual    = "manual"
	AddedByDiscovery = "discovery"
	AddedByImport    = "import"
	AddedBySeed      = "seed"
)

// Defaults applied to new sources.
const (
	DefaultCredibility = 50
	DefaultHealth      = 100
	DefaultLanguage    = "en"
)

// Source represents a row in the 'sources' table
type Source struct {
	ID               int64      `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	URL              string     `db:"url" json:"url"`
	Type             SourceType `db:"type" json:"type"`
	Category         string     `db:"category" json:"category"`
	Language         string     `db:"language" json:"language"`
	Country          string     `db:"country" json:"country"`
	CredibilityScore int        `db:"credibility_score" json:"credibility_score"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	IsVerified       bool       `db:"is_verified" json:"is_verified"`
	Selector         string     `db:"selector" json:"selector,omitempty"`
	FetchConfig      Metadata   `db:"fetch_config" json:"fetch_config,omitempty"`
	LastFetchAt      *time.Time `db:"last_fetch_at" json:"last_fetch_at,omitempty"`
	LastSuccessAt    *time.Time `db:"last_success_at" json:"last_success_at,omitempty"`
	LastError        string     `db:"last_error" json:"last_error,omitempty"`
	FetchCount       int        `db:"fetch_count" json:"fetch_count"`
	SuccessCount     int        `db:"success_count" json:"success_count"`
	ErrorCount       int        `db:"error_count" json:"error_count"`
	AvgItemsPerFetch float64    `db:"avg_items_per_fetch" json:"avg_items_per_fetch"`
	HealthScore      int        `db:"health_score" json:"health_score"`
	AddedBy          string     `db:"added_by" json:"added_by"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	Metadata         Metadata   `db:"metadata" json:"metadata,omitempty"`
}

// NewSource creates a new Source with default values
func NewSource() *Source {
	now := time.Now().UTC()
	return &Source{
		Type:             SourceTypeRSS,
		Language:         DefaultLanguage,
		CredibilityScore: DefaultCredibility,
		IsActive:         true,
		HealthScore:      DefaultHealth,
		AddedBy:          AddedBySystem,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SourceUpdate carries a partial update. Nil fields are left untouched.
type SourceUpdate struct {
	Name             *string     `json:"name,omitempty"`
	URL              *string     `json:"url,omitempty"`
	Type             *SourceType `json:"type,omitempty"`
	Category         *string     `json:"category,omitempty"`
	Language         *string     `json:"language,omitempty"`
	Country          *string     `json:"country,omitempty"`
	CredibilityScore *int        `json:"credibility_score,omitempty"`
	IsActive         *bool       `json:"is_active,omitempty"`
	IsVerified       *bool       `json:"is_verified,omitempty"`
	Selector         *string     `json:"selector,omitempty"`
	FetchConfig      *Metadata   `json:"fetch_config,omitempty"`
	Metadata         *Metadata   `json:"metadata,omitempty"`

	// HealthScore is only written by the health monitor's retry reset.
	HealthScore *int `json:"-"`
}

// Empty reports whether the update carries no fields.
func (u SourceUpdate) Empty() bool {
	return u.Name == nil && u.URL == nil && u.Type == nil && u.Category == nil &&
		u.Language == nil && u.Country == nil && u.CredibilityScore == nil &&
		u.IsActive == nil && u.IsVerified == nil && u.Selector == nil &&
		u.FetchConfig == nil && u.Metadata == nil && u.HealthScore == nil
}

// SourceStats aggregates registry-wide counters.
type SourceStats struct {
	Total          int     `db:"total" json:"total"`
	Active         int     `db:"active" json:"active"`
	Verified       int     `db:"verified" json:"verified"`
	AvgHealth      float64 `db:"avg_health" json:"avg_health"`
	AvgCredibility float64 `db:"avg_credibility" json:"avg_credibility"`
	TotalFetches   int     `db:"total_fetches" json:"total_fetches"`
	TotalSuccesses int     `db:"total_successes" json:"total_successes"`
	SuccessRate    int     `db:"-" json:"success_rate"`
}

// ClampScore bounds a credibility or health score to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Percent returns round-half-up(100*part/whole), or 0 when whole is zero.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (200*part + whole) / (2 * whole)
}
