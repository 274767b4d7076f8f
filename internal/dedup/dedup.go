// Package dedup collapses near-identical stories collected from different
// sources into one representative per event.
package dedup

import (
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/models"
)

// DefaultCredibility is the priority of items whose source is unknown.
const DefaultCredibility = 50

// Comparator decides whether two items describe the same event.
type Comparator interface {
	Name() string
	Same(a, b models.RawItem) bool
}

// TitleComparator matches items whose titles are nearly identical.
type TitleComparator struct {
	Threshold float64
}

func (c TitleComparator) Name() string { return "title" }

func (c TitleComparator) Same(a, b models.RawItem) bool {
	return Jaccard(a.Title, b.Title) > c.Threshold
}

// KeywordComparator matches items that share event keywords or names and
// have moderately similar titles.
type KeywordComparator struct {
	MinShared      int
	TitleThreshold float64
	Prefix         int // runes of content added to the title
}

func (c KeywordComparator) Name() string { return "keyword" }

func (c KeywordComparator) Same(a, b models.RawItem) bool {
	ka := Keywords(a.Title + " " + prefix(a.Content, c.Prefix))
	kb := Keywords(b.Title + " " + prefix(b.Content, c.Prefix))
	if sharedCount(ka, kb) < c.MinShared {
		return false
	}
	return Jaccard(a.Title, b.Title) > c.TitleThreshold
}

// ContentComparator matches short items by the opening of their bodies.
type ContentComparator struct {
	MaxLen    int // both bodies must be shorter than this
	Prefix    int
	Threshold float64
}

func (c ContentComparator) Name() string { return "content" }

func (c ContentComparator) Same(a, b models.RawItem) bool {
	if utf8.RuneCountInString(a.Content) >= c.MaxLen || utf8.RuneCountInString(b.Content) >= c.MaxLen {
		return false
	}
	return Jaccard(prefix(a.Content, c.Prefix), prefix(b.Content, c.Prefix)) > c.Threshold
}

// DefaultComparators returns the title, keyword and content tiers, in the
// order they are evaluated.
func DefaultComparators() []Comparator {
	return []Comparator{
		TitleComparator{Threshold: 0.7},
		KeywordComparator{MinShared: 2, TitleThreshold: 0.4, Prefix: 200},
		ContentComparator{MaxLen: 500, Prefix: 300, Threshold: 0.6},
	}
}

// Priority ranks an item; the higher value survives a merge.
type Priority func(models.RawItem) int

// CredibilityPriority ranks items by the live credibility of their source,
// looked up by source id first and name second.
func CredibilityPriority(byID map[int64]int, byName map[string]int) Priority {
	return func(it models.RawItem) int {
		if it.SourceID != 0 {
			if v, ok := byID[it.SourceID]; ok {
				return v
			}
		}
		if v, ok := byName[it.Source]; ok {
			return v
		}
		return DefaultCredibility
	}
}

// Result describes a dedup pass.
type Result struct {
	Items    []models.RawItem
	Removed  int
	Replaced int
}

// Deduplicator merges near-duplicate items, keeping the higher-priority one.
type Deduplicator struct {
	comparators []Comparator
	priority    Priority
}

// New creates a Deduplicator. With no comparators the default tiers are used;
// a nil priority ranks every item equally.
func New(priority Priority, comparators ...Comparator) *Deduplicator {
	if len(comparators) == 0 {
		comparators = DefaultComparators()
	}
	if priority == nil {
		priority = func(models.RawItem) int { return DefaultCredibility }
	}
	return &Deduplicator{comparators: comparators, priority: priority}
}

// Match reports the first comparator that considers a and b the same event.
func (d *Deduplicator) Match(a, b models.RawItem) (string, bool) {
	for _, c := range d.comparators {
		if c.Same(a, b) {
			return c.Name(), true
		}
	}
	return "", false
}

// Dedupe returns one representative per event in first-seen order.
func (d *Deduplicator) Dedupe(items []models.RawItem) []models.RawItem {
	return d.DedupeWithStats(items).Items
}

// DedupeWithStats is Dedupe plus counters. Passes repeat until nothing
// merges, so the output is stable under another Dedupe.
func (d *Deduplicator) DedupeWithStats(items []models.RawItem) Result {
	res := Result{Items: items}
	for {
		out, removed, replaced := d.pass(res.Items)
		res.Items = out
		res.Removed += removed
		res.Replaced += replaced
		if removed == 0 {
			break
		}
	}
	if res.Items == nil {
		res.Items = []models.RawItem{}
	}
	return res
}

func (d *Deduplicator) pass(items []models.RawItem) (out []models.RawItem, removed, replaced int) {
	out = make([]models.RawItem, 0, len(items))
	for _, it := range items {
		merged := false
		for i := range out {
			tier, ok := d.Match(it, out[i])
			if !ok {
				continue
			}
			merged = true
			removed++
			if d.priority(it) > d.priority(out[i]) {
				log.Debug().
					Str("tier", tier).
					Str("kept", it.Source).
					Str("dropped", out[i].Source).
					Str("title", prefix(it.Title, 60)).
					Msg("Replacing duplicate with higher credibility source")
				out[i] = it
				replaced++
			} else {
				log.Debug().
					Str("tier", tier).
					Str("kept", out[i].Source).
					Str("dropped", it.Source).
					Str("title", prefix(it.Title, 60)).
					Msg("Skipping duplicate")
			}
			break
		}
		if !merged {
			out = append(out, it)
		}
	}
	return out, removed, replaced
}
