// Package report renders source health and published news for people: a
// styled terminal summary and a Word digest.
package report

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"reddot-watch/breakingnews/internal/health"
	"reddot-watch/breakingnews/internal/models"
)

const (
	defaultWidth = 80
	barWidth     = 30
	worstSources = 10
)

// Snapshot is everything the terminal report shows.
type Snapshot struct {
	Health      health.Report
	Sources     []models.Source
	Runs        []models.PipelineRun
	GeneratedAt time.Time
}

// TerminalWidth returns the column count of f, or 80 when f is not a terminal.
func TerminalWidth(f *os.File) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// RenderTerminal formats s for a terminal of the given width.
func RenderTerminal(s Snapshot, width int) string {
	if width <= 0 {
		width = defaultWidth
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Source health report"))
	b.WriteString("\n")
	b.WriteString(DimStyle.Render("generated " + s.GeneratedAt.UTC().Format(time.RFC1123)))
	b.WriteString("\n")

	st := s.Health.SourceStats
	b.WriteString(SectionStyle.Render("Registry"))
	b.WriteString("\n")
	rows := []string{
		row("Sources", fmt.Sprintf("%d (%d active, %d verified)", st.Total, st.Active, st.Verified)),
		row("Avg health", fmt.Sprintf("%.1f", st.AvgHealth)),
		row("Avg credibility", fmt.Sprintf("%.1f", st.AvgCredibility)),
		row("Fetches", fmt.Sprintf("%d (%d ok, %d%%)", st.TotalFetches, st.TotalSuccesses, st.SuccessRate)),
	}
	b.WriteString(BoxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	d := s.Health.Distribution
	b.WriteString(SectionStyle.Render("Health distribution"))
	b.WriteString("\n")
	for _, bucket := range []struct {
		label string
		n     int
		style lipgloss.Style
	}{
		{"excellent >=90", d.Excellent, goodStyle},
		{"good 70-89", d.Good, goodStyle},
		{"fair 50-69", d.Fair, fairStyle},
		{"poor <50", d.Poor, poorStyle},
	} {
		b.WriteString(LabelStyle.Render(bucket.label))
		b.WriteString(bucket.style.Render(bar(bucket.n, st.Total)))
		b.WriteString(" " + strconv.Itoa(bucket.n) + "\n")
	}

	if worst := lowestHealth(s.Sources, worstSources); len(worst) > 0 {
		b.WriteString(SectionStyle.Render("Least healthy sources"))
		b.WriteString("\n")
		nameWidth := max(width-40, 16)
		for _, src := range worst {
			status := "active"
			if !src.IsActive {
				status = "disabled"
			}
			b.WriteString(healthStyle(src.HealthScore).Render(fmt.Sprintf("%3d", src.HealthScore)))
			b.WriteString("  ")
			b.WriteString(SourceStyle.Render(truncate(src.Name, nameWidth)))
			b.WriteString(DimStyle.Render(fmt.Sprintf("  %d/%d ok, %s", src.SuccessCount, src.FetchCount, status)))
			b.WriteString("\n")
		}
	}

	if len(s.Runs) > 0 {
		b.WriteString(SectionStyle.Render("Recent pipeline runs"))
		b.WriteString("\n")
		for _, r := range s.Runs {
			line := fmt.Sprintf("%s  collected %d, unique %d, accepted %d, saved %d, failed %d, purged %d  %s",
				r.StartedAt.UTC().Format("2006-01-02 15:04"), r.Collected, r.Deduplicated, r.Processed,
				r.Saved, r.Failed, r.Purged, r.Duration().Round(time.Millisecond))
			if r.Error != "" {
				b.WriteString(poorStyle.Render(line + "  error: " + truncate(r.Error, 60)))
			} else {
				b.WriteString(line)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func bar(n, total int) string {
	filled := 0
	if total > 0 {
		filled = n * barWidth / total
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// lowestHealth returns up to n sources with the lowest health, fetched ones
// only.
func lowestHealth(sources []models.Source, n int) []models.Source {
	var fetched []models.Source
	for _, s := range sources {
		if s.FetchCount > 0 {
			fetched = append(fetched, s)
		}
	}
	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].HealthScore < fetched[j].HealthScore
	})
	if len(fetched) > n {
		fetched = fetched[:n]
	}
	return fetched
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
