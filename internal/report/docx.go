package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gingfrederik/docx"

	"reddot-watch/breakingnews/internal/models"
)

const separator = "--------------------------------------------------"

// DigestFilename returns the default digest file name for t.
func DigestFilename(t time.Time) string {
	return fmt.Sprintf("breaking_%s.docx", t.UTC().Format("2006-01-02_15-04"))
}

// ExportDocx writes articles as a Word digest to path, creating its directory.
func ExportDocx(path string, articles []models.Article, generatedAt time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	f := docx.NewFile()

	addText(f, "Breaking News Digest", 20, "")
	addText(f, fmt.Sprintf("%d articles, generated %s", len(articles), generatedAt.UTC().Format(time.RFC1123)), 10, "808080")
	f.AddParagraph() // Spacer

	for _, a := range articles {
		addText(f, a.Headline, 16, "")

		meta := fmt.Sprintf("Published: %s | Credibility: %d", a.PublishedAt.UTC().Format("2006-01-02 15:04 MST"), a.CredibilityScore)
		if src := a.Metadata.String("source"); src != "" {
			meta = "Source: " + src + " | " + meta
		}
		addText(f, meta, 10, "808080")
		addText(f, a.SourceURL, 10, "0000FF")

		if a.Summary != "" {
			addText(f, a.Summary, 12, "")
		}
		for _, txt := range strings.Split(a.FullText, "\n\n") {
			if txt = strings.TrimSpace(txt); txt != "" {
				f.AddParagraph().AddText(txt)
			}
		}
		f.AddParagraph().AddText(separator)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save digest %s: %w", path, err)
	}
	return nil
}

// addText appends a one-run paragraph. Zero size or empty color keep the
// document defaults.
func addText(f *docx.File, text string, size int, color string) {
	run := f.AddParagraph().AddText(text)
	if size > 0 {
		run.Size(size)
	}
	if color != "" {
		run.Color(color)
	}
}
