package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MinArticleLength is the length a body must exceed to be accepted.
const MinArticleLength = 200

const maxPageBytes = 5 << 20

// ContentSelectors are tried in order when extracting an article body.
var ContentSelectors = []string{
	"article",
	`[role="article"]`,
	".article-content",
	".post-content",
	".entry-content",
	"main",
	".story-body",
}

const noiseSelector = "script, style, nav, header, footer, aside, iframe, .ad, .advertisement"

// Extractor downloads an article page and pulls out its body text.
type Extractor struct {
	client    *http.Client
	userAgent string
}

// NewExtractor creates an extractor with the given request timeout.
func NewExtractor(userAgent string, timeout time.Duration) *Extractor {
	return &Extractor{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Extract returns the article body at pageURL, or "" when nothing long
// enough was found. hint, when set, is tried before the built-in selectors.
func (e *Extractor) Extract(ctx context.Context, pageURL, hint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch article: unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}
	return ExtractFromDocument(doc, hint), nil
}

// ExtractFromDocument applies the selector cascade to a parsed page.
func ExtractFromDocument(doc *goquery.Document, hint string) string {
	doc.Find(noiseSelector).Remove()

	selectors := ContentSelectors
	if hint = strings.TrimSpace(hint); hint != "" {
		selectors = append([]string{hint}, ContentSelectors...)
	}

	for _, sel := range selectors {
		node := doc.Find(sel)
		if node.Length() == 0 {
			continue
		}
		text := normalizeText(node.Text())
		if utf8.RuneCountInString(text) > MinArticleLength {
			return text
		}
	}

	paragraphs := doc.Find("p").Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.Text())
	})
	joined := strings.Join(paragraphs, "\n")
	if utf8.RuneCountInString(joined) > MinArticleLength {
		return joined
	}
	return ""
}

// normalizeText trims each line, collapses inner runs of spaces and drops
// blank lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
