// Package classifier decides whether a raw item is breaking news and, if it
// is, rewrites it into a publishable article.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/models"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-4o-mini"
	DefaultTimeout  = 60 * time.Second

	maxInputRunes  = 8000
	notBreaking    = "NOT_BREAKING_NEWS"
	systemMessage  = "You are a professional news editor. Respond only with valid JSON."
	maxTokens      = 2000
	temperature    = 0.7
	maxBodyInError = 512
)

// ErrMalformedResponse is returned when the model reply cannot be decoded.
var ErrMalformedResponse = errors.New("malformed classifier response")

// Verdict is the classifier's decision about one item.
type Verdict struct {
	IsBreaking       bool   `json:"isBreakingNews"`
	Headline         string `json:"headline"`
	Summary          string `json:"summary"`
	FullText         string `json:"fullText"`
	CredibilityScore int    `json:"credibilityScore"`
}

// Classifier judges raw text taken from sourceURL.
type Classifier interface {
	Classify(ctx context.Context, text, sourceURL string) (*Verdict, error)
}

// Reject is used when no classifier is configured: every item is rejected.
type Reject struct{}

func (Reject) Classify(_ context.Context, _ string, sourceURL string) (*Verdict, error) {
	log.Debug().Str("url", sourceURL).Msg("No classifier configured, rejecting item")
	return &Verdict{}, nil
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	hc       *http.Client
}

// NewClient creates a Client. If httpClient is nil, a default with timeout is used.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{endpoint: cfg.Endpoint, model: cfg.Model, apiKey: cfg.APIKey, hc: httpClient}
}

// New returns a Client when an API key is configured and Reject otherwise.
func New(cfg Config) Classifier {
	if cfg.APIKey == "" {
		log.Warn().Msg("Classifier API key not set, all items will be rejected")
		return Reject{}
	}
	return NewClient(cfg, nil)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends text to the model. A reply of NOT_BREAKING_NEWS or a
// verdict with isBreakingNews=false yields a non-breaking Verdict; transport
// failures and undecodable replies are errors.
func (c *Client) Classify(ctx context.Context, text, sourceURL string) (*Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: buildPrompt(text, sourceURL)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classifier new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("classifier read response: %w", err)
	}
	log.Debug().
		Str("model", c.model).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Classifier request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier request failed: status=%d body=%s", resp.StatusCode, truncate(string(respBody), maxBodyInError))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return ParseVerdict(parsed.Choices[0].Message.Content)
}

// ParseVerdict decodes the model's reply, tolerating a surrounding code fence.
func ParseVerdict(content string) (*Verdict, error) {
	content = stripFence(strings.TrimSpace(content))
	if content == "" || content == notBreaking {
		return &Verdict{}, nil
	}

	var v Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !v.IsBreaking {
		return &Verdict{}, nil
	}
	if strings.TrimSpace(v.Headline) == "" {
		return nil, fmt.Errorf("%w: breaking verdict without headline", ErrMalformedResponse)
	}
	v.CredibilityScore = models.ClampScore(v.CredibilityScore)
	return &v, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildPrompt(text, sourceURL string) string {
	return fmt.Sprintf(`You are a professional news editor for a breaking news outlet. Analyze the following content and determine if it qualifies as BREAKING NEWS.

CONTENT:
%s

SOURCE: %s

Your task:
1. Determine if this is BREAKING NEWS (recent, significant, urgent, newsworthy)
2. If YES, create a professional news article with:
   - A compelling headline (max 100 characters)
   - A concise summary (2-3 sentences, max 200 characters)
   - A full article rewrite (400-600 words, professional journalism style)
   - A credibility score (0-100) based on source reliability and content quality

3. If NOT breaking news, respond with: %s

Respond ONLY in this JSON format:
{
  "isBreakingNews": true/false,
  "headline": "...",
  "summary": "...",
  "fullText": "...",
  "credibilityScore": 85
}`, truncate(text, maxInputRunes), sourceURL, notBreaking)
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
