package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// FetchTimeout bounds the fetch-and-extract of a single article. A timeout
// leaves the article's content empty, retryable later.
const FetchTimeout = 15 * time.Second

// Result is the extracted article payload consumed by the delivery engine.
type Result struct {
	Title           string
	Author          string
	Description     string
	Content         string
	ReadTimeMinutes int
}

type Extractor struct {
	httpClient *http.Client
	userAgent  string
}

func New(httpClient *http.Client, userAgent string) *Extractor {
	return &Extractor{httpClient: httpClient, userAgent: userAgent}
}

// Run fetches the URL and extracts readable content. Missing title or
// author fall back to the page's domain so queued placeholders always have
// something presentable.
func (e *Extractor) Run(ctx context.Context, rawURL string) (*Result, error) {
	data, err := e.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article: %w", err)
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article URL: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	if strings.TrimSpace(article.Content) == "" {
		return nil, fmt.Errorf("no content extracted from %s", rawURL)
	}

	domain := Domain(rawURL)

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = domain
	}

	author := strings.TrimSpace(article.Byline)
	if author == "" {
		author = strings.TrimSpace(article.SiteName)
	}
	if author == "" {
		author = domain
	}

	result := &Result{
		Title:           title,
		Author:          author,
		Description:     strings.TrimSpace(article.Excerpt),
		Content:         article.Content,
		ReadTimeMinutes: EstimateReadTime(article.TextContent),
	}

	slog.Debug("Content extracted successfully",
		"url", rawURL,
		"title", result.Title,
		"content_length", len(result.Content),
		"read_time_minutes", result.ReadTimeMinutes)

	return result, nil
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("content type is not HTML: %s", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// NormalizeURL prefixes a scheme when the user pasted a bare host/path.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}

// Domain returns the hostname without a leading "www.", or the raw string
// when parsing fails.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}
