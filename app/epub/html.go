package epub

import (
	"bytes"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/q2kindle/q2kindle/app/database"
)

const brandName = "q2kindle"

const stylesheet = `body { line-height: 1.7; margin: 1em; color: #1a1a1a; }
h1 { font-size: 1.35em; margin: 0 0 0.3em; }
.meta { color: #666; font-size: 0.82em; margin-bottom: 1.8em; }
p { margin: 0 0 0.75em; text-indent: 0; }
.cover { text-align: center; padding: 3em 1em; }
.cover .brand { font-size: 0.8em; text-transform: uppercase; letter-spacing: 0.2em; color: #999; margin-bottom: 2em; }
.cover .issue { font-size: 1.8em; margin: 0 0 0.2em; }
.cover .date { font-size: 0.95em; color: #555; margin-bottom: 1.5em; }
.cover .divider { width: 40px; height: 1px; background: #ccc; margin: 0 auto 1.5em; }
.cover .stats { font-size: 0.85em; color: #777; }
.cover .stats p { margin: 0.2em 0; }`

// extractDomain returns the hostname of a URL without a leading "www.",
// falling back to the raw string when it does not parse.
func extractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

// buildCoverHTML synthesizes the cover page: brand line, optional issue
// number, formatted date, article count, and total read-time estimate.
func buildCoverHTML(issueNumber int, date time.Time, articleCount, totalReadTime int) string {
	var b strings.Builder

	b.WriteString("<div class=\"cover\">\n")
	b.WriteString("  <p class=\"brand\">" + brandName + "</p>\n")
	if issueNumber > 0 {
		fmt.Fprintf(&b, "  <h1 class=\"issue\">Issue #%d</h1>\n", issueNumber)
	}
	fmt.Fprintf(&b, "  <p class=\"date\">%s</p>\n", html.EscapeString(date.Format("January 2, 2006")))
	b.WriteString("  <div class=\"divider\"></div>\n")
	b.WriteString("  <div class=\"stats\">\n")

	plural := "s"
	if articleCount == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "    <p>%d article%s</p>\n", articleCount, plural)
	fmt.Fprintf(&b, "    <p>~%d min total read time</p>\n", totalReadTime)

	b.WriteString("  </div>\n</div>")

	return b.String()
}

// chapterTitle builds the TOC entry: "{title or domain} · {N min}".
func chapterTitle(article database.Article) string {
	title := article.Title
	if title == "" {
		title = extractDomain(article.URL)
	}
	if article.ReadTimeMinutes > 0 {
		return fmt.Sprintf("%s · %d min", title, article.ReadTimeMinutes)
	}
	return title
}

// buildMetaLine assembles the optional metadata line under a chapter
// heading, honoring the user's preference flags.
func buildMetaLine(article database.Article, settings database.DeliverySettings) string {
	var parts []string

	if settings.EpubShowAuthor {
		author := article.Author
		if author == "" {
			author = extractDomain(article.URL)
		}
		parts = append(parts, author)
	}
	if settings.EpubShowReadTime && article.ReadTimeMinutes > 0 {
		parts = append(parts, fmt.Sprintf("%d min read", article.ReadTimeMinutes))
	}
	if settings.EpubShowPublishedDate && article.PublishedAt != nil {
		parts = append(parts, article.PublishedAt.Format("January 2, 2006"))
	}

	if len(parts) == 0 {
		return ""
	}
	return "<p class=\"meta\">" + html.EscapeString(strings.Join(parts, " · ")) + "</p>\n"
}

// stripImages removes picture, figure, and img elements from article HTML
// for users who disabled image inclusion. On a parse failure the original
// markup is kept; a malformed article must not fail the whole compile.
func stripImages(articleHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(articleHTML))
	if err != nil {
		slog.Warn("Failed to parse article HTML for image stripping", "error", err)
		return articleHTML
	}

	doc.Find("picture, figure, img").Remove()

	rendered, err := doc.Find("body").Html()
	if err != nil {
		slog.Warn("Failed to render stripped article HTML", "error", err)
		return articleHTML
	}

	return rendered
}

// buildChapterBody assembles one article chapter: optional meta line
// followed by the extracted content, with images optionally stripped.
func buildChapterBody(article database.Article, settings database.DeliverySettings) string {
	content := article.Content
	if !settings.EpubIncludeImages {
		content = stripImages(content)
	}

	var b bytes.Buffer
	b.WriteString(buildMetaLine(article, settings))
	b.WriteString(content)
	return b.String()
}
