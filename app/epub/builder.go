package epub

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	goepub "github.com/go-shiori/go-epub"

	"github.com/q2kindle/q2kindle/app/database"
)

// Builder assembles EPUB files for Kindle delivery. It implements the
// delivery.Compiler contract.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

type chapter struct {
	title    string
	body     string
	filename string
}

// Compile builds the digest ebook: a synthesized cover page followed by one
// chapter per article in queue order. The context bounds the whole
// assembly; a compile that overruns it fails rather than hangs.
func (b *Builder) Compile(ctx context.Context, articles []database.Article,
	settings database.DeliverySettings, issueNumber int, now time.Time) ([]byte, string, error) {
	dateStr := now.UTC().Format("2006-01-02")

	totalReadTime := 0
	for _, article := range articles {
		totalReadTime += article.ReadTimeMinutes
	}

	chapters := make([]chapter, 0, len(articles)+1)
	chapters = append(chapters, chapter{
		title:    "Cover",
		body:     buildCoverHTML(issueNumber, now.UTC(), len(articles), totalReadTime),
		filename: "cover.xhtml",
	})
	for i, article := range articles {
		chapters = append(chapters, chapter{
			title:    chapterTitle(article),
			body:     buildChapterBody(article, settings),
			filename: fmt.Sprintf("article_%d.xhtml", i),
		})
	}

	title := fmt.Sprintf("%s - %s", brandName, dateStr)
	filename := fmt.Sprintf("%s-%s.epub", brandName, dateStr)

	data, err := b.assemble(ctx, title, chapters)
	if err != nil {
		return nil, "", err
	}

	return data, filename, nil
}

// CompileDiagnostic builds the single-chapter test ebook used to verify a
// user's Kindle address.
func (b *Builder) CompileDiagnostic(ctx context.Context, kindleEmail string, now time.Time) ([]byte, string, error) {
	dateStr := now.UTC().Format("2006-01-02")

	body := fmt.Sprintf(`<h2>Test Delivery Successful</h2>
<p>This is a test email from %s. If you're reading this on your Kindle, your email configuration is working correctly.</p>
<p><strong>Sent:</strong> %s</p>
<p><strong>To:</strong> %s</p>
<p class="meta">You can delete this document from your Kindle library.</p>`,
		brandName, now.UTC().Format("Monday, January 2, 2006 15:04 MST"), kindleEmail)

	title := fmt.Sprintf("%s - Test (%s)", brandName, dateStr)
	filename := fmt.Sprintf("%s-Test-%s.epub", brandName, dateStr)

	data, err := b.assemble(ctx, title, []chapter{
		{title: "Test Delivery", body: body, filename: "test.xhtml"},
	})
	if err != nil {
		return nil, "", err
	}

	return data, filename, nil
}

// assemble runs the go-epub build under the caller's context. The library
// has no cancellation hooks, so the work runs in a goroutine and the result
// is abandoned on timeout.
func (b *Builder) assemble(ctx context.Context, title string, chapters []chapter) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)
	go func() {
		data, err := buildEpub(title, chapters)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("epub assembly aborted: %w", ctx.Err())
	}
}

func buildEpub(title string, chapters []chapter) ([]byte, error) {
	book, err := goepub.NewEpub(title)
	if err != nil {
		return nil, fmt.Errorf("failed to create epub: %w", err)
	}
	book.SetAuthor(brandName)

	cssPath, err := addStylesheet(book)
	if err != nil {
		return nil, err
	}

	for _, ch := range chapters {
		if _, err := book.AddSection(ch.body, ch.title, ch.filename, cssPath); err != nil {
			return nil, fmt.Errorf("failed to add chapter %q: %w", ch.title, err)
		}
	}

	var buf bytes.Buffer
	if _, err := book.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write epub: %w", err)
	}

	return buf.Bytes(), nil
}

// addStylesheet registers the shared CSS. go-epub only takes file or URL
// sources, so the stylesheet goes through a temp file.
func addStylesheet(book *goepub.Epub) (string, error) {
	tmp, err := os.CreateTemp("", "q2kindle-*.css")
	if err != nil {
		return "", fmt.Errorf("failed to create stylesheet temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(stylesheet); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write stylesheet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close stylesheet temp file: %w", err)
	}

	cssPath, err := book.AddCSS(tmp.Name(), "styles.css")
	if err != nil {
		return "", fmt.Errorf("failed to add stylesheet: %w", err)
	}

	return cssPath, nil
}
