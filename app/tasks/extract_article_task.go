package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/q2kindle/q2kindle/app/database"
	"github.com/q2kindle/q2kindle/app/extractor"
)

// ExtractArticleTask fetches and extracts readable content for one queued
// article. A failure leaves the article's content empty and its extraction
// status pending, so the scheduler can try again until attempts run out.
type ExtractArticleTask struct {
	Task
	ArticleID   string
	articleRepo database.ArticleRepository
	extractor   *extractor.Extractor
}

func NewExtractArticleTask(articleID string, articleRepo database.ArticleRepository,
	contentExtractor *extractor.Extractor) *ExtractArticleTask {
	return &ExtractArticleTask{
		Task:        NewTask(TaskTypeExtractArticle, articleID),
		ArticleID:   articleID,
		articleRepo: articleRepo,
		extractor:   contentExtractor,
	}
}

func (t *ExtractArticleTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	article, err := t.articleRepo.GetByID(t.ArticleID)
	if err != nil {
		return fmt.Errorf("failed to load article: %w", err)
	}
	if article == nil {
		slog.Debug("Article deleted before extraction, skipping", "article_id", t.ArticleID)
		return nil
	}
	if article.Status != database.ArticleStatusQueued {
		slog.Debug("Article no longer queued, skipping extraction", "article_id", t.ArticleID)
		return nil
	}

	result, err := t.extractor.Run(ctx, article.URL)
	if err != nil {
		if markErr := t.articleRepo.MarkExtractionFailed(t.ArticleID, DefaultMaxRetries, err.Error()); markErr != nil {
			slog.Error("Failed to record extraction failure",
				"article_id", t.ArticleID, "error", markErr)
		}
		return fmt.Errorf("failed to extract article %s: %w", article.URL, err)
	}

	err = t.articleRepo.UpdateExtracted(t.ArticleID, result.Title, result.Author,
		result.Description, result.Content, result.ReadTimeMinutes)
	if err != nil {
		return fmt.Errorf("failed to store extracted content: %w", err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"article_id", t.ArticleID,
		"duration", t.GetDuration(),
		"content_length", len(result.Content),
		"read_time_minutes", result.ReadTimeMinutes)

	return nil
}
