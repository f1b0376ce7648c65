package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrArticleNotQueued is returned when deleting an article that has already
// been sent; sent articles are part of the audit trail and stay put.
var ErrArticleNotQueued = errors.New("article is not queued")

var _ ArticleRepository = (*articleRepository)(nil)

type articleRepository struct {
	db *DB
}

func NewArticleRepository(db *DB) ArticleRepository {
	return &articleRepository{db: db}
}

const articleColumns = `id, user_id, url, title, author, description, content,
	read_time_minutes, published_at, status, extraction_status, extraction_error,
	extraction_attempts, extracted_at, created_at, sent_at`

func (r *articleRepository) Insert(article Article) error {
	_, err := r.db.Exec(`
		INSERT INTO articles (
			id, user_id, url, title, author, description, content,
			read_time_minutes, published_at, status, extraction_status,
			extraction_error, extraction_attempts, extracted_at, created_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		article.ID, article.UserID, article.URL, article.Title, article.Author,
		article.Description, article.Content, article.ReadTimeMinutes,
		formatNullTime(article.PublishedAt), article.Status, article.ExtractionStatus,
		article.ExtractionError, article.ExtractionAttempts,
		formatNullTime(article.ExtractedAt), formatTime(article.CreatedAt),
		formatNullTime(article.SentAt))
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}

	return nil
}

func (r *articleRepository) GetByID(id string) (*Article, error) {
	row := r.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	return article, nil
}

func (r *articleRepository) GetByUser(userID string) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows)
}

// GetQueued returns the user's queued articles oldest first. The order is
// semantically meaningful: it is the chapter order of the compiled ebook.
func (r *articleRepository) GetQueued(userID string) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE user_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC`, userID, ArticleStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued articles: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows)
}

func (r *articleRepository) GetForExtraction(limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE status = ? AND extraction_status = ?
		ORDER BY created_at ASC
		LIMIT ?`, ArticleStatusQueued, ExtractionStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles for extraction: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows)
}

func (r *articleRepository) UpdateExtracted(id, title, author, description, content string, readTimeMinutes int) error {
	now := formatTime(time.Now())

	_, err := r.db.Exec(`
		UPDATE articles
		SET title = ?, author = ?, description = ?, content = ?,
			read_time_minutes = ?, extraction_status = ?, extraction_error = '',
			extracted_at = ?
		WHERE id = ?`,
		title, author, description, content, readTimeMinutes,
		ExtractionStatusSuccess, now, id)
	if err != nil {
		return fmt.Errorf("failed to update extracted content: %w", err)
	}

	return nil
}

// MarkExtractionFailed records a failed attempt. The article stays pending
// (retryable by the scheduler) until maxAttempts is reached.
func (r *articleRepository) MarkExtractionFailed(id string, maxAttempts int, errorMessage string) error {
	now := formatTime(time.Now())

	_, err := r.db.Exec(`
		UPDATE articles
		SET extraction_attempts = extraction_attempts + 1,
			extraction_error = ?,
			extracted_at = ?,
			extraction_status = CASE
				WHEN extraction_attempts + 1 >= ? THEN ?
				ELSE ?
			END
		WHERE id = ?`,
		errorMessage, now, maxAttempts, ExtractionStatusFailed,
		ExtractionStatusPending, id)
	if err != nil {
		return fmt.Errorf("failed to mark extraction failed: %w", err)
	}

	return nil
}

// MarkSent flips a whole delivery batch to sent in one transaction with a
// single shared timestamp. No partial-sent state is ever observable.
func (r *articleRepository) MarkSent(ids []string, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, ArticleStatusSent, formatTime(sentAt))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err = tx.Exec(`
		UPDATE articles
		SET status = ?, sent_at = ?
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark articles sent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sent batch: %w", err)
	}

	return nil
}

func (r *articleRepository) Delete(id, userID string) error {
	result, err := r.db.Exec(`
		DELETE FROM articles
		WHERE id = ? AND user_id = ? AND status = ?`,
		id, userID, ArticleStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrArticleNotQueued
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var publishedAt, extractedAt, sentAt, createdAt sql.NullString

	err := row.Scan(&a.ID, &a.UserID, &a.URL, &a.Title, &a.Author, &a.Description,
		&a.Content, &a.ReadTimeMinutes, &publishedAt, &a.Status,
		&a.ExtractionStatus, &a.ExtractionError, &a.ExtractionAttempts,
		&extractedAt, &createdAt, &sentAt)
	if err != nil {
		return nil, err
	}

	if a.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	if a.ExtractedAt, err = parseNullTime(extractedAt); err != nil {
		return nil, err
	}
	if a.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		if a.CreatedAt, err = parseTime(createdAt.String); err != nil {
			return nil, err
		}
	}

	return &a, nil
}

func collectArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, *article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return articles, nil
}
