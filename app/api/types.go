package api

import (
	"context"
	"time"

	"github.com/q2kindle/q2kindle/app/database"
	"github.com/q2kindle/q2kindle/app/delivery"
	"github.com/q2kindle/q2kindle/app/extractor"
	"github.com/q2kindle/q2kindle/app/tasks"
)

type OrchestratorInterface interface {
	RunScheduled(ctx context.Context, now time.Time) ([]delivery.UserResult, error)
	SendForUser(ctx context.Context, userID string, mode delivery.Mode, now time.Time) (delivery.SendOutcome, error)
	SendTest(ctx context.Context, userID string, now time.Time) error
}

var _ OrchestratorInterface = (*delivery.Orchestrator)(nil)

type QuotaInterface interface {
	DailySendCount(userID, timezone string, now time.Time) int
}

var _ QuotaInterface = (*delivery.QuotaTracker)(nil)

type Handler struct {
	articleRepo  database.ArticleRepository
	settingsRepo database.SettingsRepository
	historyRepo  database.HistoryRepository
	quota        QuotaInterface
	orchestrator OrchestratorInterface
	scheduler    tasks.TaskSchedulerInterface
	extractor    *extractor.Extractor
}

type addArticleRequest struct {
	URL string `json:"url" binding:"required"`
}

type settingsRequest struct {
	KindleEmail           string   `json:"kindle_email"`
	ScheduleDays          []string `json:"schedule_days"`
	ScheduleTime          string   `json:"schedule_time"`
	Timezone              string   `json:"timezone"`
	MinArticleCount       *int     `json:"min_article_count"`
	EpubIncludeImages     *bool    `json:"epub_include_images"`
	EpubShowAuthor        *bool    `json:"epub_show_author"`
	EpubShowReadTime      *bool    `json:"epub_show_read_time"`
	EpubShowPublishedDate *bool    `json:"epub_show_published_date"`
}

type articleJSON struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	Description     string     `json:"description,omitempty"`
	ReadTimeMinutes int        `json:"read_time_minutes,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	Status          string     `json:"status"`
	HasContent      bool       `json:"has_content"`
	CreatedAt       time.Time  `json:"created_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

type settingsJSON struct {
	UserID                string   `json:"user_id"`
	KindleEmail           string   `json:"kindle_email"`
	ScheduleDays          []string `json:"schedule_days"`
	ScheduleTime          string   `json:"schedule_time,omitempty"`
	Timezone              string   `json:"timezone"`
	MinArticleCount       int      `json:"min_article_count"`
	EpubIncludeImages     bool     `json:"epub_include_images"`
	EpubShowAuthor        bool     `json:"epub_show_author"`
	EpubShowReadTime      bool     `json:"epub_show_read_time"`
	EpubShowPublishedDate bool     `json:"epub_show_published_date"`
}

type historyJSON struct {
	ID           string                     `json:"id"`
	ArticleCount int                        `json:"article_count"`
	IssueNumber  *int                       `json:"issue_number,omitempty"`
	Status       string                     `json:"status"`
	ErrorMessage string                     `json:"error_message,omitempty"`
	SentAt       time.Time                  `json:"sent_at"`
	Articles     []database.ArticleSnapshot `json:"articles_data,omitempty"`
}

func toArticleJSON(a database.Article) articleJSON {
	return articleJSON{
		ID:              a.ID,
		URL:             a.URL,
		Title:           a.Title,
		Author:          a.Author,
		Description:     a.Description,
		ReadTimeMinutes: a.ReadTimeMinutes,
		PublishedAt:     a.PublishedAt,
		Status:          a.Status,
		HasContent:      a.Content != "",
		CreatedAt:       a.CreatedAt,
		SentAt:          a.SentAt,
	}
}

func toSettingsJSON(s database.DeliverySettings) settingsJSON {
	return settingsJSON{
		UserID:                s.UserID,
		KindleEmail:           s.KindleEmail,
		ScheduleDays:          s.ScheduleDays,
		ScheduleTime:          s.ScheduleTime,
		Timezone:              s.Timezone,
		MinArticleCount:       s.MinArticleCount,
		EpubIncludeImages:     s.EpubIncludeImages,
		EpubShowAuthor:        s.EpubShowAuthor,
		EpubShowReadTime:      s.EpubShowReadTime,
		EpubShowPublishedDate: s.EpubShowPublishedDate,
	}
}

func toHistoryJSON(r database.SendRecord) historyJSON {
	return historyJSON{
		ID:           r.ID,
		ArticleCount: r.ArticleCount,
		IssueNumber:  r.IssueNumber,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
		SentAt:       r.SentAt,
		Articles:     r.Articles,
	}
}
