package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/q2kindle/q2kindle/app/database"
	"github.com/q2kindle/q2kindle/app/delivery"
	"github.com/q2kindle/q2kindle/app/extractor"
	"github.com/q2kindle/q2kindle/app/tasks"
)

func NewHandler(articleRepo database.ArticleRepository, settingsRepo database.SettingsRepository,
	historyRepo database.HistoryRepository, quota QuotaInterface,
	orchestrator OrchestratorInterface, scheduler tasks.TaskSchedulerInterface,
	contentExtractor *extractor.Extractor) *Handler {
	return &Handler{
		articleRepo:  articleRepo,
		settingsRepo: settingsRepo,
		historyRepo:  historyRepo,
		quota:        quota,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		extractor:    contentExtractor,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, health)
}

// CronSend runs one scheduled delivery pass synchronously so the caller
// (an external cron service) sees per-user results in the response.
func (h *Handler) CronSend(c *gin.Context) {
	results, err := h.orchestrator.RunScheduled(c.Request.Context(), time.Now())
	if err != nil {
		slog.Error("Scheduled delivery run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scheduled delivery run failed"})
		return
	}

	if len(results) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "No users matched the current delivery window"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduled delivery run complete",
		"results": results,
	})
}

func (h *Handler) AddArticle(c *gin.Context) {
	userID := c.Param("id")

	var req addArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}

	articleURL := extractor.NormalizeURL(req.URL)
	if parsed, err := url.Parse(articleURL); err != nil || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL"})
		return
	}

	article := database.Article{
		ID:               uuid.NewString(),
		UserID:           userID,
		URL:              articleURL,
		Title:            extractor.Domain(articleURL),
		Status:           database.ArticleStatusQueued,
		ExtractionStatus: database.ExtractionStatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.articleRepo.Insert(article); err != nil {
		slog.Error("Database error", "operation", "insert_article", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save article"})
		return
	}

	extractTask := tasks.NewExtractArticleTask(article.ID, h.articleRepo, h.extractor)
	if err := h.scheduler.EnqueueTask(extractTask); err != nil {
		// The scheduler's ticker loop picks up pending extractions, so a
		// full queue here only delays the content, it does not lose it.
		slog.Warn("Failed to enqueue ExtractArticleTask", "article_id", article.ID, "error", err)
	}

	c.JSON(http.StatusCreated, toArticleJSON(article))
}

func (h *Handler) ListArticles(c *gin.Context) {
	userID := c.Param("id")

	articles, err := h.articleRepo.GetByUser(userID)
	if err != nil {
		slog.Error("Database error", "operation", "list_articles", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load articles"})
		return
	}

	list := make([]articleJSON, 0, len(articles))
	for _, article := range articles {
		list = append(list, toArticleJSON(article))
	}

	c.JSON(http.StatusOK, gin.H{
		"articles": list,
		"total":    len(list),
	})
}

func (h *Handler) DeleteArticle(c *gin.Context) {
	userID := c.Param("id")
	articleID := c.Param("articleId")

	err := h.articleRepo.Delete(articleID, userID)
	if err != nil {
		if errors.Is(err, database.ErrArticleNotQueued) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Article not found or already sent"})
			return
		}
		slog.Error("Database error", "operation", "delete_article", "article_id", articleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete article"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) GetSettings(c *gin.Context) {
	userID := c.Param("id")

	settings, err := h.settingsRepo.Get(userID)
	if err != nil {
		slog.Error("Database error", "operation", "get_settings", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}

	if settings == nil {
		settings = database.NewDefaultSettings(userID)
	}

	c.JSON(http.StatusOK, toSettingsJSON(*settings))
}

func (h *Handler) UpsertSettings(c *gin.Context) {
	userID := c.Param("id")

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	settings, err := buildSettings(userID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.settingsRepo.Upsert(*settings); err != nil {
		slog.Error("Database error", "operation", "upsert_settings", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}

	c.JSON(http.StatusOK, toSettingsJSON(*settings))
}

func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("id")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	records, err := h.historyRepo.ListByUser(userID, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_history", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load send history"})
		return
	}

	list := make([]historyJSON, 0, len(records))
	for _, record := range records {
		list = append(list, toHistoryJSON(record))
	}

	c.JSON(http.StatusOK, gin.H{
		"history": list,
		"total":   len(list),
	})
}

// Send triggers an on-demand delivery for one user. Unlike the scheduled
// pass, every reason for not sending is surfaced to the caller.
func (h *Handler) Send(c *gin.Context) {
	userID := c.Param("id")
	now := time.Now()

	outcome, err := h.orchestrator.SendForUser(c.Request.Context(), userID, delivery.ModeOnDemand, now)
	if err != nil {
		h.respondSendError(c, userID, now, err)
		return
	}

	used, limit := h.quotaUsage(userID, now)
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"articleCount":   outcome.ArticleCount,
		"skippedCount":   outcome.SkippedCount,
		"issueNumber":    outcome.IssueNumber,
		"dailySendsUsed": used,
		"dailySendLimit": limit,
	})
}

func (h *Handler) SendTest(c *gin.Context) {
	userID := c.Param("id")
	now := time.Now()

	err := h.orchestrator.SendTest(c.Request.Context(), userID, now)
	if err != nil {
		switch {
		case errors.Is(err, delivery.ErrConfigIncomplete):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "settings_not_configured",
				"message": "Set a Kindle email address before sending a test",
			})
		case errors.Is(err, delivery.ErrQuotaExceeded):
			used, limit := h.quotaUsage(userID, now)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":          "daily_limit_reached",
				"message":        fmt.Sprintf("Daily send limit of %d reached", limit),
				"dailySendsUsed": used,
				"dailySendLimit": limit,
			})
		default:
			slog.Error("Test send failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "test_failed",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) respondSendError(c *gin.Context, userID string, now time.Time, err error) {
	var compileErr *delivery.CompileError
	var dispatchErr *delivery.DispatchError

	switch {
	case errors.Is(err, delivery.ErrConfigIncomplete):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "settings_not_configured",
			"message": "Set a Kindle email address before sending",
		})
	case errors.Is(err, delivery.ErrNoArticles):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_articles",
			"message": "No queued articles to send",
		})
	case errors.Is(err, delivery.ErrNoContent):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_content",
			"message": "None of the queued articles has extracted content yet",
		})
	case errors.Is(err, delivery.ErrBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "below_minimum",
			"message": "Not enough ready articles to meet the configured minimum",
		})
	case errors.Is(err, delivery.ErrQuotaExceeded):
		used, limit := h.quotaUsage(userID, now)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":          "daily_limit_reached",
			"message":        fmt.Sprintf("Daily send limit of %d reached", limit),
			"dailySendsUsed": used,
			"dailySendLimit": limit,
		})
	case errors.As(err, &compileErr), errors.As(err, &dispatchErr):
		slog.Error("On-demand send failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "send_failed",
			"message": err.Error(),
		})
	default:
		slog.Error("On-demand send failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "send_failed",
			"message": "Internal error during send",
		})
	}
}

func (h *Handler) quotaUsage(userID string, now time.Time) (int, int) {
	timezone := "UTC"
	if settings, err := h.settingsRepo.Get(userID); err == nil && settings != nil {
		timezone = settings.Timezone
	}

	return h.quota.DailySendCount(userID, timezone, now), delivery.DailySendLimit
}

var validScheduleDays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
}

func buildSettings(userID string, req settingsRequest) (*database.DeliverySettings, error) {
	settings := database.NewDefaultSettings(userID)

	if req.KindleEmail != "" && !strings.Contains(req.KindleEmail, "@") {
		return nil, fmt.Errorf("kindle_email is not a valid email address")
	}
	settings.KindleEmail = strings.TrimSpace(req.KindleEmail)

	if len(req.ScheduleDays) > 0 {
		days := make([]string, 0, len(req.ScheduleDays))
		seen := make(map[string]bool)
		for _, day := range req.ScheduleDays {
			day = strings.ToLower(strings.TrimSpace(day))
			if !validScheduleDays[day] {
				return nil, fmt.Errorf("invalid schedule day: %q", day)
			}
			if !seen[day] {
				seen[day] = true
				days = append(days, day)
			}
		}
		settings.ScheduleDays = days

		if req.ScheduleTime == "" {
			return nil, fmt.Errorf("schedule_time is required when schedule_days is set")
		}
	}

	if req.ScheduleTime != "" {
		normalized, err := normalizeScheduleTime(req.ScheduleTime)
		if err != nil {
			return nil, err
		}
		settings.ScheduleTime = normalized
	}

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone: %q", req.Timezone)
		}
		settings.Timezone = req.Timezone
	}

	if req.MinArticleCount != nil {
		if *req.MinArticleCount < 1 {
			return nil, fmt.Errorf("min_article_count must be at least 1")
		}
		settings.MinArticleCount = *req.MinArticleCount
	}

	if req.EpubIncludeImages != nil {
		settings.EpubIncludeImages = *req.EpubIncludeImages
	}
	if req.EpubShowAuthor != nil {
		settings.EpubShowAuthor = *req.EpubShowAuthor
	}
	if req.EpubShowReadTime != nil {
		settings.EpubShowReadTime = *req.EpubShowReadTime
	}
	if req.EpubShowPublishedDate != nil {
		settings.EpubShowPublishedDate = *req.EpubShowPublishedDate
	}

	return settings, nil
}

// normalizeScheduleTime accepts "HH:MM" and stores the whole hour,
// since deliveries only fire at the top of the hour anyway.
func normalizeScheduleTime(raw string) (string, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("schedule_time must be in HH:MM format")
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("schedule_time must have an hour between 00 and 23")
	}

	if minute, err := strconv.Atoi(parts[1]); err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("schedule_time must have a minute between 00 and 59")
	}

	return fmt.Sprintf("%02d:00", hour), nil
}
