package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/q2kindle/q2kindle/app/database"
)

// CompileTimeout bounds ebook assembly; a compile that hangs past it fails
// the whole delivery attempt for that user.
const CompileTimeout = 15 * time.Second

// Orchestrator drives the delivery pipeline: quota check, article
// selection, issue numbering, ebook compilation, dispatch, and history
// persistence. All collaborators are injected; there is no hidden shared
// state beyond the per-user lock registry.
type Orchestrator struct {
	articleRepo  database.ArticleRepository
	settingsRepo database.SettingsRepository
	historyRepo  database.HistoryRepository
	quota        *QuotaTracker
	compiler     Compiler
	dispatcher   Dispatcher
	locks        *userLocks
}

func NewOrchestrator(articleRepo database.ArticleRepository,
	settingsRepo database.SettingsRepository, historyRepo database.HistoryRepository,
	quota *QuotaTracker, compiler Compiler, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{
		articleRepo:  articleRepo,
		settingsRepo: settingsRepo,
		historyRepo:  historyRepo,
		quota:        quota,
		compiler:     compiler,
		dispatcher:   dispatcher,
		locks:        newUserLocks(),
	}
}

// RunScheduled iterates every schedulable user, runs the pipeline for those
// whose delivery window is open, and aggregates per-user outcomes. One
// user's failure never aborts the iteration over the rest.
func (o *Orchestrator) RunScheduled(ctx context.Context, now time.Time) ([]UserResult, error) {
	allSettings, err := o.settingsRepo.GetSchedulable()
	if err != nil {
		return nil, fmt.Errorf("failed to query schedulable settings: %w", err)
	}

	if len(allSettings) == 0 {
		slog.Info("No users with scheduled sends configured")
		return []UserResult{}, nil
	}

	results := make([]UserResult, 0, len(allSettings))
	for _, settings := range allSettings {
		if !IsWindowOpen(settings, now) {
			slog.Debug("Delivery window closed",
				"user_id", settings.UserID,
				"schedule_time", settings.ScheduleTime,
				"timezone", settings.Timezone)
			continue
		}

		slog.Info("Delivery window open", "user_id", settings.UserID)
		results = append(results, o.runUser(ctx, settings.UserID, now))
	}

	return results, nil
}

// runUser executes one user's pipeline and converts the outcome into a
// result row. Every error is contained here; nothing propagates past the
// per-user boundary.
func (o *Orchestrator) runUser(ctx context.Context, userID string, now time.Time) (result UserResult) {
	result = UserResult{UserID: userID}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in user delivery pipeline", "user_id", userID, "panic", r)
			result.Status = "error"
			result.Message = fmt.Sprintf("panic: %v", r)
		}
	}()

	outcome, err := o.SendForUser(ctx, userID, ModeScheduled, now)
	switch {
	case err == nil:
		result.Status = "success"
		result.Message = fmt.Sprintf("%d articles sent", outcome.ArticleCount)
	case errors.Is(err, ErrNoArticles):
		result.Status = "skipped"
		result.Message = "No queued articles"
	case errors.Is(err, ErrNoContent):
		result.Status = "skipped"
		result.Message = "No articles with content"
	case errors.Is(err, ErrBelowMinimum):
		result.Status = "skipped"
		result.Message = fmt.Sprintf("Below minimum (%d sendable)", outcome.ArticleCount)
	case errors.Is(err, ErrQuotaExceeded):
		result.Status = "skipped"
		result.Message = "Daily send limit reached"
	case errors.Is(err, ErrConfigIncomplete):
		result.Status = "skipped"
		result.Message = "Delivery settings incomplete"
	default:
		var compileErr *CompileError
		var dispatchErr *DispatchError
		if errors.As(err, &compileErr) || errors.As(err, &dispatchErr) {
			result.Status = "failed"
		} else {
			result.Status = "error"
		}
		result.Message = err.Error()
	}

	slog.Info("Scheduled delivery outcome",
		"user_id", userID, "status", result.Status, "message", result.Message)

	return result
}

// SendForUser runs the shared delivery pipeline for one user. The steps are
// strictly sequential: quota, selection, issue numbering, compile, dispatch,
// persistence. The per-user lock is held across all of them.
func (o *Orchestrator) SendForUser(ctx context.Context, userID string, mode Mode, now time.Time) (SendOutcome, error) {
	unlock := o.locks.Lock(userID)
	defer unlock()

	settings, err := o.settingsRepo.Get(userID)
	if err != nil {
		return SendOutcome{}, fmt.Errorf("failed to load delivery settings: %w", err)
	}
	if settings == nil || settings.KindleEmail == "" {
		return SendOutcome{}, ErrConfigIncomplete
	}

	// Cheap short-circuit before any compile or dispatch work.
	used := o.quota.DailySendCount(userID, settings.Timezone, now)
	if used >= DailySendLimit {
		return SendOutcome{}, ErrQuotaExceeded
	}

	queued, err := o.articleRepo.GetQueued(userID)
	if err != nil {
		return SendOutcome{}, fmt.Errorf("failed to load queued articles: %w", err)
	}
	if len(queued) == 0 {
		return SendOutcome{}, ErrNoArticles
	}

	selection, err := SelectForDelivery(queued, settings.MinArticleCount)
	if err != nil {
		return SendOutcome{
			ArticleCount: len(selection.Sendable),
			SkippedCount: selection.Skipped,
		}, err
	}

	issueNumber, err := NextIssueNumber(o.historyRepo, userID)
	if err != nil {
		return SendOutcome{}, fmt.Errorf("failed to compute issue number: %w", err)
	}

	compileCtx, cancel := context.WithTimeout(ctx, CompileTimeout)
	defer cancel()

	epubData, filename, err := o.compiler.Compile(compileCtx, selection.Sendable, *settings, issueNumber, now)
	if err != nil {
		compileErr := &CompileError{Err: err}
		o.recordFailure(userID, mode, len(selection.Sendable), compileErr.Error(), now)
		return SendOutcome{SkippedCount: selection.Skipped}, compileErr
	}

	err = o.dispatcher.Dispatch(ctx, settings.KindleEmail, "Articles", filename, epubData)
	if err != nil {
		dispatchErr := &DispatchError{Err: err}
		o.recordFailure(userID, mode, len(selection.Sendable), dispatchErr.Error(), now)
		return SendOutcome{SkippedCount: selection.Skipped}, dispatchErr
	}

	// The email is out; everything past this point is bookkeeping that must
	// reflect the send even if individual writes fail.
	sentAt := now.UTC()
	ids := make([]string, len(selection.Sendable))
	snapshots := make([]database.ArticleSnapshot, len(selection.Sendable))
	for i, article := range selection.Sendable {
		ids[i] = article.ID
		snapshots[i] = database.ArticleSnapshot{Title: article.Title, URL: article.URL}
	}

	if err := o.articleRepo.MarkSent(ids, sentAt); err != nil {
		slog.Error("Failed to mark articles sent after dispatch",
			"user_id", userID, "article_count", len(ids), "error", err)
	}

	record := database.SendRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		ArticleCount: len(selection.Sendable),
		IssueNumber:  &issueNumber,
		Status:       database.SendStatusSuccess,
		SentAt:       sentAt,
		Articles:     snapshots,
	}
	if err := o.historyRepo.Insert(record); err != nil {
		slog.Error("Failed to insert success history row",
			"user_id", userID, "issue_number", issueNumber, "error", err)
	}

	slog.Info("Delivery successful",
		"user_id", userID,
		"article_count", len(selection.Sendable),
		"issue_number", issueNumber,
		"epub_bytes", len(epubData))

	return SendOutcome{
		ArticleCount: len(selection.Sendable),
		SkippedCount: selection.Skipped,
		IssueNumber:  issueNumber,
	}, nil
}

// SendTest sends a single fixed diagnostic chapter. It bypasses the queue
// and does not count against the quota, but the quota gate itself still
// applies.
func (o *Orchestrator) SendTest(ctx context.Context, userID string, now time.Time) error {
	unlock := o.locks.Lock(userID)
	defer unlock()

	settings, err := o.settingsRepo.Get(userID)
	if err != nil {
		return fmt.Errorf("failed to load delivery settings: %w", err)
	}
	if settings == nil || settings.KindleEmail == "" {
		return ErrConfigIncomplete
	}

	used := o.quota.DailySendCount(userID, settings.Timezone, now)
	if used >= DailySendLimit {
		return ErrQuotaExceeded
	}

	compileCtx, cancel := context.WithTimeout(ctx, CompileTimeout)
	defer cancel()

	epubData, filename, err := o.compiler.CompileDiagnostic(compileCtx, settings.KindleEmail, now)
	if err != nil {
		return &CompileError{Err: err}
	}

	if err := o.dispatcher.Dispatch(ctx, settings.KindleEmail, "q2kindle - Test", filename, epubData); err != nil {
		return &DispatchError{Err: err}
	}

	slog.Info("Test delivery sent", "user_id", userID, "to", settings.KindleEmail)
	return nil
}

// recordFailure writes a failed history row best-effort. Scheduled-mode
// failures carry a prefix so the history view distinguishes them from
// manual sends.
func (o *Orchestrator) recordFailure(userID string, mode Mode, articleCount int, message string, now time.Time) {
	if mode == ModeScheduled {
		message = "Scheduled send: " + message
	}

	record := database.SendRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		ArticleCount: articleCount,
		Status:       database.SendStatusFailed,
		ErrorMessage: message,
		SentAt:       now.UTC(),
	}
	if err := o.historyRepo.Insert(record); err != nil {
		slog.Error("Failed to insert failure history row", "user_id", userID, "error", err)
	}
}
