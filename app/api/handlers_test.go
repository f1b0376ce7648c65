package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/q2kindle/q2kindle/app/database"
	"github.com/q2kindle/q2kindle/app/delivery"
	"github.com/q2kindle/q2kindle/app/tasks"
)

// --- fakes ---

type fakeOrchestrator struct {
	outcome    delivery.SendOutcome
	sendErr    error
	testErr    error
	results    []delivery.UserResult
	runErr     error
	sendCalls  int
	testCalls  int
	lastUserID string
}

func (f *fakeOrchestrator) RunScheduled(ctx context.Context, now time.Time) ([]delivery.UserResult, error) {
	return f.results, f.runErr
}

func (f *fakeOrchestrator) SendForUser(ctx context.Context, userID string, mode delivery.Mode, now time.Time) (delivery.SendOutcome, error) {
	f.sendCalls++
	f.lastUserID = userID
	return f.outcome, f.sendErr
}

func (f *fakeOrchestrator) SendTest(ctx context.Context, userID string, now time.Time) error {
	f.testCalls++
	f.lastUserID = userID
	return f.testErr
}

type fakeQuota struct {
	count int
}

func (f *fakeQuota) DailySendCount(userID, timezone string, now time.Time) int {
	return f.count
}

type fakeScheduler struct {
	enqueued []tasks.TaskInterface
}

func (f *fakeScheduler) Start() {}
func (f *fakeScheduler) Stop()  {}
func (f *fakeScheduler) EnqueueTask(task tasks.TaskInterface) error {
	f.enqueued = append(f.enqueued, task)
	return nil
}

type fakeArticleRepo struct {
	articles []database.Article
}

func (f *fakeArticleRepo) Insert(article database.Article) error {
	f.articles = append(f.articles, article)
	return nil
}

func (f *fakeArticleRepo) GetByID(id string) (*database.Article, error) { return nil, nil }

func (f *fakeArticleRepo) GetByUser(userID string) ([]database.Article, error) {
	var out []database.Article
	for _, article := range f.articles {
		if article.UserID == userID {
			out = append(out, article)
		}
	}
	return out, nil
}

func (f *fakeArticleRepo) GetQueued(userID string) ([]database.Article, error)     { return nil, nil }
func (f *fakeArticleRepo) GetForExtraction(limit int) ([]database.Article, error)  { return nil, nil }
func (f *fakeArticleRepo) UpdateExtracted(id, title, author, description, content string, readTimeMinutes int) error {
	return nil
}
func (f *fakeArticleRepo) MarkExtractionFailed(id string, maxAttempts int, errorMessage string) error {
	return nil
}
func (f *fakeArticleRepo) MarkSent(ids []string, sentAt time.Time) error { return nil }
func (f *fakeArticleRepo) Delete(id, userID string) error                { return database.ErrArticleNotQueued }

type fakeSettingsRepo struct {
	stored map[string]*database.DeliverySettings
}

func (f *fakeSettingsRepo) Get(userID string) (*database.DeliverySettings, error) {
	if settings, ok := f.stored[userID]; ok {
		copied := *settings
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeSettingsRepo) Upsert(settings database.DeliverySettings) error {
	if f.stored == nil {
		f.stored = map[string]*database.DeliverySettings{}
	}
	f.stored[settings.UserID] = &settings
	return nil
}

func (f *fakeSettingsRepo) GetSchedulable() ([]database.DeliverySettings, error) { return nil, nil }

type fakeHistoryRepo struct{}

func (f *fakeHistoryRepo) Insert(record database.SendRecord) error { return nil }
func (f *fakeHistoryRepo) CountSuccessSince(userID string, since time.Time) (int, error) {
	return 0, nil
}
func (f *fakeHistoryRepo) MaxIssueNumber(userID string) (int, error) { return 0, nil }
func (f *fakeHistoryRepo) ListByUser(userID string, limit int) ([]database.SendRecord, error) {
	return nil, nil
}

// --- test helpers ---

const testAPIKey = "test-api-key"
const testCronSecret = "test-cron-secret"

func newTestServer(orchestrator *fakeOrchestrator, quota *fakeQuota,
	articleRepo *fakeArticleRepo, settingsRepo *fakeSettingsRepo,
	scheduler *fakeScheduler) http.Handler {
	handler := NewHandler(articleRepo, settingsRepo, &fakeHistoryRepo{},
		quota, orchestrator, scheduler, nil)
	return NewServer(handler, testAPIKey, testCronSecret)
}

func doRequest(t *testing.T, server http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)
	return recorder
}

func apiHeaders() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode response body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

// --- tests ---

func TestAuthMiddleware(t *testing.T) {
	server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	noKey := doRequest(t, server, "GET", "/api/users/u1/articles", "", nil)
	if noKey.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", noKey.Code)
	}

	wrongKey := doRequest(t, server, "GET", "/api/users/u1/articles", "",
		map[string]string{"X-API-Key": "wrong"})
	if wrongKey.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong API key, got %d", wrongKey.Code)
	}

	withKey := doRequest(t, server, "GET", "/api/users/u1/articles", "", apiHeaders())
	if withKey.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid API key, got %d", withKey.Code)
	}

	bearer := doRequest(t, server, "GET", "/api/users/u1/articles", "",
		map[string]string{"Authorization": "Bearer " + testAPIKey})
	if bearer.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer API key, got %d", bearer.Code)
	}
}

func TestCronSend_RequiresSecret(t *testing.T) {
	orchestrator := &fakeOrchestrator{results: []delivery.UserResult{
		{UserID: "u1", Status: "success", Message: "2 articles sent"},
	}}
	server := newTestServer(orchestrator, &fakeQuota{}, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	noAuth := doRequest(t, server, "GET", "/cron/send", "", nil)
	if noAuth.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without cron secret, got %d", noAuth.Code)
	}

	wrongAuth := doRequest(t, server, "GET", "/cron/send", "",
		map[string]string{"Authorization": "Bearer nope"})
	if wrongAuth.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong cron secret, got %d", wrongAuth.Code)
	}

	authed := doRequest(t, server, "GET", "/cron/send", "",
		map[string]string{"Authorization": "Bearer " + testCronSecret})
	if authed.Code != http.StatusOK {
		t.Fatalf("Expected 200 with cron secret, got %d", authed.Code)
	}

	payload := decodeBody(t, authed)
	if _, ok := payload["results"]; !ok {
		t.Errorf("Expected results in cron response, got %v", payload)
	}
}

func TestSend_Success(t *testing.T) {
	orchestrator := &fakeOrchestrator{outcome: delivery.SendOutcome{
		ArticleCount: 3, SkippedCount: 1, IssueNumber: 4,
	}}
	quota := &fakeQuota{count: 2}
	server := newTestServer(orchestrator, quota, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	recorder := doRequest(t, server, "POST", "/api/users/u1/send", "", apiHeaders())
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeBody(t, recorder)
	if payload["articleCount"] != float64(3) {
		t.Errorf("Expected articleCount 3, got %v", payload["articleCount"])
	}
	if payload["skippedCount"] != float64(1) {
		t.Errorf("Expected skippedCount 1, got %v", payload["skippedCount"])
	}
	if payload["dailySendsUsed"] != float64(2) {
		t.Errorf("Expected dailySendsUsed 2, got %v", payload["dailySendsUsed"])
	}
	if payload["dailySendLimit"] != float64(delivery.DailySendLimit) {
		t.Errorf("Expected dailySendLimit %d, got %v", delivery.DailySendLimit, payload["dailySendLimit"])
	}
	if orchestrator.lastUserID != "u1" {
		t.Errorf("Expected send for user u1, got %q", orchestrator.lastUserID)
	}
}

func TestSend_ErrorMapping(t *testing.T) {
	cases := []struct {
		name         string
		err          error
		expectedCode int
		expectedTag  string
	}{
		{"config incomplete", delivery.ErrConfigIncomplete, http.StatusBadRequest, "settings_not_configured"},
		{"no articles", delivery.ErrNoArticles, http.StatusBadRequest, "no_articles"},
		{"no content", delivery.ErrNoContent, http.StatusBadRequest, "no_content"},
		{"below minimum", delivery.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},
		{"quota exceeded", delivery.ErrQuotaExceeded, http.StatusTooManyRequests, "daily_limit_reached"},
		{"compile failure", &delivery.CompileError{Err: context.DeadlineExceeded}, http.StatusInternalServerError, "send_failed"},
		{"dispatch failure", &delivery.DispatchError{Err: context.DeadlineExceeded}, http.StatusInternalServerError, "send_failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orchestrator := &fakeOrchestrator{sendErr: tc.err}
			server := newTestServer(orchestrator, &fakeQuota{}, &fakeArticleRepo{},
				&fakeSettingsRepo{}, &fakeScheduler{})

			recorder := doRequest(t, server, "POST", "/api/users/u1/send", "", apiHeaders())
			if recorder.Code != tc.expectedCode {
				t.Errorf("Expected status %d, got %d", tc.expectedCode, recorder.Code)
			}

			payload := decodeBody(t, recorder)
			if payload["error"] != tc.expectedTag {
				t.Errorf("Expected error tag %q, got %v", tc.expectedTag, payload["error"])
			}
		})
	}
}

func TestSendTest_Success(t *testing.T) {
	orchestrator := &fakeOrchestrator{}
	server := newTestServer(orchestrator, &fakeQuota{}, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	recorder := doRequest(t, server, "POST", "/api/users/u1/send/test", "", apiHeaders())
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}
	if orchestrator.testCalls != 1 {
		t.Errorf("Expected 1 test send call, got %d", orchestrator.testCalls)
	}
}

func TestAddArticle(t *testing.T) {
	articleRepo := &fakeArticleRepo{}
	scheduler := &fakeScheduler{}
	server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, articleRepo,
		&fakeSettingsRepo{}, scheduler)

	recorder := doRequest(t, server, "POST", "/api/users/u1/articles",
		`{"url": "example.com/story"}`, apiHeaders())
	if recorder.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if len(articleRepo.articles) != 1 {
		t.Fatalf("Expected 1 article stored, got %d", len(articleRepo.articles))
	}
	article := articleRepo.articles[0]
	if article.URL != "https://example.com/story" {
		t.Errorf("Expected normalized URL, got %q", article.URL)
	}
	if article.Title != "example.com" {
		t.Errorf("Expected domain placeholder title, got %q", article.Title)
	}
	if article.Status != database.ArticleStatusQueued {
		t.Errorf("Expected queued status, got %q", article.Status)
	}
	if article.ExtractionStatus != database.ExtractionStatusPending {
		t.Errorf("Expected pending extraction status, got %q", article.ExtractionStatus)
	}

	if len(scheduler.enqueued) != 1 {
		t.Errorf("Expected 1 extraction task enqueued, got %d", len(scheduler.enqueued))
	}
}

func TestAddArticle_MissingURL(t *testing.T) {
	server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	recorder := doRequest(t, server, "POST", "/api/users/u1/articles", `{}`, apiHeaders())
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing URL, got %d", recorder.Code)
	}
}

func TestDeleteArticle_NotQueued(t *testing.T) {
	server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	recorder := doRequest(t, server, "DELETE", "/api/users/u1/articles/a1", "", apiHeaders())
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing or sent article, got %d", recorder.Code)
	}
}

func TestUpsertSettings_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid day", `{"kindle_email": "a@kindle.com", "schedule_days": ["funday"], "schedule_time": "07:00"}`},
		{"days without time", `{"kindle_email": "a@kindle.com", "schedule_days": ["mon"]}`},
		{"bad email", `{"kindle_email": "not-an-email"}`},
		{"bad hour", `{"kindle_email": "a@kindle.com", "schedule_days": ["mon"], "schedule_time": "25:00"}`},
		{"bad timezone", `{"kindle_email": "a@kindle.com", "timezone": "Nowhere/Void"}`},
		{"zero minimum", `{"kindle_email": "a@kindle.com", "min_article_count": 0}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, &fakeArticleRepo{},
				&fakeSettingsRepo{}, &fakeScheduler{})

			recorder := doRequest(t, server, "PUT", "/api/users/u1/settings", tc.body, apiHeaders())
			if recorder.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestUpsertSettings_NormalizesScheduleTime(t *testing.T) {
	settingsRepo := &fakeSettingsRepo{}
	server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, &fakeArticleRepo{},
		settingsRepo, &fakeScheduler{})

	body := `{"kindle_email": "a@kindle.com", "schedule_days": ["mon", "wed"],
		"schedule_time": "7:45", "timezone": "America/New_York"}`
	recorder := doRequest(t, server, "PUT", "/api/users/u1/settings", body, apiHeaders())
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	stored := settingsRepo.stored["u1"]
	if stored == nil {
		t.Fatal("Expected settings to be stored")
	}
	if stored.ScheduleTime != "07:00" {
		t.Errorf("Expected schedule time normalized to 07:00, got %q", stored.ScheduleTime)
	}
	if stored.Timezone != "America/New_York" {
		t.Errorf("Expected timezone preserved, got %q", stored.Timezone)
	}
}

func TestGetSettings_DefaultsWhenMissing(t *testing.T) {
	server := newTestServer(&fakeOrchestrator{}, &fakeQuota{}, &fakeArticleRepo{},
		&fakeSettingsRepo{}, &fakeScheduler{})

	recorder := doRequest(t, server, "GET", "/api/users/u1/settings", "", apiHeaders())
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	payload := decodeBody(t, recorder)
	if payload["timezone"] != "UTC" {
		t.Errorf("Expected default timezone UTC, got %v", payload["timezone"])
	}
	if payload["min_article_count"] != float64(1) {
		t.Errorf("Expected default min_article_count 1, got %v", payload["min_article_count"])
	}
}
