package database

import (
	"time"
)

const (
	ArticleStatusQueued = "queued"
	ArticleStatusSent   = "sent"

	ExtractionStatusPending = "pending"
	ExtractionStatusSuccess = "success"
	ExtractionStatusFailed  = "failed"

	SendStatusSuccess = "success"
	SendStatusFailed  = "failed"
)

// Article represents a queued or sent article owned by a single user.
// Created as a placeholder on add (empty content) and mutated once by the
// extraction task. The queued -> sent transition happens only as part of a
// successful delivery batch, and never reverses.
type Article struct {
	ID                 string
	UserID             string
	URL                string
	Title              string
	Author             string
	Description        string
	Content            string
	ReadTimeMinutes    int
	PublishedAt        *time.Time
	Status             string // queued, sent
	ExtractionStatus   string // pending, success, failed
	ExtractionError    string
	ExtractionAttempts int
	ExtractedAt        *time.Time
	CreatedAt          time.Time
	SentAt             *time.Time
}

// DeliverySettings holds one user's delivery configuration (upsert semantics).
// A nil ScheduleDays means auto-send is disabled for the user; a non-nil
// ScheduleDays requires a non-empty ScheduleTime.
type DeliverySettings struct {
	UserID                string
	KindleEmail           string
	ScheduleDays          []string // subset of mon..sun
	ScheduleTime          string   // "HH:00", hour granularity only
	Timezone              string   // IANA name
	MinArticleCount       int
	EpubIncludeImages     bool
	EpubShowAuthor        bool
	EpubShowReadTime      bool
	EpubShowPublishedDate bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AutoSendEnabled reports whether the user has a complete auto-send schedule.
func (s *DeliverySettings) AutoSendEnabled() bool {
	return len(s.ScheduleDays) > 0 && s.ScheduleTime != ""
}

// NewDefaultSettings returns the settings a user has before saving any:
// no Kindle email, auto-send disabled, all EPUB extras on.
func NewDefaultSettings(userID string) *DeliverySettings {
	return &DeliverySettings{
		UserID:                userID,
		Timezone:              "UTC",
		MinArticleCount:       1,
		EpubIncludeImages:     true,
		EpubShowAuthor:        true,
		EpubShowReadTime:      true,
		EpubShowPublishedDate: true,
	}
}

// ArticleSnapshot is the per-article title/url record frozen into a
// successful send_history row.
type ArticleSnapshot struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SendRecord is one append-only audit row in send_history. IssueNumber is
// set only on success rows; rows are never mutated after insert.
type SendRecord struct {
	ID           string
	UserID       string
	ArticleCount int
	IssueNumber  *int
	Status       string // success, failed
	ErrorMessage string
	SentAt       time.Time
	Articles     []ArticleSnapshot
}
