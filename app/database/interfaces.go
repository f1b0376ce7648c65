package database

import (
	"time"
)

type ArticleRepository interface {
	Insert(article Article) error
	GetByID(id string) (*Article, error)
	GetByUser(userID string) ([]Article, error)
	GetQueued(userID string) ([]Article, error)
	GetForExtraction(limit int) ([]Article, error)

	UpdateExtracted(id, title, author, description, content string, readTimeMinutes int) error
	MarkExtractionFailed(id string, maxAttempts int, errorMessage string) error
	MarkSent(ids []string, sentAt time.Time) error

	Delete(id, userID string) error
}

type SettingsRepository interface {
	Get(userID string) (*DeliverySettings, error)
	Upsert(settings DeliverySettings) error
	GetSchedulable() ([]DeliverySettings, error)
}

type HistoryRepository interface {
	Insert(record SendRecord) error
	CountSuccessSince(userID string, since time.Time) (int, error)
	MaxIssueNumber(userID string) (int, error)
	ListByUser(userID string, limit int) ([]SendRecord, error)
}
