package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ SettingsRepository = (*settingsRepository)(nil)

type settingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) SettingsRepository {
	return &settingsRepository{db: db}
}

const settingsColumns = `user_id, kindle_email, schedule_days, schedule_time,
	timezone, min_article_count, epub_include_images, epub_show_author,
	epub_show_read_time, epub_show_published_date, created_at, updated_at`

func (r *settingsRepository) Get(userID string) (*DeliverySettings, error) {
	row := r.db.QueryRow(`
		SELECT `+settingsColumns+`
		FROM delivery_settings
		WHERE user_id = ?`, userID)

	settings, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery settings: %w", err)
	}

	return settings, nil
}

func (r *settingsRepository) Upsert(settings DeliverySettings) error {
	days, err := encodeScheduleDays(settings.ScheduleDays)
	if err != nil {
		return err
	}

	scheduleTime := sql.NullString{}
	if settings.ScheduleTime != "" {
		scheduleTime = sql.NullString{String: settings.ScheduleTime, Valid: true}
	}

	now := formatTime(time.Now())

	_, err = r.db.Exec(`
		INSERT INTO delivery_settings (
			user_id, kindle_email, schedule_days, schedule_time, timezone,
			min_article_count, epub_include_images, epub_show_author,
			epub_show_read_time, epub_show_published_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			kindle_email = excluded.kindle_email,
			schedule_days = excluded.schedule_days,
			schedule_time = excluded.schedule_time,
			timezone = excluded.timezone,
			min_article_count = excluded.min_article_count,
			epub_include_images = excluded.epub_include_images,
			epub_show_author = excluded.epub_show_author,
			epub_show_read_time = excluded.epub_show_read_time,
			epub_show_published_date = excluded.epub_show_published_date,
			updated_at = excluded.updated_at`,
		settings.UserID, settings.KindleEmail, days, scheduleTime,
		settings.Timezone, settings.MinArticleCount,
		boolToInt(settings.EpubIncludeImages), boolToInt(settings.EpubShowAuthor),
		boolToInt(settings.EpubShowReadTime), boolToInt(settings.EpubShowPublishedDate),
		now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery settings: %w", err)
	}

	return nil
}

// GetSchedulable returns users with a complete auto-send configuration:
// a Kindle address plus both schedule fields.
func (r *settingsRepository) GetSchedulable() ([]DeliverySettings, error) {
	rows, err := r.db.Query(`
		SELECT ` + settingsColumns + `
		FROM delivery_settings
		WHERE kindle_email != ''
			AND schedule_days IS NOT NULL
			AND schedule_time IS NOT NULL
		ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedulable settings: %w", err)
	}
	defer rows.Close()

	var result []DeliverySettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery settings: %w", err)
		}
		result = append(result, *settings)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery settings: %w", err)
	}

	return result, nil
}

func scanSettings(row rowScanner) (*DeliverySettings, error) {
	var s DeliverySettings
	var days, scheduleTime, createdAt, updatedAt sql.NullString
	var includeImages, showAuthor, showReadTime, showPublishedDate int

	err := row.Scan(&s.UserID, &s.KindleEmail, &days, &scheduleTime, &s.Timezone,
		&s.MinArticleCount, &includeImages, &showAuthor, &showReadTime,
		&showPublishedDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if s.ScheduleDays, err = decodeScheduleDays(days); err != nil {
		return nil, err
	}
	if scheduleTime.Valid {
		s.ScheduleTime = scheduleTime.String
	}
	s.EpubIncludeImages = includeImages != 0
	s.EpubShowAuthor = showAuthor != 0
	s.EpubShowReadTime = showReadTime != 0
	s.EpubShowPublishedDate = showPublishedDate != 0

	if createdAt.Valid {
		if s.CreatedAt, err = parseTime(createdAt.String); err != nil {
			return nil, err
		}
	}
	if updatedAt.Valid {
		if s.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
