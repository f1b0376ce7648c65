package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ HistoryRepository = (*historyRepository)(nil)

type historyRepository struct {
	db *DB
}

func NewHistoryRepository(db *DB) HistoryRepository {
	return &historyRepository{db: db}
}

// Insert appends one audit row. Rows are never mutated afterwards.
func (r *historyRepository) Insert(record SendRecord) error {
	snapshots, err := encodeSnapshots(record.Articles)
	if err != nil {
		return err
	}

	issueNumber := sql.NullInt64{}
	if record.IssueNumber != nil {
		issueNumber = sql.NullInt64{Int64: int64(*record.IssueNumber), Valid: true}
	}

	_, err = r.db.Exec(`
		INSERT INTO send_history (
			id, user_id, article_count, issue_number, status,
			error_message, sent_at, articles_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.ArticleCount, issueNumber,
		record.Status, record.ErrorMessage, formatTime(record.SentAt), snapshots)
	if err != nil {
		return fmt.Errorf("failed to insert send record: %w", err)
	}

	return nil
}

// CountSuccessSince counts successful sends recorded at or after the given
// UTC instant. Used by the quota tracker with the start of the user's local
// calendar day.
func (r *historyRepository) CountSuccessSince(userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*)
		FROM send_history
		WHERE user_id = ? AND status = ? AND sent_at >= ?`,
		userID, SendStatusSuccess, formatTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count successful sends: %w", err)
	}

	return count, nil
}

// MaxIssueNumber returns the highest issue number among the user's
// successful sends, or 0 when none exist. Failed rows carry no issue number
// and never advance the counter.
func (r *historyRepository) MaxIssueNumber(userID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRow(`
		SELECT MAX(issue_number)
		FROM send_history
		WHERE user_id = ? AND status = ? AND issue_number IS NOT NULL`,
		userID, SendStatusSuccess).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max issue number: %w", err)
	}

	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

func (r *historyRepository) ListByUser(userID string, limit int) ([]SendRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, article_count, issue_number, status,
			error_message, sent_at, articles_data
		FROM send_history
		WHERE user_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query send history: %w", err)
	}
	defer rows.Close()

	var records []SendRecord
	for rows.Next() {
		var rec SendRecord
		var issueNumber sql.NullInt64
		var sentAt string
		var snapshots sql.NullString

		err := rows.Scan(&rec.ID, &rec.UserID, &rec.ArticleCount, &issueNumber,
			&rec.Status, &rec.ErrorMessage, &sentAt, &snapshots)
		if err != nil {
			return nil, fmt.Errorf("failed to scan send record: %w", err)
		}

		if issueNumber.Valid {
			n := int(issueNumber.Int64)
			rec.IssueNumber = &n
		}
		if rec.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		if rec.Articles, err = decodeSnapshots(snapshots); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate send history: %w", err)
	}

	return records, nil
}
