package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps are stored as fixed-width UTC RFC3339 strings so that range
// comparisons in SQL stay correct lexicographically.
const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Schedule days are persisted as a JSON array; NULL means auto-send disabled.
func encodeScheduleDays(days []string) (sql.NullString, error) {
	if days == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(days)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode schedule days: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeScheduleDays(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var days []string
	if err := json.Unmarshal([]byte(s.String), &days); err != nil {
		return nil, fmt.Errorf("failed to decode schedule days: %w", err)
	}
	return days, nil
}

func encodeSnapshots(snapshots []ArticleSnapshot) (sql.NullString, error) {
	if snapshots == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(snapshots)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode article snapshots: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeSnapshots(s sql.NullString) ([]ArticleSnapshot, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var snapshots []ArticleSnapshot
	if err := json.Unmarshal([]byte(s.String), &snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode article snapshots: %w", err)
	}
	return snapshots, nil
}
