package delivery

import (
	"log/slog"
	"time"

	"github.com/q2kindle/q2kindle/app/database"
)

// DailySendLimit is the maximum number of successful deliveries permitted
// per user per local calendar day.
const DailySendLimit = 10

type QuotaTracker struct {
	historyRepo database.HistoryRepository
}

func NewQuotaTracker(historyRepo database.HistoryRepository) *QuotaTracker {
	return &QuotaTracker{historyRepo: historyRepo}
}

// DailySendCount counts the user's successful sends since local midnight.
// It fails open: a storage error yields 0 so a transient infrastructure
// fault never blocks delivery. Availability wins over strict enforcement
// during outages.
func (q *QuotaTracker) DailySendCount(userID, timezone string, now time.Time) int {
	if timezone == "" {
		timezone = "UTC"
	}
	startOfDay := StartOfLocalDayUTC(timezone, now)

	count, err := q.historyRepo.CountSuccessSince(userID, startOfDay)
	if err != nil {
		slog.Error("Failed to query daily send count, failing open",
			"user_id", userID, "error", err)
		return 0
	}

	return count
}
