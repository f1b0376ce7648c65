package delivery

import (
	"sort"
	"strings"

	"github.com/q2kindle/q2kindle/app/database"
)

// Selection is the outcome of filtering a user's queue for delivery.
type Selection struct {
	Sendable []database.Article
	Skipped  int
}

// SelectForDelivery filters queued articles down to those with non-empty
// extracted content and applies the per-user minimum-count threshold.
// Sendable articles come back oldest first; that is their chapter order in
// the compiled ebook.
func SelectForDelivery(queued []database.Article, minCount int) (Selection, error) {
	if minCount < 1 {
		minCount = 1
	}

	var sendable []database.Article
	skipped := 0
	for _, article := range queued {
		if article.Status != database.ArticleStatusQueued {
			continue
		}
		if strings.TrimSpace(article.Content) == "" {
			skipped++
			continue
		}
		sendable = append(sendable, article)
	}

	if len(sendable) == 0 {
		return Selection{Skipped: skipped}, ErrNoContent
	}
	if len(sendable) < minCount {
		return Selection{Sendable: sendable, Skipped: skipped}, ErrBelowMinimum
	}

	sort.SliceStable(sendable, func(i, j int) bool {
		return sendable[i].CreatedAt.Before(sendable[j].CreatedAt)
	})

	return Selection{Sendable: sendable, Skipped: skipped}, nil
}

// NextIssueNumber computes the next per-user issue number: one past the
// highest number among successful sends, starting at 1. It is read fresh
// before every dispatch attempt; callers must hold the user's delivery lock
// so concurrent attempts cannot observe the same value.
func NextIssueNumber(historyRepo database.HistoryRepository, userID string) (int, error) {
	max, err := historyRepo.MaxIssueNumber(userID)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
