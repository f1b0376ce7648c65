package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/q2kindle/q2kindle/app/delivery"
)

// DeliverBatchTask runs one scheduled delivery pass over all eligible
// users. The orchestrator isolates per-user failures internally, so the
// task itself only fails on run-level errors (e.g. the settings query).
type DeliverBatchTask struct {
	Task
	orchestrator *delivery.Orchestrator
}

func NewDeliverBatchTask(orchestrator *delivery.Orchestrator) *DeliverBatchTask {
	task := NewTask(TaskTypeDeliverBatch, "scheduled")
	// A delivery pass is tied to its hour; re-running a stale batch later
	// could fire outside every user's window or double-fire inside one.
	task.MaxRetries = 0

	return &DeliverBatchTask{
		Task:         task,
		orchestrator: orchestrator,
	}
}

func (t *DeliverBatchTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	results, err := t.orchestrator.RunScheduled(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("scheduled delivery run failed: %w", err)
	}

	succeeded := 0
	failed := 0
	skipped := 0
	for _, result := range results {
		switch result.Status {
		case "success":
			succeeded++
		case "skipped":
			skipped++
		default:
			failed++
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"matched", len(results),
		"succeeded", succeeded,
		"skipped", skipped,
		"failed", failed)

	return nil
}
