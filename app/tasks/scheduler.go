package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/q2kindle/q2kindle/app/cfg"
	"github.com/q2kindle/q2kindle/app/database"
	"github.com/q2kindle/q2kindle/app/delivery"
	"github.com/q2kindle/q2kindle/app/extractor"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler owns the background worker pool. A ticker loop drains pending
// extractions; a cron entry fires the scheduled delivery batch at the top
// of every hour so runs align with users' whole-hour delivery windows.
type Scheduler struct {
	articleRepo      database.ArticleRepository
	contentExtractor *extractor.Extractor
	orchestrator     *delivery.Orchestrator
	interval         time.Duration
	workerCount      int
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	taskQueue        chan TaskInterface
	cron             *cron.Cron
}

func NewScheduler(articleRepo database.ArticleRepository,
	contentExtractor *extractor.Extractor,
	orchestrator *delivery.Orchestrator) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		articleRepo:      articleRepo,
		contentExtractor: contentExtractor,
		orchestrator:     orchestrator,
		interval:         time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount:      cfg.WorkerCount,
		ctx:              ctx,
		cancel:           cancel,
		taskQueue:        make(chan TaskInterface, 300),
		cron:             cron.New(),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueuePendingExtractions()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueuePendingExtractions()
			}
		}
	}()

	_, err := s.cron.AddFunc("0 * * * *", func() {
		deliverTask := NewDeliverBatchTask(s.orchestrator)
		if err := s.EnqueueTask(deliverTask); err != nil {
			slog.Error("Failed to enqueue DeliverBatchTask", "error", err)
		}
	})
	if err != nil {
		slog.Error("Failed to register hourly delivery cron entry", "error", err)
	} else {
		s.cron.Start()
	}
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueuePendingExtractions picks up queued articles still awaiting
// content: fresh adds whose initial task was lost on a restart, and
// articles whose earlier attempts failed but have retries left.
func (s *Scheduler) enqueuePendingExtractions() {
	articles, err := s.articleRepo.GetForExtraction(s.workerCount * 10)
	if err != nil {
		slog.Warn("Failed to query articles for extraction", "error", err)
		return
	}

	if len(articles) == 0 {
		slog.Debug("No articles awaiting extraction")
		return
	}

	slog.Debug("Enqueueing extraction tasks", "count", len(articles))

	for _, article := range articles {
		extractTask := NewExtractArticleTask(article.ID, s.articleRepo, s.contentExtractor)
		if err := s.EnqueueTask(extractTask); err != nil {
			slog.Warn("Failed to enqueue ExtractArticleTask",
				"article_id", article.ID, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "ref", task.GetRef(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
