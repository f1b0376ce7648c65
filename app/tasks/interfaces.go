package tasks

// TaskSchedulerInterface is the scheduling surface used by the API layer:
// queue management plus worker pool lifecycle.
// Example usage:
//
//	scheduler := NewScheduler(articleRepo, extractor, orchestrator)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewExtractArticleTask(articleID, articleRepo, extractor))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
