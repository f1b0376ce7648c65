package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/q2kindle/q2kindle/app/database"
)

// Mode distinguishes the two orchestrator entry paths. Scheduled-mode
// rejections (quota, empty queue, below minimum) are silent skips; the same
// outcomes on the on-demand path surface to the caller.
type Mode int

const (
	ModeScheduled Mode = iota
	ModeOnDemand
)

var (
	// ErrConfigIncomplete: missing Kindle address or settings row. Not
	// retryable without user action.
	ErrConfigIncomplete = errors.New("delivery settings not configured")

	// ErrQuotaExceeded: daily send limit reached. Retryable tomorrow.
	ErrQuotaExceeded = errors.New("daily send limit reached")

	// ErrNoArticles: nothing queued at all.
	ErrNoArticles = errors.New("no articles in queue")

	// ErrNoContent: queued articles exist but none has extracted content.
	ErrNoContent = errors.New("no queued articles with extracted content")

	// ErrBelowMinimum: sendable count is under the user's threshold.
	ErrBelowMinimum = errors.New("sendable articles below minimum count")
)

// CompileError marks an ebook assembly failure. Articles stay queued so a
// future attempt can pick them up.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return "EPUB generation failed: " + e.Err.Error()
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// DispatchError marks an email send failure. Articles stay queued; there is
// no automatic retry, the next natural schedule tick (or a manual send)
// picks them up.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return "Email sending failed: " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Compiler is the ebook compiler collaborator: ordered articles plus the
// user's formatting preferences in, EPUB bytes and a filename out.
type Compiler interface {
	Compile(ctx context.Context, articles []database.Article, settings database.DeliverySettings, issueNumber int, now time.Time) ([]byte, string, error)
	CompileDiagnostic(ctx context.Context, kindleEmail string, now time.Time) ([]byte, string, error)
}

// Dispatcher is the outbound email collaborator. Implementations must not
// retry internally; a failed send is terminal for the attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, to, subject, filename string, epub []byte) error
}

// UserResult is one user's outcome in a scheduled batch run summary.
type UserResult struct {
	UserID  string `json:"userId"`
	Status  string `json:"status"` // success, skipped, failed, error
	Message string `json:"message"`
}

// SendOutcome describes a completed (or rejected) delivery attempt.
type SendOutcome struct {
	ArticleCount int
	SkippedCount int
	IssueNumber  int
}
