// Package queue implements the Wait Queue's broker contract: a fair FIFO of
// opaque jobs with enqueue/await (with an optional await timeout) and a
// worker pool bounded by a configured concurrency. The loop that retries
// Engine.Reserve with backoff and maxWaitMs lives in internal/waitqueue.
package queue

import (
	"context"
	"time"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
)

// Job is the opaque payload enqueued by a blocking reserve request. It
// carries nothing but an id — the worker loop calls back into the engine
// itself, it doesn't need request-specific data.
type Job struct {
	ID string
}

// Handle identifies an enqueued Job so a caller can Await its result.
type Handle string

// Result is what a worker resolves a Job's handle with. ErrCode carries
// the failure taxonomy as a wire-safe string (brokererrors.Code) instead
// of the error interface, since RedisQueue round-trips Result through
// JSON and an error value doesn't survive that trip.
type Result struct {
	SubscriptionID       string
	Plan                 string
	AvgIntervalMs        int64
	LastUsed             int64
	NextRequestAllowedAt int64
	ErrCode              string `json:"errCode,omitempty"`
}

// Err reconstructs the sentinel error ErrCode names, or nil if the result
// carries no error code.
func (r Result) Err() error {
	return brokererrors.FromCode(r.ErrCode)
}

// ErrResult builds a failure Result carrying err's taxonomy code.
func ErrResult(err error) Result {
	return Result{ErrCode: brokererrors.Code(err)}
}

// WorkerFunc is invoked once per dequeued Job; its return value resolves
// the job's handle.
type WorkerFunc func(ctx context.Context, job Job) Result

// Queue is the broker contract: a named FIFO of opaque payloads with
// enqueue/await and a worker registration bounded by concurrency.
// Implementations must persist jobs across broker restarts — MemoryQueue
// deliberately does not, and says so in its doc comment.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (Handle, error)
	Await(ctx context.Context, h Handle, timeout time.Duration) (Result, error)
	RegisterWorker(ctx context.Context, concurrency int, fn WorkerFunc) (stop func())
}
