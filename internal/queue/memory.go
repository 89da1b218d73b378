package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryQueue is an in-process FIFO backed by a buffered channel and a
// fixed pool of worker goroutines — fair because Go channels deliver in
// send order, bounded because only `concurrency` workers ever read from it
// concurrently. It does NOT persist jobs across a process restart; that
// durability property is what RedisQueue exists for. Dev/single-process
// deployments that don't need restart-survival can use this instead.
type MemoryQueue struct {
	jobs chan queuedJob

	mu      sync.Mutex
	waiters *lru.Cache[Handle, chan Result]
}

type queuedJob struct {
	job Job
	h   Handle
}

// NewMemoryQueue builds a MemoryQueue with the given buffer depth for
// pending jobs and a bounded handle cache (so long-lived processes with
// many completed jobs don't leak memory — mirrors qiaoyk's use of
// hashicorp/golang-lru for bounded caches).
func NewMemoryQueue(buffer, handleCacheSize int) *MemoryQueue {
	waiters, _ := lru.New[Handle, chan Result](handleCacheSize)
	return &MemoryQueue{
		jobs:    make(chan queuedJob, buffer),
		waiters: waiters,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (Handle, error) {
	h := newHandle()
	ch := make(chan Result, 1)

	q.mu.Lock()
	q.waiters.Add(h, ch)
	q.mu.Unlock()

	select {
	case q.jobs <- queuedJob{job: job, h: h}:
		return h, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Await(ctx context.Context, h Handle, timeout time.Duration) (Result, error) {
	q.mu.Lock()
	ch, ok := q.waiters.Get(h)
	q.mu.Unlock()
	if !ok {
		return Result{}, context.Canceled
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case r := <-ch:
		return r, nil
	case <-timeoutC:
		return Result{}, context.DeadlineExceeded
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// RegisterWorker starts `concurrency` goroutines, each pulling jobs off the
// shared channel in FIFO order and resolving the matching waiter.
func (q *MemoryQueue) RegisterWorker(ctx context.Context, concurrency int, fn WorkerFunc) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case qj := <-q.jobs:
					res := fn(ctx, qj.job)
					q.mu.Lock()
					ch, ok := q.waiters.Get(qj.h)
					q.mu.Unlock()
					if ok {
						ch <- res
					}
				}
			}
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func newHandle() Handle {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return Handle(hex.EncodeToString(b[:]))
}
