// Package waitqueue wires the Wait Queue contract (internal/queue) to the
// Reservation Engine, implementing the blocking reserveBlocking operation:
// a worker loop that retries Engine.Reserve with backoff until either a
// reservation succeeds or the worker's own maxWaitMs elapses, independent
// of the requester's requestTimeoutMs.
package waitqueue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/engine"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/queue"
)

// Broker pairs a Queue with an Engine and the two queue timing knobs.
type Broker struct {
	q       queue.Queue
	eng     *engine.Engine
	backoff time.Duration
	// maxWait is the worker-side deadline; zero means unbounded.
	maxWait time.Duration
	log     *logrus.Entry
	stop    func()
	mtr     metricsSink
}

// metricsSink is the minimal surface Broker needs from internal/metrics.
type metricsSink interface {
	IncQueueEnqueued()
	IncQueueTimedOut()
}

// SetMetrics attaches a counters sink (internal/metrics.Registry satisfies
// this). Optional.
func (b *Broker) SetMetrics(m metricsSink) {
	b.mtr = m
}

// Config carries the KEY_QUEUE_* settings. New reads only BackoffMs and
// MaxWaitMs; Concurrency and RequestTimeoutMs are not read by the Broker —
// the worker count is Start's argument and the requester timeout is
// ReserveBlocking's argument.
type Config struct {
	Concurrency      int
	BackoffMs        int64
	MaxWaitMs        int64 // 0 = unbounded
	RequestTimeoutMs int64 // 0 = unbounded
}

// New builds a Broker. Call Start to register the worker pool.
func New(q queue.Queue, eng *engine.Engine, cfg Config, log *logrus.Entry) *Broker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	backoff := time.Duration(cfg.BackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Broker{
		q:       q,
		eng:     eng,
		backoff: backoff,
		maxWait: time.Duration(cfg.MaxWaitMs) * time.Millisecond,
		log:     log,
	}
}

// Start registers the worker pool at the given concurrency, bounding
// parallel service to that number of workers.
func (b *Broker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 5
	}
	b.stop = b.q.RegisterWorker(ctx, concurrency, b.work)
}

// Stop halts the worker pool.
func (b *Broker) Stop() {
	if b.stop != nil {
		b.stop()
	}
}

// work is the per-job worker loop.
func (b *Broker) work(ctx context.Context, job queue.Job) queue.Result {
	var deadline time.Time
	hasDeadline := b.maxWait > 0
	if hasDeadline {
		deadline = time.Now().Add(b.maxWait)
	}

	for {
		res, err := b.eng.Reserve(ctx)
		if err == nil {
			return queue.Result{
				SubscriptionID:       res.SubscriptionID,
				Plan:                 string(res.Plan),
				AvgIntervalMs:        res.AvgIntervalMs,
				LastUsed:             res.LastUsed,
				NextRequestAllowedAt: res.NextRequestAllowedAt,
			}
		}
		if !errors.Is(err, brokererrors.ErrNotAvailable) {
			return queue.ErrResult(err)
		}
		if hasDeadline && time.Now().After(deadline) {
			return queue.ErrResult(brokererrors.ErrQueueTimeout)
		}

		select {
		case <-ctx.Done():
			return queue.ErrResult(brokererrors.ErrQueueTimeout)
		case <-time.After(b.backoff):
		}
	}
}

// ReserveBlocking is the requester-facing half of the wait queue: enqueue a
// job and await it with requestTimeoutMs (0 = unbounded, bounded only by
// ctx). A cancelled requester does not cancel the worker — the worker keeps
// running to its own deadline even if Await returns early.
func (b *Broker) ReserveBlocking(ctx context.Context, requestTimeoutMs int64) (engine.Reservation, error) {
	h, err := b.q.Enqueue(ctx, queue.Job{ID: newJobID()})
	if err != nil {
		return engine.Reservation{}, err
	}
	if b.mtr != nil {
		b.mtr.IncQueueEnqueued()
	}

	timeout := time.Duration(requestTimeoutMs) * time.Millisecond
	res, err := b.q.Await(ctx, h, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if b.mtr != nil {
				b.mtr.IncQueueTimedOut()
			}
			return engine.Reservation{}, brokererrors.ErrQueueTimeout
		}
		return engine.Reservation{}, err
	}
	if resErr := res.Err(); resErr != nil {
		if errors.Is(resErr, brokererrors.ErrQueueTimeout) && b.mtr != nil {
			b.mtr.IncQueueTimedOut()
		}
		return engine.Reservation{}, resErr
	}
	return engine.Reservation{
		SubscriptionID:       res.SubscriptionID,
		Plan:                 domain.Plan(res.Plan),
		AvgIntervalMs:        res.AvgIntervalMs,
		LastUsed:             res.LastUsed,
		NextRequestAllowedAt: res.NextRequestAllowedAt,
	}, nil
}

func newJobID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
