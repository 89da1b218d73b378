package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
)

const (
	jobsListKey       = "broker:queue:jobs"
	processingListKey = "broker:queue:processing"
	resultKeyPrefix   = "broker:queue:result:"
	resultTTL         = 10 * time.Minute
)

// RedisQueue is the durable, cross-replica Wait Queue backend, persisting
// jobs across broker restarts: jobs live in a Redis list
// until a worker BLMOVEs them into a processing list and resolves a
// per-handle result key. Concurrency is bounded the same way MemoryQueue
// bounds it — a fixed number of worker goroutines pulling from the shared
// list — Redis itself just makes the list (and therefore the fairness
// order) durable across a broker-tier restart.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue wires a RedisQueue against an existing client.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

type wireJob struct {
	Handle string `json:"handle"`
	ID     string `json:"id"`
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (Handle, error) {
	h := newHandle()
	wj := wireJob{Handle: string(h), ID: job.ID}
	buf, err := json.Marshal(wj)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, jobsListKey, buf).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	return h, nil
}

func (q *RedisQueue) Await(ctx context.Context, h Handle, timeout time.Duration) (Result, error) {
	key := resultKeyPrefix + string(h)

	// BLPOP blocks server-side, so a zero/very-long timeout doesn't spin
	// the client; 0 means "block until ctx is done".
	blockFor := timeout
	if blockFor <= 0 {
		blockFor = 0
	}
	res, err := q.rdb.BLPop(ctx, blockFor, key).Result()
	if err == redis.Nil {
		return Result{}, context.DeadlineExceeded
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	// res is [key, value]
	var r Result
	if err := json.Unmarshal([]byte(res[1]), &r); err != nil {
		return Result{}, brokererrors.ErrStoreFatal
	}
	return r, nil
}

// RegisterWorker starts `concurrency` goroutines, each BLMOVEing a job from
// the durable jobs list into a processing list, running fn, then pushing
// the result to the requester's result key with a TTL.
func (q *RedisQueue) RegisterWorker(ctx context.Context, concurrency int, fn WorkerFunc) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, fn)
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func (q *RedisQueue) workerLoop(ctx context.Context, fn WorkerFunc) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := q.rdb.BLMove(ctx, jobsListKey, processingListKey, "right", "left", 2*time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}

		var wj wireJob
		if err := json.Unmarshal([]byte(raw), &wj); err != nil {
			q.rdb.LRem(ctx, processingListKey, 1, raw)
			continue
		}

		res := fn(ctx, Job{ID: wj.ID})
		buf, err := json.Marshal(res)
		if err == nil {
			resultKey := resultKeyPrefix + wj.Handle
			pipe := q.rdb.TxPipeline()
			pipe.RPush(ctx, resultKey, buf)
			pipe.Expire(ctx, resultKey, resultTTL)
			_, _ = pipe.Exec(ctx)
		}
		q.rdb.LRem(ctx, processingListKey, 1, raw)
	}
}
