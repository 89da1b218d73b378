// Package engine implements the Reservation Engine: the core key-selection
// and rate-enforcement algorithm every other blocking or non-blocking path
// in the broker calls into.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

const (
	windowPeriodMs = 30_000
	dayPeriodMs    = 86_400_000

	maxAttempts  = 3
	attemptDelay = 20 * time.Millisecond
)

// Reservation is the descriptor returned to a caller on success.
type Reservation struct {
	SubscriptionID       string
	Plan                 domain.Plan
	AvgIntervalMs        int64
	LastUsed             int64
	NextRequestAllowedAt int64
}

// Engine is the non-blocking "give me a key" primitive (C3). It depends
// only on the KeyStore and Clock interfaces, never a concrete backend, so
// the exact same engine runs against MemoryStore/BoltStore/RedisStore and
// against a fake Clock in tests.
type Engine struct {
	st  store.KeyStore
	clk clock.Clock
	log *logrus.Entry
	mtr metricsSink
}

// metricsSink is the minimal surface Engine needs from internal/metrics,
// kept as a local interface so this package doesn't depend on metrics'
// concrete type and every existing caller's three-arg New keeps compiling.
type metricsSink interface {
	IncReservationWon()
	IncReservationLost()
}

// New builds an Engine. log may be nil, in which case a standard logger
// with no fields is used.
func New(st store.KeyStore, clk clock.Clock, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{st: st, clk: clk, log: log}
}

// SetMetrics attaches a counters sink (internal/metrics.Registry satisfies
// this). Optional — a nil sink (the default) means reservation outcomes
// simply aren't counted.
func (e *Engine) SetMetrics(m metricsSink) {
	e.mtr = m
}

// candidate is a ranking-ready view of one key, computed against "now".
type candidate struct {
	key             domain.Key
	effUsedInWindow int
	effUsedDaily    int
	windowExpired   bool
	dayExpired      bool
}

// Reserve runs the full select-and-CAS algorithm and returns either a
// committed Reservation or brokererrors.ErrNotAvailable.
func (e *Engine) Reserve(ctx context.Context) (Reservation, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, ok, err := e.tryOnce(ctx)
		if err != nil {
			return Reservation{}, err
		}
		if ok {
			if e.mtr != nil {
				e.mtr.IncReservationWon()
			}
			return res, nil
		}
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return Reservation{}, ctx.Err()
			case <-time.After(attemptDelay):
			}
		}
	}
	if e.mtr != nil {
		e.mtr.IncReservationLost()
	}
	return Reservation{}, brokererrors.ErrNotAvailable
}

// tryOnce is one snapshot-rank-CAS pass.
func (e *Engine) tryOnce(ctx context.Context) (Reservation, bool, error) {
	snapshot, err := e.st.FindAll(ctx, store.Filter{})
	if err != nil {
		return Reservation{}, false, err
	}
	now := e.clk.Now().UnixMilli()

	candidates := make([]candidate, 0, len(snapshot))
	for _, k := range snapshot {
		if k.Status == domain.StatusBanned {
			continue
		}

		windowExpired := now-k.WindowStart >= windowPeriodMs
		dayExpired := now-k.DayStart >= dayPeriodMs

		// Step 5: flip a stale-but-still-over-limit key to exhausted,
		// best effort, and drop it from this round's candidates.
		if !dayExpired && k.Status != domain.StatusExhausted && k.UsedDaily >= k.DailyLimit {
			e.markExhausted(ctx, k)
			continue
		}

		if k.Status != domain.StatusActive {
			continue
		}

		effWindow := k.UsedInWindow
		if windowExpired {
			effWindow = 0
		}
		effDaily := k.UsedDaily
		if dayExpired {
			effDaily = 0
		}

		if effDaily >= k.DailyLimit {
			continue
		}
		if effWindow >= k.WindowLimit {
			continue
		}
		if now < k.LastUsed+k.AvgIntervalMs {
			continue // spacing guard, §4.2.1
		}

		candidates = append(candidates, candidate{
			key:             k,
			effUsedInWindow: effWindow,
			effUsedDaily:    effDaily,
			windowExpired:   windowExpired,
			dayExpired:      dayExpired,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.effUsedInWindow != b.effUsedInWindow {
			return a.effUsedInWindow < b.effUsedInWindow
		}
		if a.key.LastUsed != b.key.LastUsed {
			return a.key.LastUsed < b.key.LastUsed
		}
		return a.key.SubscriptionID < b.key.SubscriptionID
	})

	for _, c := range candidates {
		res, committed, err := e.commit(ctx, c, now)
		if err != nil {
			e.log.WithError(err).WithField("subscriptionId", c.key.SubscriptionID).Warn("cas update failed")
			continue
		}
		if committed {
			return res, true, nil
		}
		// lost the CAS race to another caller; try the next candidate
	}
	return Reservation{}, false, nil
}

// commit performs step 7's compare-and-set for a single candidate.
func (e *Engine) commit(ctx context.Context, c candidate, now int64) (Reservation, bool, error) {
	k := c.key

	newUsedInWindow := c.effUsedInWindow + 1
	newWindowStart := k.WindowStart
	if c.windowExpired {
		newWindowStart = now
	}
	newUsedDaily := c.effUsedDaily + 1
	newDayStart := k.DayStart
	if c.dayExpired {
		newDayStart = now
	}

	newStatus := domain.StatusActive
	if newUsedDaily >= k.DailyLimit {
		newStatus = domain.StatusExhausted
	}

	filter := store.Filter{
		SubscriptionID: k.SubscriptionID,
		HasSubID:       true,
		Status:         k.Status,
		HasState:       true,
		UsedInWindow:   intPtr(k.UsedInWindow),
		WindowStart:    int64Ptr(k.WindowStart),
		UsedDaily:      intPtr(k.UsedDaily),
		DayStart:       int64Ptr(k.DayStart),
		LastUsed:       int64Ptr(k.LastUsed),
	}
	upd := store.Update{Set: map[string]any{
		"usedInWindow": newUsedInWindow,
		"windowStart":  newWindowStart,
		"usedDaily":    newUsedDaily,
		"dayStart":     newDayStart,
		"lastUsed":     now,
		"status":       newStatus,
	}}

	doc, ok, err := e.st.FindOneAndUpdate(ctx, filter, upd)
	if err != nil {
		return Reservation{}, false, err
	}
	if !ok {
		return Reservation{}, false, nil
	}

	return Reservation{
		SubscriptionID:       doc.SubscriptionID,
		Plan:                 doc.Plan,
		AvgIntervalMs:        doc.AvgIntervalMs,
		LastUsed:             doc.LastUsed,
		NextRequestAllowedAt: doc.LastUsed + doc.AvgIntervalMs,
	}, true, nil
}

// markExhausted is a best-effort side write. Failures are logged and
// ignored — the next reserve() attempt, or the day sweep,
// will notice and retry.
func (e *Engine) markExhausted(ctx context.Context, k domain.Key) {
	_, err := e.st.UpdateOne(ctx, store.WithSubscriptionID(k.SubscriptionID), store.Update{
		Set: map[string]any{"status": domain.StatusExhausted},
	})
	if err != nil {
		e.log.WithError(err).WithField("subscriptionId", k.SubscriptionID).Warn("failed to mark key exhausted")
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
