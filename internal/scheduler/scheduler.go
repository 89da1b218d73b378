// Package scheduler implements the Maintenance Scheduler: two independent
// periodic sweeps over the Key Store. Both
// are optimizations, not correctness-bearing — the Engine already treats
// expired windows/days as reset when computing effective counts — so a
// missed or delayed tick never violates an invariant, only adds drift to
// /status.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

const (
	windowSweepInterval = 30 * time.Second
	daySweepInterval    = 60 * time.Second

	windowPeriodMs = 30_000
	dayPeriodMs    = 86_400_000

	// StaleKeyWarnAfter is the threshold past which the GC-warning pass
	// logs a key as stale inventory, ahead of the nightly health probe
	// (C7) actually culling it.
	StaleKeyWarnAfter = 14 * 24 * time.Hour
)

// Scheduler owns the two ticker loops. Stop() must be called exactly once.
type Scheduler struct {
	st  store.KeyStore
	clk clock.Clock
	log *logrus.Entry
	mtr metricsSink

	cancel context.CancelFunc
	done   chan struct{}
}

// metricsSink is the minimal surface Scheduler needs from internal/metrics.
type metricsSink interface {
	IncWindowSweep()
	IncDaySweep()
	IncSweepError()
}

// New builds a Scheduler; call Start to begin ticking.
func New(st store.KeyStore, clk clock.Clock, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{st: st, clk: clk, log: log}
}

// SetMetrics attaches a counters sink (internal/metrics.Registry satisfies
// this). Optional.
func (s *Scheduler) SetMetrics(m metricsSink) {
	s.mtr = m
}

// Start launches the window sweep, day sweep, and stale-key warning loops.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		windowTicker := time.NewTicker(windowSweepInterval)
		dayTicker := time.NewTicker(daySweepInterval)
		defer windowTicker.Stop()
		defer dayTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-windowTicker.C:
				s.runGuarded("window sweep", s.windowSweep)
			case <-dayTicker.C:
				s.runGuarded("day sweep", s.daySweep)
				s.runGuarded("stale key warn", s.staleKeyWarn)
			}
		}
	}()
}

// Stop cancels the loops and waits for the goroutine to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// runGuarded recovers from any panic in a sweep so one bad tick never takes
// the whole scheduler down: failures are logged and suppressed, the next
// tick retries.
func (s *Scheduler) runGuarded(name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("job", name).Errorf("panic recovered: %v", r)
			if s.mtr != nil {
				s.mtr.IncSweepError()
			}
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.log.WithError(err).WithField("job", name).Warn("sweep failed")
		if s.mtr != nil {
			s.mtr.IncSweepError()
		}
		return
	}
	switch name {
	case "window sweep":
		if s.mtr != nil {
			s.mtr.IncWindowSweep()
		}
	case "day sweep":
		if s.mtr != nil {
			s.mtr.IncDaySweep()
		}
	}
}

// windowSweep resets usedInWindow/windowStart for every key whose window
// has elapsed.
func (s *Scheduler) windowSweep(ctx context.Context) error {
	now := s.clk.Now().UnixMilli()
	keys, err := s.st.FindAll(ctx, store.Filter{})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if now-k.WindowStart < windowPeriodMs {
			continue
		}
		_, err := s.st.UpdateOne(ctx, store.WithSubscriptionID(k.SubscriptionID), store.Update{
			Set: map[string]any{"usedInWindow": 0, "windowStart": now},
		})
		if err != nil {
			s.log.WithError(err).WithField("subscriptionId", k.SubscriptionID).Warn("window sweep update failed")
		}
	}
	return nil
}

// daySweep resets usedDaily/dayStart for every key whose day has elapsed
// and reactivates exhausted keys; banned keys are never touched (spec
// §4.3, P6).
func (s *Scheduler) daySweep(ctx context.Context) error {
	now := s.clk.Now().UnixMilli()
	keys, err := s.st.FindAll(ctx, store.Filter{})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if now-k.DayStart < dayPeriodMs {
			continue
		}
		set := map[string]any{"usedDaily": 0, "dayStart": now}
		if k.Status == domain.StatusExhausted {
			set["status"] = domain.StatusActive
		}
		_, err := s.st.UpdateOne(ctx, store.WithSubscriptionID(k.SubscriptionID), store.Update{Set: set})
		if err != nil {
			s.log.WithError(err).WithField("subscriptionId", k.SubscriptionID).Warn("day sweep update failed")
		}
	}
	return nil
}

// staleKeyWarn logs (never mutates or deletes) keys that haven't been used
// in a long time, so an operator notices before the nightly health probe
// would act on it.
func (s *Scheduler) staleKeyWarn(ctx context.Context) error {
	now := s.clk.Now()
	keys, err := s.st.FindAll(ctx, store.Filter{})
	if err != nil {
		return err
	}
	threshold := now.Add(-StaleKeyWarnAfter).UnixMilli()
	for _, k := range keys {
		if k.Status == domain.StatusBanned {
			continue
		}
		if k.LastUsed == 0 || k.LastUsed > threshold {
			continue
		}
		s.log.WithField("subscriptionId", k.SubscriptionID).
			WithField("lastUsed", time.UnixMilli(k.LastUsed)).
			Warn("key has not been used in a long time")
	}
	return nil
}
