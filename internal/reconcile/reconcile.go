// Package reconcile implements the two external reconcilers: a desired-set
// watcher that keeps the Key Registry in sync with an
// operator-maintained key list, and a nightly health prober that removes
// keys the upstream no longer accepts. Both act only through Registry, so
// they never bypass its validation or write to the store directly.
package reconcile

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/registry"
)

// DesiredSetSource supplies the full desired {subscriptionId: plan} set that
// the file watcher reconciles the store against.
type DesiredSetSource interface {
	Desired(ctx context.Context) (map[string]domain.Plan, error)
}

// HealthProber reports whether an upstream provider still accepts a key.
// Implementations talk to whatever product the key belongs to; this
// package only consumes the boolean verdict.
type HealthProber interface {
	IsAlive(ctx context.Context, subscriptionID string) (bool, error)
}

// Watcher keeps the Registry's key set in sync with a DesiredSetSource on a
// fixed poll interval: registers anything new or changed, deletes anything
// the registry has that the desired set no longer names.
type Watcher struct {
	src      DesiredSetSource
	reg      *registry.Registry
	interval time.Duration
	log      *logrus.Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher builds a Watcher. interval <= 0 defaults to 30s.
func NewWatcher(src DesiredSetSource, reg *registry.Registry, interval time.Duration, log *logrus.Entry) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{src: src, reg: reg, interval: interval, log: log}
}

// Start launches the polling loop. Call Stop to halt it.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		w.reconcileOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reconcileOnce(ctx)
			}
		}
	}()
}

// Stop halts the watcher and waits for its loop to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Watcher) reconcileOnce(ctx context.Context) {
	desired, err := w.src.Desired(ctx)
	if err != nil {
		w.log.WithError(err).Warn("reconcile: failed to load desired key set")
		return
	}

	for id, plan := range desired {
		if err := w.reg.Register(ctx, id, string(plan)); err != nil {
			w.log.WithError(err).WithField("subscriptionId", id).Warn("reconcile: register failed")
		}
	}

	current, err := w.reg.ListStatus(ctx)
	if err != nil {
		w.log.WithError(err).Warn("reconcile: failed to list current keys")
		return
	}
	for _, v := range current {
		if _, ok := desired[v.SubscriptionID]; ok {
			continue
		}
		if err := w.reg.Delete(ctx, v.SubscriptionID); err != nil {
			w.log.WithError(err).WithField("subscriptionId", v.SubscriptionID).Warn("reconcile: delete failed")
		}
	}
}

// HealthSweeper runs HealthProber.IsAlive against every registered key once
// per UTC day and deletes the ones the upstream no longer accepts. It never
// sets a key to banned — that status is reserved for deliberate operator
// action.
type HealthSweeper struct {
	prober HealthProber
	reg    *registry.Registry
	log    *logrus.Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthSweeper builds a HealthSweeper.
func NewHealthSweeper(prober HealthProber, reg *registry.Registry, log *logrus.Entry) *HealthSweeper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HealthSweeper{prober: prober, reg: reg, log: log}
}

// Start launches a goroutine that sweeps once immediately, then again at
// every UTC midnight, until Stop is called.
func (h *HealthSweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		h.sweepOnce(ctx)
		for {
			wait := untilNextUTCMidnight(time.Now().UTC())
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				h.sweepOnce(ctx)
			}
		}
	}()
}

// Stop halts the sweeper and waits for its loop to exit.
func (h *HealthSweeper) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

func (h *HealthSweeper) sweepOnce(ctx context.Context) {
	views, err := h.reg.ListStatus(ctx)
	if err != nil {
		h.log.WithError(err).Warn("health sweep: failed to list keys")
		return
	}
	for _, v := range views {
		if v.Status == domain.StatusBanned {
			continue
		}
		alive, err := h.prober.IsAlive(ctx, v.SubscriptionID)
		if err != nil {
			h.log.WithError(err).WithField("subscriptionId", v.SubscriptionID).Warn("health sweep: probe failed")
			continue
		}
		if alive {
			continue
		}
		if err := h.reg.Delete(ctx, v.SubscriptionID); err != nil {
			h.log.WithError(err).WithField("subscriptionId", v.SubscriptionID).Warn("health sweep: delete failed")
			continue
		}
		h.log.WithField("subscriptionId", v.SubscriptionID).Info("health sweep: removed dead key")
	}
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}
