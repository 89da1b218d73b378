// Package metrics fills the observability seam the teacher's cmd/server.go
// references but never ships (it imports internal/metrics for a
// metrics.Handler() that doesn't exist in the retrieval pack, and no
// example repo imports a metrics library either — see DESIGN.md). It
// exposes the broker's reservation/queue/sweep counters as a small JSON
// snapshot rather than a generic exporter format, since nothing in the
// corpus grounds a specific one.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Registry holds the broker's counters. Zero value is ready to use.
type Registry struct {
	reservationsWon  atomic.Int64
	reservationsLost atomic.Int64
	queueEnqueued    atomic.Int64
	queueTimedOut    atomic.Int64
	windowSweeps     atomic.Int64
	daySweeps        atomic.Int64
	sweepErrors      atomic.Int64
}

// New returns a ready Registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) IncReservationWon()  { r.reservationsWon.Add(1) }
func (r *Registry) IncReservationLost() { r.reservationsLost.Add(1) }
func (r *Registry) IncQueueEnqueued()   { r.queueEnqueued.Add(1) }
func (r *Registry) IncQueueTimedOut()   { r.queueTimedOut.Add(1) }
func (r *Registry) IncWindowSweep()     { r.windowSweeps.Add(1) }
func (r *Registry) IncDaySweep()        { r.daySweeps.Add(1) }
func (r *Registry) IncSweepError()      { r.sweepErrors.Add(1) }

// Snapshot is the JSON-serializable view of a Registry.
type Snapshot struct {
	ReservationsWon  int64 `json:"reservationsWon"`
	ReservationsLost int64 `json:"reservationsLost"`
	QueueEnqueued    int64 `json:"queueEnqueued"`
	QueueTimedOut    int64 `json:"queueTimedOut"`
	WindowSweeps     int64 `json:"windowSweeps"`
	DaySweeps        int64 `json:"daySweeps"`
	SweepErrors      int64 `json:"sweepErrors"`
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		ReservationsWon:  r.reservationsWon.Load(),
		ReservationsLost: r.reservationsLost.Load(),
		QueueEnqueued:    r.queueEnqueued.Load(),
		QueueTimedOut:    r.queueTimedOut.Load(),
		WindowSweeps:     r.windowSweeps.Load(),
		DaySweeps:        r.daySweeps.Load(),
		SweepErrors:      r.sweepErrors.Load(),
	}
}

// Handler serves the current Snapshot as JSON, mirroring the teacher's
// metrics.Handler() seam referenced from cmd/server.go.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Snapshot())
	})
}
