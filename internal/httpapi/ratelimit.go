package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterStore is a per-client-IP token bucket cache with an idle janitor,
// grounded in cyph3rk's infra.Store (middleware/ratelimit/infra/store.go):
// this HTTP surface fronts a shared credential pool, so it gets the same
// ingress protection that corpus's gateway applies to its own upstream.
type ipLimiterStore struct {
	mu      sync.Mutex
	entries map[string]*ipLimiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type ipLimiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newIPLimiterStore(rps float64, burst int) *ipLimiterStore {
	return &ipLimiterStore{
		entries: make(map[string]*ipLimiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

func (s *ipLimiterStore) get(key string) *rate.Limiter {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &ipLimiterEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *ipLimiterStore) cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *ipLimiterStore) startJanitor(stop <-chan struct{}) {
	t := time.NewTicker(2 * time.Minute)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.cleanup()
			}
		}
	}()
}

// RateLimitMiddleware caps requests per client IP at rps (with burst), so a
// single misbehaving caller can't starve the shared key pool's HTTP surface
// of everyone else's /key/available calls. stop, when closed, halts the
// idle-entry janitor.
func RateLimitMiddleware(next http.Handler, rps float64, burst int, stop <-chan struct{}) http.Handler {
	store := newIPLimiterStore(rps, burst)
	store.startJanitor(stop)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !store.get(host).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
