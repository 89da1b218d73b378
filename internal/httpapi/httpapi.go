// Package httpapi implements the HTTP Surface as a handful of net/http
// handlers registered directly on a ServeMux, following
// the teacher's cmd/server.go style rather than pulling in a web framework
// for what amounts to seven routes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/engine"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/planpolicy"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/registry"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/waitqueue"
)

// Server wires the Reservation Engine, the Wait Queue broker and the Key
// Registry to http.Handler.
type Server struct {
	eng    *engine.Engine
	wq     *waitqueue.Broker
	reg    *registry.Registry
	ov     planpolicy.Overrides
	log    *logrus.Entry
	defReq int64 // default requestTimeoutMs when the caller doesn't specify one; 0 = unbounded
}

// New builds a Server.
func New(eng *engine.Engine, wq *waitqueue.Broker, reg *registry.Registry, ov planpolicy.Overrides, defaultRequestTimeoutMs int64, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{eng: eng, wq: wq, reg: reg, ov: ov, log: log, defReq: defaultRequestTimeoutMs}
}

// Mux builds the route table. /health is left unrated so a
// load balancer's liveness probe never competes with real callers for
// tokens; stop, when closed, halts the rate limiter's idle janitor.
func (s *Server) Mux(stop <-chan struct{}) *http.ServeMux {
	mux := http.NewServeMux()
	limited := func(h http.HandlerFunc) http.Handler {
		return RateLimitMiddleware(h, 20, 40, stop)
	}
	mux.Handle("/key/available", limited(s.handleAvailable))
	mux.Handle("/key/available/queued", limited(s.handleAvailableQueued))
	mux.Handle("/status", limited(s.handleStatus))
	mux.Handle("/limits", limited(s.handleLimits))
	mux.Handle("/keys", limited(s.handleKeysCollection))
	mux.Handle("/keys/", limited(s.handleKeysItem))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

type keyView struct {
	SubscriptionID       string `json:"subscriptionId"`
	Plan                 string `json:"plan"`
	AvgRequestIntervalMs int64  `json:"avgRequestIntervalMs"`
	LastUsed             int64  `json:"lastUsed"`
	NextRequestAllowedAt int64  `json:"nextRequestAllowedAt"`
}

func reservationToView(r engine.Reservation) keyView {
	return keyView{
		SubscriptionID:       r.SubscriptionID,
		Plan:                 string(r.Plan),
		AvgRequestIntervalMs: r.AvgIntervalMs,
		LastUsed:             r.LastUsed,
		NextRequestAllowedAt: r.NextRequestAllowedAt,
	}
}

func (s *Server) waitHintMs() int64 {
	return planpolicy.DefaultWaitHintMs(s.ov)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := s.eng.Reserve(r.Context())
	if err != nil {
		if errors.Is(err, brokererrors.ErrNotAvailable) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "wait", "waitMs": s.waitHintMs()})
			return
		}
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "key": reservationToView(res)})
}

func (s *Server) handleAvailableQueued(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	timeoutMs := s.defReq
	if v := r.URL.Query().Get("requestTimeoutMs"); v != "" {
		if n, err := parsePositiveInt64(v); err == nil {
			timeoutMs = n
		}
	}

	res, err := s.wq.ReserveBlocking(r.Context(), timeoutMs)
	if err != nil {
		if errors.Is(err, brokererrors.ErrQueueTimeout) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "wait", "waitMs": s.waitHintMs()})
			return
		}
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "key": reservationToView(res)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views, err := s.reg.ListStatus(r.Context())
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views, err := s.reg.ListLimits(r.Context())
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type registerRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	ID             string `json:"id"`
	Plan           string `json:"plan"`
}

func (s *Server) handleKeysCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := req.SubscriptionID
	if id == "" {
		id = req.ID
	}
	if err := s.reg.Register(r.Context(), id, req.Plan); err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "registered"})
}

func (s *Server) handleKeysItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/keys/")
	if err := s.reg.Delete(r.Context(), id); err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeTaxonomyError maps the brokererrors taxonomy to a status code:
// InvalidArgument -> 400, everything else -> 500 (NotAvailable and
// QueueTimeout are handled inline by their callers since they carry a
// wait-hint body instead of a plain error).
func (s *Server) writeTaxonomyError(w http.ResponseWriter, err error) {
	switch brokererrors.Classify(err) {
	case brokererrors.KindInvalidArgument:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parsePositiveInt64(s string) (int64, error) {
	d, err := time.ParseDuration(s + "ms")
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("value must be positive")
	}
	return d.Milliseconds(), nil
}
