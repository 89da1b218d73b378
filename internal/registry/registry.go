// Package registry implements the Key Registry: register/update, delete,
// and the two listing projections. It is the only
// component permitted to insert or delete Key documents.
package registry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/planpolicy"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

// StatusView is the full per-key projection returned by ListStatus.
type StatusView struct {
	SubscriptionID       string        `json:"subscriptionId"`
	Plan                 domain.Plan   `json:"plan"`
	Status               domain.Status `json:"status"`
	WindowLimit          int           `json:"windowLimit"`
	DailyLimit           int           `json:"dailyLimit"`
	AvgIntervalMs        int64         `json:"avgIntervalMs"`
	UsedInWindow         int           `json:"usedInWindow"`
	WindowStart          int64         `json:"windowStart"`
	UsedDaily            int           `json:"usedDaily"`
	DayStart             int64         `json:"dayStart"`
	LastUsed             int64         `json:"lastUsed"`
	NextRequestAllowedAt int64         `json:"nextRequestAllowedAt"`
}

// LimitsView is the §4.5 "limits only" projection of StatusView.
type LimitsView struct {
	SubscriptionID       string      `json:"subscriptionId"`
	Plan                 domain.Plan `json:"plan"`
	WindowLimit          int         `json:"windowLimit"`
	DailyLimit           int         `json:"dailyLimit"`
	AvgIntervalMs        int64       `json:"avgIntervalMs"`
	LastUsed             int64       `json:"lastUsed"`
	NextRequestAllowedAt int64       `json:"nextRequestAllowedAt"`
}

// Registry wraps a KeyStore with the registration/listing contracts.
type Registry struct {
	st  store.KeyStore
	clk clock.Clock
	ov  planpolicy.Overrides
	log *logrus.Entry
}

// New builds a Registry. ov carries the MAILTESTER_PRO_INTERVAL_MS /
// MAILTESTER_ULTIMATE_INTERVAL_MS configuration overrides.
func New(st store.KeyStore, clk clock.Clock, ov planpolicy.Overrides, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{st: st, clk: clk, ov: ov, log: log}
}

// Register inserts a fresh key, or — if one already exists — updates only
// its plan and derived limits, leaving counters, anchors and lastUsed
// untouched.
func (r *Registry) Register(ctx context.Context, subscriptionID, rawPlan string) error {
	if subscriptionID == "" {
		return fmt.Errorf("%w: subscriptionId is required", brokererrors.ErrInvalidArgument)
	}
	plan := domain.NormalizePlan(rawPlan)
	lim := planpolicy.For(plan, r.ov)

	existing, ok, err := r.st.FindOne(ctx, store.WithSubscriptionID(subscriptionID))
	if err != nil {
		return err
	}
	if !ok {
		now := r.clk.Now().UnixMilli()
		return r.st.InsertOne(ctx, domain.Key{
			SubscriptionID: subscriptionID,
			Plan:           plan,
			Status:         domain.StatusActive,
			WindowLimit:    lim.WindowLimit,
			DailyLimit:     lim.DailyLimit,
			AvgIntervalMs:  lim.AvgIntervalMs,
			WindowStart:    now,
			DayStart:       now,
			LastUsed:       0,
		})
	}

	_, err = r.st.UpdateOne(ctx, store.WithSubscriptionID(subscriptionID), store.Update{
		Set: map[string]any{
			"plan":          plan,
			"windowLimit":   lim.WindowLimit,
			"dailyLimit":    lim.DailyLimit,
			"avgIntervalMs": lim.AvgIntervalMs,
		},
	})
	if err != nil {
		return err
	}
	_ = existing // documented: counters/anchors/lastUsed are deliberately untouched
	return nil
}

// Delete removes a key; an absent document is a no-op success.
func (r *Registry) Delete(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return fmt.Errorf("%w: subscriptionId is required", brokererrors.ErrInvalidArgument)
	}
	return r.st.DeleteOne(ctx, subscriptionID)
}

// ListStatus returns the full per-key projection for every key.
func (r *Registry) ListStatus(ctx context.Context) ([]StatusView, error) {
	keys, err := r.st.FindAll(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(keys))
	for _, k := range keys {
		out = append(out, StatusView{
			SubscriptionID:       k.SubscriptionID,
			Plan:                 k.Plan,
			Status:               k.Status,
			WindowLimit:          k.WindowLimit,
			DailyLimit:           k.DailyLimit,
			AvgIntervalMs:        k.AvgIntervalMs,
			UsedInWindow:         k.UsedInWindow,
			WindowStart:          k.WindowStart,
			UsedDaily:            k.UsedDaily,
			DayStart:             k.DayStart,
			LastUsed:             k.LastUsed,
			NextRequestAllowedAt: k.NextRequestAllowedAt(),
		})
	}
	return out, nil
}

// ListLimits is the projection of ListStatus onto the limits columns (spec
// §4.5, P8).
func (r *Registry) ListLimits(ctx context.Context) ([]LimitsView, error) {
	full, err := r.ListStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LimitsView, 0, len(full))
	for _, s := range full {
		out = append(out, LimitsView{
			SubscriptionID:       s.SubscriptionID,
			Plan:                 s.Plan,
			WindowLimit:          s.WindowLimit,
			DailyLimit:           s.DailyLimit,
			AvgIntervalMs:        s.AvgIntervalMs,
			LastUsed:             s.LastUsed,
			NextRequestAllowedAt: s.NextRequestAllowedAt,
		})
	}
	return out, nil
}
