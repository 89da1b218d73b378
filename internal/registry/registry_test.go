package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/engine"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/planpolicy"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

// P7: re-registering an existing key with a new plan changes plan/limits
// but leaves counters, anchors and lastUsed unchanged.
func TestRegister_UpdatePreservesCounters(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	r := New(st, fc, planpolicy.Overrides{}, nil)

	if err := r.Register(ctx, "k", "pro"); err != nil {
		t.Fatal(err)
	}

	e := engine.New(st, fc, nil)
	if _, err := e.Reserve(ctx); err != nil {
		t.Fatal(err)
	}

	if err := r.Register(ctx, "k", "ultimate"); err != nil {
		t.Fatal(err)
	}

	views, err := r.ListStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one key, got %d", len(views))
	}
	v := views[0]
	if v.Plan != domain.PlanUltimate {
		t.Fatalf("expected plan updated to ultimate, got %s", v.Plan)
	}
	if v.AvgIntervalMs != 170 || v.WindowLimit != 170 {
		t.Fatalf("expected ultimate limits, got interval=%d window=%d", v.AvgIntervalMs, v.WindowLimit)
	}
	if v.UsedInWindow != 1 || v.UsedDaily != 1 {
		t.Fatalf("expected counters preserved at 1, got window=%d daily=%d", v.UsedInWindow, v.UsedDaily)
	}
}

func TestRegister_RejectsEmptyID(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, clock.New(), planpolicy.Overrides{}, nil)
	err := r.Register(context.Background(), "", "pro")
	if !errors.Is(err, brokererrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDelete_AbsentIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, clock.New(), planpolicy.Overrides{}, nil)
	if err := r.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

// P8: /limits[i] projects /status[i] exactly.
func TestListLimits_MatchesListStatusProjection(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clock.NewFake(time.Now())
	r := New(st, fc, planpolicy.Overrides{}, nil)
	ctx := context.Background()
	if err := r.Register(ctx, "a", "pro"); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, "b", "ultimate"); err != nil {
		t.Fatal(err)
	}

	statuses, err := r.ListStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	limits, err := r.ListLimits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]LimitsView{}
	for _, l := range limits {
		byID[l.SubscriptionID] = l
	}
	for _, s := range statuses {
		l, ok := byID[s.SubscriptionID]
		if !ok {
			t.Fatalf("missing limits view for %s", s.SubscriptionID)
		}
		if l.Plan != s.Plan || l.WindowLimit != s.WindowLimit || l.DailyLimit != s.DailyLimit ||
			l.AvgIntervalMs != s.AvgIntervalMs || l.LastUsed != s.LastUsed || l.NextRequestAllowedAt != s.NextRequestAllowedAt {
			t.Fatalf("projection mismatch for %s: %+v vs %+v", s.SubscriptionID, s, l)
		}
	}
}
