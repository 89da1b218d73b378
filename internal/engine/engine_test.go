package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/planpolicy"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

func newFreshKey(id string, plan domain.Plan, now time.Time) domain.Key {
	lim := planpolicy.For(plan, planpolicy.Overrides{})
	ms := now.UnixMilli()
	return domain.Key{
		SubscriptionID: id,
		Plan:           plan,
		Status:         domain.StatusActive,
		WindowLimit:    lim.WindowLimit,
		DailyLimit:     lim.DailyLimit,
		AvgIntervalMs:  lim.AvgIntervalMs,
		WindowStart:    ms,
		DayStart:       ms,
	}
}

// scenario 1: single key, spacing.
func TestReserve_SingleKeySpacing(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.InsertOne(ctx, newFreshKey("sub_pro_test", domain.PlanPro, fc.Now())); err != nil {
		t.Fatal(err)
	}
	e := New(st, fc, nil)

	res, err := e.Reserve(ctx)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if res.SubscriptionID != "sub_pro_test" || res.AvgIntervalMs != 860 {
		t.Fatalf("unexpected reservation: %+v", res)
	}

	if _, err := e.Reserve(ctx); err != brokererrors.ErrNotAvailable {
		t.Fatalf("expected ErrNotAvailable immediately after, got %v", err)
	}

	fc.Advance(870 * time.Millisecond)
	res2, err := e.Reserve(ctx)
	if err != nil {
		t.Fatalf("third reserve: %v", err)
	}
	if res2.SubscriptionID != "sub_pro_test" {
		t.Fatalf("expected sub_pro_test again, got %s", res2.SubscriptionID)
	}
}

// scenario 2: plan alternation.
func TestReserve_PlanAlternation(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	must(t, st.InsertOne(ctx, newFreshKey("ultimate_fast", domain.PlanUltimate, fc.Now())))
	must(t, st.InsertOne(ctx, newFreshKey("pro_slow", domain.PlanPro, fc.Now())))
	e := New(st, fc, nil)

	first, err := e.Reserve(ctx)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := e.Reserve(ctx)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if first.SubscriptionID == second.SubscriptionID {
		t.Fatalf("expected two distinct keys, got %s twice", first.SubscriptionID)
	}

	fc.Advance(180 * time.Millisecond)
	third, err := e.Reserve(ctx)
	if err != nil {
		t.Fatalf("third reserve: %v", err)
	}
	if third.SubscriptionID != "ultimate_fast" {
		t.Fatalf("expected ultimate_fast (170ms interval), got %s", third.SubscriptionID)
	}
}

// scenario 3: window saturation and reset.
func TestReserve_WindowSaturation(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	k := newFreshKey("k", domain.PlanPro, fc.Now())
	// At the pro default of 860ms, 35 spaced reservations span 29.24s and a
	// 36th spaced call lands past the 30s window; shrink the spacing so all
	// 36 calls fall inside one window.
	k.AvgIntervalMs = 800
	must(t, st.InsertOne(ctx, k))
	e := New(st, fc, nil)

	for i := 0; i < 35; i++ {
		if i > 0 {
			fc.Advance(800 * time.Millisecond)
		}
		if _, err := e.Reserve(ctx); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	fc.Advance(800 * time.Millisecond)
	if _, err := e.Reserve(ctx); err != brokererrors.ErrNotAvailable {
		t.Fatalf("expected window exhaustion, got %v", err)
	}

	fc.Advance(30*time.Second + time.Millisecond)
	res, err := e.Reserve(ctx)
	if err != nil {
		t.Fatalf("post-window reserve: %v", err)
	}
	if res.SubscriptionID != "k" {
		t.Fatalf("unexpected key: %s", res.SubscriptionID)
	}

	doc, ok, err := st.FindOne(ctx, store.WithSubscriptionID("k"))
	if err != nil || !ok {
		t.Fatalf("lookup k: ok=%v err=%v", ok, err)
	}
	if doc.UsedInWindow != 1 {
		t.Fatalf("expected usedInWindow reset to 1, got %d", doc.UsedInWindow)
	}
}

// scenario 4: daily exhaustion and registry-independent day-sweep reactivation
// is exercised in scheduler_test.go; here we only check the exhausted
// transition.
func TestReserve_DailyExhaustion(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	k := newFreshKey("daily", domain.PlanPro, fc.Now())
	k.DailyLimit = 2 // shrink for the test
	must(t, st.InsertOne(ctx, k))
	e := New(st, fc, nil)

	must(t, reserveOK(t, e, ctx))
	fc.Advance(900 * time.Millisecond)
	must(t, reserveOK(t, e, ctx))

	doc, ok, err := st.FindOne(ctx, store.WithSubscriptionID("daily"))
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if doc.Status != domain.StatusExhausted {
		t.Fatalf("expected exhausted, got %s", doc.Status)
	}

	fc.Advance(900 * time.Millisecond)
	if _, err := e.Reserve(ctx); err != brokererrors.ErrNotAvailable {
		t.Fatalf("expected exhausted key to be unavailable, got %v", err)
	}
}

// P4: exactly one winner under concurrent reservers for a single slot.
func TestReserve_ExactlyOneWinner(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	k := newFreshKey("contended", domain.PlanPro, fc.Now())
	k.UsedInWindow = k.WindowLimit - 1 // exactly one slot left
	k.AvgIntervalMs = 0                // remove spacing as a confound
	must(t, st.InsertOne(ctx, k))
	e := New(st, fc, nil)

	const n = 20
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Reserve(ctx)
			wins[i] = err == nil
		}(i)
	}
	wg.Wait()

	won := 0
	for _, w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

// P5: banned is terminal, never selected by the engine.
func TestReserve_NeverSelectsBanned(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()
	k := newFreshKey("banned", domain.PlanPro, fc.Now())
	k.Status = domain.StatusBanned
	must(t, st.InsertOne(ctx, k))
	e := New(st, fc, nil)

	if _, err := e.Reserve(ctx); err != brokererrors.ErrNotAvailable {
		t.Fatalf("expected no keys available, got %v", err)
	}
}

func reserveOK(t *testing.T, e *Engine, ctx context.Context) error {
	t.Helper()
	_, err := e.Reserve(ctx)
	return err
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestMain(m *testing.M) {
	// guards against a silently-broken fake clock affecting every test.
	fc := clock.NewFake(time.Unix(0, 0))
	if !fc.Now().Equal(time.Unix(0, 0)) {
		panic(fmt.Sprintf("fake clock broken: %v", fc.Now()))
	}
	os.Exit(m.Run())
}
