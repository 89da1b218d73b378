package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

// P6: an exhausted key whose dayStart is older than 24h becomes selectable
// (status flips back to active) via the day sweep.
func TestDaySweep_ReactivatesExhausted(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()

	k := domain.Key{
		SubscriptionID: "k",
		Plan:           domain.PlanPro,
		Status:         domain.StatusExhausted,
		WindowLimit:    35,
		DailyLimit:     100000,
		AvgIntervalMs:  860,
		DayStart:       fc.Now().UnixMilli(),
		UsedDaily:      100000,
	}
	if err := st.InsertOne(ctx, k); err != nil {
		t.Fatal(err)
	}

	sch := New(st, fc, nil)

	fc.Advance(23 * time.Hour)
	if err := sch.daySweep(ctx); err != nil {
		t.Fatal(err)
	}
	doc, _, _ := st.FindOne(ctx, store.WithSubscriptionID("k"))
	if doc.Status != domain.StatusExhausted {
		t.Fatalf("expected still exhausted before 24h, got %s", doc.Status)
	}

	fc.Advance(2 * time.Hour) // now 25h since dayStart
	if err := sch.daySweep(ctx); err != nil {
		t.Fatal(err)
	}
	doc, _, _ = st.FindOne(ctx, store.WithSubscriptionID("k"))
	if doc.Status != domain.StatusActive {
		t.Fatalf("expected reactivated, got %s", doc.Status)
	}
	if doc.UsedDaily != 0 {
		t.Fatalf("expected usedDaily reset, got %d", doc.UsedDaily)
	}
}

// P5: banned keys are never reactivated by the sweep.
func TestDaySweep_NeverReactivatesBanned(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()

	k := domain.Key{
		SubscriptionID: "banned",
		Status:         domain.StatusBanned,
		DailyLimit:     100000,
		DayStart:       fc.Now().UnixMilli(),
	}
	if err := st.InsertOne(ctx, k); err != nil {
		t.Fatal(err)
	}
	sch := New(st, fc, nil)

	fc.Advance(25 * time.Hour)
	if err := sch.daySweep(ctx); err != nil {
		t.Fatal(err)
	}
	doc, _, _ := st.FindOne(ctx, store.WithSubscriptionID("banned"))
	if doc.Status != domain.StatusBanned {
		t.Fatalf("expected still banned, got %s", doc.Status)
	}
}

func TestWindowSweep_ResetsElapsedWindow(t *testing.T) {
	fc := clock.NewFake(time.Now())
	st := store.NewMemoryStore()
	ctx := context.Background()

	k := domain.Key{
		SubscriptionID: "k",
		Status:         domain.StatusActive,
		WindowLimit:    35,
		DailyLimit:     100000,
		WindowStart:    fc.Now().UnixMilli(),
		UsedInWindow:   35,
	}
	if err := st.InsertOne(ctx, k); err != nil {
		t.Fatal(err)
	}
	sch := New(st, fc, nil)

	fc.Advance(31 * time.Second)
	if err := sch.windowSweep(ctx); err != nil {
		t.Fatal(err)
	}
	doc, _, _ := st.FindOne(ctx, store.WithSubscriptionID("k"))
	if doc.UsedInWindow != 0 {
		t.Fatalf("expected usedInWindow reset, got %d", doc.UsedInWindow)
	}
}
