package reconcile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/clock"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/planpolicy"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/registry"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/store"
)

type staticSource struct {
	set map[string]domain.Plan
}

func (s staticSource) Desired(ctx context.Context) (map[string]domain.Plan, error) {
	return s.set, nil
}

func TestWatcher_RegistersAndPrunes(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clock.NewFake(time.Now())
	reg := registry.New(st, fc, planpolicy.Overrides{}, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, "stale", "pro"); err != nil {
		t.Fatal(err)
	}

	src := staticSource{set: map[string]domain.Plan{"fresh": domain.PlanPro}}
	w := NewWatcher(src, reg, time.Hour, nil)
	w.reconcileOnce(ctx)

	views, err := reg.ListStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].SubscriptionID != "fresh" {
		t.Fatalf("expected only 'fresh' to remain, got %+v", views)
	}
}

type stubProber struct {
	alive map[string]bool
}

func (p stubProber) IsAlive(ctx context.Context, id string) (bool, error) {
	return p.alive[id], nil
}

func TestHealthSweeper_DeletesDeadKeysOnly(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clock.NewFake(time.Now())
	reg := registry.New(st, fc, planpolicy.Overrides{}, nil)
	ctx := context.Background()

	for _, id := range []string{"alive", "dead"} {
		if err := reg.Register(ctx, id, "pro"); err != nil {
			t.Fatal(err)
		}
	}

	prober := stubProber{alive: map[string]bool{"alive": true, "dead": false}}
	sweeper := NewHealthSweeper(prober, reg, nil)
	sweeper.sweepOnce(ctx)

	views, err := reg.ListStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].SubscriptionID != "alive" {
		t.Fatalf("expected only 'alive' to remain, got %+v", views)
	}
}

func TestWatcher_FileSourceKeepsSeededKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	buf, err := json.Marshal([]keyEntry{{ID: "seeded", Plan: "pro"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatal(err)
	}

	st := store.NewMemoryStore()
	fc := clock.NewFake(time.Now())
	reg := registry.New(st, fc, planpolicy.Overrides{}, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, "seeded", "pro"); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(NewFileSource(path), reg, time.Hour, nil)
	w.reconcileOnce(ctx)

	views, err := reg.ListStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].SubscriptionID != "seeded" {
		t.Fatalf("expected the file-described key to survive reconciliation, got %+v", views)
	}
}

func TestFileSource_ParsesAndCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	entries := []keyEntry{
		{ID: "a", Plan: "pro"},
		{ID: "b", Plan: "ultimate"},
	}
	buf, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path)
	desired, err := src.Desired(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if desired["a"] != domain.PlanPro || desired["b"] != domain.PlanUltimate {
		t.Fatalf("unexpected desired set: %+v", desired)
	}
}
