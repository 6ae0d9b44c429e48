package syncbridge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/state"
	"github.com/feedwrap/feedwrap/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestBridge(t *testing.T, probe Probe) (*Bridge, state.Store, state.Store) {
	t.Helper()
	dir := t.TempDir()
	durable, err := state.NewFileStore(filepath.Join(dir, "durable.json"), testLogger)
	if err != nil {
		t.Fatalf("durable store: %v", err)
	}
	mirror, err := state.NewFileStore(filepath.Join(dir, "mirror.json"), testLogger)
	if err != nil {
		t.Fatalf("mirror store: %v", err)
	}
	cfg := config.SyncConfig{Interval: time.Second, LogoutDebounce: 5 * time.Second}
	b := New(durable, mirror, probe, cfg, observability.NewMetrics(testLogger), testLogger)
	return b, durable, mirror
}

func TestIdentityPropagatesToDurable(t *testing.T) {
	ctx := context.Background()
	b, durable, mirror := newTestBridge(t, nil)

	alice := &types.Identity{User: "Alice", Handle: "alice"}
	if err := mirror.SaveIdentity(ctx, alice); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	if err := b.Pass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	got, err := durable.LoadIdentity(ctx)
	if err != nil {
		t.Fatalf("load durable identity: %v", err)
	}
	if got == nil || got.Handle != "alice" {
		t.Fatalf("durable identity = %+v, want alice", got)
	}
	if writes := b.metrics.SyncWrites.Load(); writes != 1 {
		t.Errorf("sync writes = %d, want 1", writes)
	}

	// A second pass with identical sides must not write again.
	if err := b.Pass(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if writes := b.metrics.SyncWrites.Load(); writes != 1 {
		t.Errorf("sync writes after no-op pass = %d, want 1", writes)
	}
}

func TestLogoutClearsBothAndDebounces(t *testing.T) {
	ctx := context.Background()
	b, durable, mirror := newTestBridge(t, nil)

	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	alice := &types.Identity{User: "Alice", Handle: "alice"}
	if err := durable.SaveIdentity(ctx, alice); err != nil {
		t.Fatalf("seed durable: %v", err)
	}
	if err := mirror.SaveIdentity(ctx, alice); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	// Mirror loses its identity: logout.
	if err := mirror.SaveIdentity(ctx, nil); err != nil {
		t.Fatalf("clear mirror identity: %v", err)
	}
	if err := b.Pass(ctx); err != nil {
		t.Fatalf("logout pass: %v", err)
	}
	got, err := durable.LoadIdentity(ctx)
	if err != nil {
		t.Fatalf("load durable identity: %v", err)
	}
	if got != nil {
		t.Fatalf("durable identity = %+v after logout, want nil", got)
	}

	// A stale mirror read showing the old identity inside the debounce
	// window must not resurrect it.
	if err := mirror.SaveIdentity(ctx, alice); err != nil {
		t.Fatalf("reseed mirror: %v", err)
	}
	clock = clock.Add(2 * time.Second)
	if err := b.Pass(ctx); err != nil {
		t.Fatalf("debounced pass: %v", err)
	}
	if got, _ := durable.LoadIdentity(ctx); got != nil {
		t.Fatalf("durable identity = %+v inside debounce window, want nil", got)
	}

	// Past the window the mirror identity is a genuine re-login.
	clock = clock.Add(10 * time.Second)
	if err := b.Pass(ctx); err != nil {
		t.Fatalf("relogin pass: %v", err)
	}
	got, _ = durable.LoadIdentity(ctx)
	if got == nil || got.Handle != "alice" {
		t.Fatalf("durable identity = %+v after debounce, want alice", got)
	}
}

func TestResultsPushToMirror(t *testing.T) {
	ctx := context.Background()
	b, durable, mirror := newTestBridge(t, nil)

	res := &types.FinalResult{Current: types.PeriodStats{ItemCount: 3}}
	if err := durable.SaveResults(ctx, res); err != nil {
		t.Fatalf("seed durable results: %v", err)
	}

	if err := b.Pass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	got, err := mirror.LoadResults(ctx)
	if err != nil {
		t.Fatalf("load mirror results: %v", err)
	}
	if got.Current.ItemCount != 3 {
		t.Errorf("mirror results = %+v, want 3 items", got.Current)
	}

	// Mirror is now at least as fresh; no rewrite on the next pass.
	writes := b.metrics.SyncWrites.Load()
	if err := b.Pass(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if b.metrics.SyncWrites.Load() != writes {
		t.Error("results rewritten despite fresh mirror")
	}
}

func TestInvalidChannelShortCircuits(t *testing.T) {
	ctx := context.Background()
	b, _, mirror := newTestBridge(t, func() bool { return false })

	if err := mirror.SaveIdentity(ctx, &types.Identity{Handle: "alice"}); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := b.Pass(ctx); !errors.Is(err, types.ErrChannelInvalid) {
			t.Fatalf("pass %d err = %v, want ErrChannelInvalid", i, err)
		}
	}
	if passes := b.metrics.SyncPasses.Load(); passes != 0 {
		t.Errorf("sync passes = %d, want 0 when channel invalid", passes)
	}
}

func TestTriggerNeverBlocks(t *testing.T) {
	b, _, _ := newTestBridge(t, nil)
	for i := 0; i < 10; i++ {
		b.Trigger()
	}
}
