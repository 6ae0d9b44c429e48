// Package syncbridge reconciles identity and results between two state
// domains: the durable store owned by this process and a mirror store
// observed by another surface. Identity flows mirror -> durable (the mirror
// sees login state first), results flow durable -> mirror.
package syncbridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/state"
	"github.com/feedwrap/feedwrap/internal/types"
)

// Probe reports whether the channel to the mirror domain is still usable.
// A nil probe means always valid.
type Probe func() bool

// Bridge runs periodic reconciliation passes between a durable store and a
// mirror store.
type Bridge struct {
	durable state.Store
	mirror  state.Store
	probe   Probe
	cfg     config.SyncConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	trigger chan struct{}

	mu            sync.Mutex
	warnedInvalid bool
	logoutUntil   time.Time
}

// New creates a Bridge between durable and mirror.
func New(durable, mirror state.Store, probe Probe, cfg config.SyncConfig,
	metrics *observability.Metrics, logger *slog.Logger) *Bridge {
	return &Bridge{
		durable: durable,
		mirror:  mirror,
		probe:   probe,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "syncbridge"),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate reconciliation pass outside the regular
// interval, e.g. right after a run completes. Never blocks.
func (b *Bridge) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles on every interval tick and on every Trigger until ctx is
// cancelled or the channel to the mirror becomes invalid.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-b.trigger:
		}

		if err := b.Pass(ctx); err != nil {
			if errors.Is(err, types.ErrChannelInvalid) {
				return err
			}
			b.logger.Warn("sync pass failed", "error", err)
		}
	}
}

// Pass performs one reconciliation pass. Writes only happen when the two
// sides actually differ.
func (b *Bridge) Pass(ctx context.Context) error {
	if b.probe != nil && !b.probe() {
		// The mirror side was torn down (page closed, backend gone). Warn
		// once, then short-circuit every subsequent pass.
		b.mu.Lock()
		warned := b.warnedInvalid
		b.warnedInvalid = true
		b.mu.Unlock()
		if !warned {
			b.logger.Warn("mirror channel invalid, suspending sync")
		}
		return types.ErrChannelInvalid
	}

	b.metrics.SyncPasses.Add(1)

	if err := b.syncIdentity(ctx); err != nil {
		return err
	}
	return b.syncResults(ctx)
}

// syncIdentity propagates login state from the mirror into the durable
// store. A mirror without identity while the durable side has one is a
// logout: both sides are cleared and re-login sync is suppressed briefly so
// a stale mirror read cannot resurrect the cleared identity.
func (b *Bridge) syncIdentity(ctx context.Context) error {
	mirrorID, err := b.mirror.LoadIdentity(ctx)
	if err != nil {
		return err
	}
	durableID, err := b.durable.LoadIdentity(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	suppressed := b.now().Before(b.logoutUntil)
	b.mu.Unlock()

	switch {
	case mirrorID == nil && durableID != nil:
		if err := b.durable.Ping(ctx); err != nil {
			return err
		}
		if err := b.durable.Clear(ctx); err != nil {
			return err
		}
		if err := b.mirror.Clear(ctx); err != nil {
			return err
		}
		b.mu.Lock()
		b.logoutUntil = b.now().Add(b.cfg.LogoutDebounce)
		b.mu.Unlock()
		b.metrics.SyncWrites.Add(1)
		b.logger.Info("logout detected, cleared both domains", "handle", durableID.Handle)

	case mirrorID != nil && !suppressed && !identityEqual(mirrorID, durableID):
		if err := b.durable.Ping(ctx); err != nil {
			return err
		}
		if err := b.durable.SaveIdentity(ctx, mirrorID); err != nil {
			return err
		}
		b.metrics.SyncWrites.Add(1)
		b.logger.Info("identity synced to durable store", "handle", mirrorID.Handle)
	}

	return nil
}

// syncResults pushes the latest results to the mirror when the durable copy
// is newer than the mirror's last sync stamp.
func (b *Bridge) syncResults(ctx context.Context) error {
	durableSync, err := b.durable.LastSync(ctx)
	if err != nil {
		return err
	}
	if durableSync.IsZero() {
		return nil
	}
	mirrorSync, err := b.mirror.LastSync(ctx)
	if err != nil {
		return err
	}
	if !durableSync.After(mirrorSync) {
		return nil
	}

	results, err := b.durable.LoadResults(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNoResults) {
			return nil
		}
		return err
	}
	if err := b.mirror.Ping(ctx); err != nil {
		return err
	}
	if err := b.mirror.SaveResults(ctx, results); err != nil {
		return err
	}
	b.metrics.SyncWrites.Add(1)
	b.logger.Info("results synced to mirror", "completed_at", results.CompletedAt)
	return nil
}

func identityEqual(a, b *types.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.User == b.User && a.Handle == b.Handle
}
