// Package collect drives a lazily-loading feed: it reads rendered items,
// routes them through an extraction function, deduplicates by item id, and
// keeps scrolling until a stopping condition is met.
package collect

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/extract"
	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/types"
)

// Kind selects the collection mode. Primary collection is allowed more
// iterations since its items carry the full metric set.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindSecondary Kind = "secondary"
)

// StopReason records why a collection pass ended. All three are normal,
// non-error terminations.
type StopReason string

const (
	StopBoundary  StopReason = "boundary"
	StopExhausted StopReason = "exhausted"
	StopCeiling   StopReason = "ceiling"
)

// FeedPage is the capability surface the engine needs from a rendered feed.
// The live implementation wraps a browser page; tests script their own.
type FeedPage interface {
	// Items returns the currently rendered feed items, top to bottom.
	Items() ([]*goquery.Selection, error)

	// Height returns the scrollable container height.
	Height() (int, error)

	// ScrollToBottom scrolls to the bottom of the growing container.
	ScrollToBottom() error

	// ScrollBy scrolls vertically by the given offset (negative is up).
	ScrollBy(y int) error
}

// ExtractFunc classifies one rendered feed item.
type ExtractFunc func(*goquery.Selection) extract.Result

// Harvest is the outcome of one collection pass.
type Harvest struct {
	Items  []types.Record
	Count  int
	Reason StopReason
}

// Engine runs the cooperative scroll-and-collect loop against one feed page.
type Engine struct {
	page    FeedPage
	cfg     config.ScrapeConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewEngine creates a collection engine for the given page.
func NewEngine(page FeedPage, cfg config.ScrapeConfig, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		page:    page,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "collect_engine"),
	}
}

// Collect scrolls the feed and gathers records until the chronological
// boundary is crossed, the feed stagnates for too many consecutive cycles, or
// the per-kind iteration ceiling is hit. Whatever was collected before a
// context cancellation is returned alongside the context error.
func (e *Engine) Collect(ctx context.Context, kind Kind, fn ExtractFunc) (*Harvest, error) {
	ceiling := e.cfg.PrimaryCeiling
	if kind == KindSecondary {
		ceiling = e.cfg.SecondaryCeiling
	}

	harvest := &Harvest{Reason: StopCeiling}
	seen := make(map[string]struct{})
	lastHeight := 0
	unproductive := 0

	for iter := 0; iter < ceiling; iter++ {
		items, err := e.page.Items()
		if err != nil {
			return harvest, &types.CollectError{Kind: string(kind), Err: err}
		}

		// Nothing rendered yet: wait and retry. This consumes an iteration
		// but not the unproductive-cycle budget.
		if len(items) == 0 {
			e.metrics.EmptyRetries.Add(1)
			if err := e.pause(ctx, e.cfg.EmptyRetryDelay); err != nil {
				return harvest, err
			}
			continue
		}

		boundary := false
		for _, sel := range items {
			id := extract.ItemID(sel)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}

			res := fn(sel)
			if res.Signal == extract.SignalBoundary {
				// The feed is ordered newest-first; everything below is
				// older still. Stop mid-batch.
				boundary = true
				break
			}

			seen[id] = struct{}{}
			if res.Signal == extract.SignalRecord && res.Record != nil {
				rec := *res.Record
				if rec.ID == "" {
					rec.ID = id
				}
				harvest.Items = append(harvest.Items, rec)
				harvest.Count++
				e.metrics.ItemsCollected.Add(1)
			} else {
				e.metrics.ItemsSkipped.Add(1)
			}
		}

		if boundary {
			harvest.Reason = StopBoundary
			e.metrics.BoundaryStops.Add(1)
			e.logger.Info("boundary reached", "kind", kind, "collected", harvest.Count)
			return harvest, nil
		}

		if err := e.page.ScrollToBottom(); err != nil {
			return harvest, &types.CollectError{Kind: string(kind), Err: err}
		}
		e.metrics.ScrollCycles.Add(1)
		if err := e.pause(ctx, e.cfg.ScrollDelay+e.jitter()); err != nil {
			return harvest, err
		}

		height, err := e.page.Height()
		if err != nil {
			return harvest, &types.CollectError{Kind: string(kind), Err: err}
		}

		if height == lastHeight {
			unproductive++
			e.metrics.StagnantCycles.Add(1)
			if unproductive >= e.cfg.MaxUnproductive {
				harvest.Reason = StopExhausted
				e.logger.Info("feed exhausted", "kind", kind,
					"collected", harvest.Count, "unproductive_cycles", unproductive)
				return harvest, nil
			}
			// Wiggle up and back down to coerce lazy-loading.
			if err := e.page.ScrollBy(-500); err != nil {
				return harvest, &types.CollectError{Kind: string(kind), Err: err}
			}
			if err := e.pause(ctx, e.cfg.WiggleDelay); err != nil {
				return harvest, err
			}
			if err := e.page.ScrollToBottom(); err != nil {
				return harvest, &types.CollectError{Kind: string(kind), Err: err}
			}
		} else {
			unproductive = 0
		}
		lastHeight = height

		if (iter+1)%10 == 0 {
			e.logger.Debug("collection progress", "kind", kind,
				"iterations", iter+1, "collected", harvest.Count)
		}
	}

	e.logger.Info("iteration ceiling reached", "kind", kind, "collected", harvest.Count)
	return harvest, nil
}

// jitter returns a random addition to the base scroll delay so the pacing
// does not form a fixed-interval pattern.
func (e *Engine) jitter() time.Duration {
	if e.cfg.ScrollJitter <= 0 {
		return 0
	}
	return rand.N(e.cfg.ScrollJitter)
}

// pause sleeps for d unless the context ends first.
func (e *Engine) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
