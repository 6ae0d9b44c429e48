// Package run drives the persisted scrape workflow: COLLECT_PRIMARY ->
// COLLECT_SECONDARY -> COMPLETED. Every phase checkpoints through the state
// store before moving on, and (re)initialization always dispatches off the
// persisted step — process start and resume are the same code path.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedwrap/feedwrap/internal/aggregate"
	"github.com/feedwrap/feedwrap/internal/collect"
	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/extract"
	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/state"
	"github.com/feedwrap/feedwrap/internal/types"
)

const (
	selectorProfileLink = `a[data-testid="AppTabBar_Profile_Link"]`
	selectorEditProfile = `[data-testid="editProfileButton"]`

	repliesPath = "/with_replies"
)

// Collector runs one scroll-and-collect pass over the current view.
type Collector interface {
	Collect(ctx context.Context, kind collect.Kind, fn collect.ExtractFunc) (*collect.Harvest, error)
}

// Pager is the navigation and read surface of the browser session.
type Pager interface {
	Navigate(url string) error
	CurrentURL() string
	HTML() (string, error)
}

// Confirmer asks the operator to confirm identity ownership when the page
// does not prove it. A nil Confirmer declines.
type Confirmer interface {
	Confirm(prompt string) bool
}

// AvatarEncoder re-encodes a remote image as a data URI.
type AvatarEncoder interface {
	DataURI(ctx context.Context, url string) (string, error)
}

// Runner owns one scrape workflow against one browser session.
type Runner struct {
	store     state.Store
	page      Pager
	collector Collector
	avatar    AvatarEncoder
	confirm   Confirmer
	cfg       config.ScrapeConfig
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	listeners []func(*types.FinalResult)
}

// New creates a Runner. avatar and confirm may be nil: avatar falls back to
// raw URLs and a nil confirm declines ownership prompts.
func New(store state.Store, page Pager, collector Collector, avatar AvatarEncoder, confirm Confirmer,
	cfg config.ScrapeConfig, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		page:      page,
		collector: collector,
		avatar:    avatar,
		confirm:   confirm,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With("component", "runner"),
		now:       time.Now,
	}
}

// OnComplete registers a listener for the completion notification.
func (r *Runner) OnComplete(fn func(*types.FinalResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Start begins a fresh run against handle. An empty handle is auto-detected
// from the active session's own-profile link. Any prior state is overwritten;
// stale data is never merged.
func (r *Runner) Start(ctx context.Context, handle string) error {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		detected, err := r.detectHandle()
		if err != nil {
			return err
		}
		handle = detected
		r.logger.Info("auto-detected target identity", "handle", handle)

		// The detected handle is the logged-in session's own identity;
		// record it for mirror reconciliation.
		if err := r.store.SaveIdentity(ctx, &types.Identity{Handle: handle}); err != nil {
			r.logger.Warn("persist identity failed", "error", err)
		}
	}

	st := types.NewScrapeState(handle, r.cfg.YearWindow(r.now()))
	if err := r.store.SaveState(ctx, st); err != nil {
		return err
	}
	r.metrics.RunsStarted.Add(1)
	r.logger.Info("scrape run started", "handle", handle, "years", st.YearWindow)

	return r.Resume(ctx)
}

// Resume reads the persisted state and dispatches to the handler matching its
// step, looping until the run completes or aborts. This is the only
// resumption mechanism: after any interruption, calling Resume continues the
// workflow from the last checkpoint.
func (r *Runner) Resume(ctx context.Context) error {
	for {
		st, err := r.store.LoadState(ctx)
		if err != nil {
			return err
		}
		if !st.Active {
			r.logger.Info("no active run")
			return nil
		}

		switch st.Step {
		case types.StepCollectPrimary:
			err = r.collectPrimary(ctx, st)
		case types.StepCollectSecondary:
			err = r.collectSecondary(ctx, st)
		case types.StepCompleted:
			// Active completed state should not persist; normalize it.
			st.Active = false
			return r.store.SaveState(ctx, st)
		default:
			return fmt.Errorf("unknown scrape step %q", st.Step)
		}
		if err != nil {
			return err
		}

		// Aborts (e.g. declined ownership) deactivate the run in-handler;
		// the next loop pass observes that and stops.
	}
}

// collectPrimary handles the COLLECT_PRIMARY step: verify the view and the
// operator's ownership, capture profile metadata once, collect primary items,
// partition them by year, then advance to COLLECT_SECONDARY.
func (r *Runner) collectPrimary(ctx context.Context, st *types.ScrapeState) error {
	profileURL := r.cfg.BaseURL + "/" + st.TargetIdentity
	if !urlMatchesHandle(r.page.CurrentURL(), st.TargetIdentity) {
		if err := r.navigate(ctx, profileURL); err != nil {
			return err
		}
	}

	html, err := r.page.HTML()
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}

	if doc.Find(selectorEditProfile).Length() == 0 {
		// No edit-own-profile affordance: the page cannot prove the operator
		// owns this profile, so ask before scraping it.
		prompt := fmt.Sprintf("Are you logged in as @%s?", st.TargetIdentity)
		if r.confirm == nil || !r.confirm.Confirm(prompt) {
			st.Active = false
			if err := r.store.SaveState(ctx, st); err != nil {
				return err
			}
			r.metrics.RunsAborted.Add(1)
			r.logger.Info("run aborted by operator", "handle", st.TargetIdentity)
			return types.ErrDeclined
		}
	}

	st.Collected.Profile = r.collectProfileMeta(ctx, html)

	extractor := extract.New(st.TargetIdentity, st.YearWindow, r.logger)
	harvest, err := r.collector.Collect(ctx, collect.KindPrimary, extractor.Extract)
	if err != nil {
		return err
	}

	currentYear := maxYear(st.YearWindow)
	for _, rec := range harvest.Items {
		if rec.Year == currentYear {
			st.Collected.PrimaryCurrent = append(st.Collected.PrimaryCurrent, rec)
		} else {
			st.Collected.PrimaryPrevious = append(st.Collected.PrimaryPrevious, rec)
		}
	}

	st.Step = types.StepCollectSecondary
	if err := r.store.SaveState(ctx, st); err != nil {
		return err
	}
	r.logger.Info("primary collection done",
		"current", len(st.Collected.PrimaryCurrent),
		"previous", len(st.Collected.PrimaryPrevious),
		"stop_reason", harvest.Reason,
	)

	return r.navigate(ctx, profileURL+repliesPath)
}

// collectSecondary handles the COLLECT_SECONDARY step: collect reply year
// counts, aggregate both periods, persist the final result, and complete.
func (r *Runner) collectSecondary(ctx context.Context, st *types.ScrapeState) error {
	repliesURL := r.cfg.BaseURL + "/" + st.TargetIdentity + repliesPath
	if !strings.Contains(r.page.CurrentURL(), repliesPath) {
		if err := r.navigate(ctx, repliesURL); err != nil {
			return err
		}
	}

	extractor := extract.New(st.TargetIdentity, st.YearWindow, r.logger)
	harvest, err := r.collector.Collect(ctx, collect.KindSecondary, extractor.ExtractReply)
	if err != nil {
		return err
	}
	st.Collected.SecondaryCount = harvest.Count

	currentYear := maxYear(st.YearWindow)
	currentReplies, previousReplies := 0, 0
	for _, rec := range harvest.Items {
		if rec.Year == currentYear {
			currentReplies++
		} else {
			previousReplies++
		}
	}

	opts := aggregate.Options{
		ViewsPerInteraction: r.cfg.ViewsPerInteraction,
		ViewsPerItem:        r.cfg.ViewsPerItem,
	}
	final := &types.FinalResult{
		Profile:      st.Collected.Profile,
		Current:      aggregate.Aggregate(st.Collected.PrimaryCurrent, currentReplies, opts),
		Previous:     aggregate.Aggregate(st.Collected.PrimaryPrevious, previousReplies, opts),
		CurrentItems: st.Collected.PrimaryCurrent,
		CompletedAt:  r.now().UTC(),
	}

	if err := r.store.SaveResults(ctx, final); err != nil {
		return err
	}
	st.Step = types.StepCompleted
	st.Active = false
	if err := r.store.SaveState(ctx, st); err != nil {
		return err
	}

	r.metrics.RunsCompleted.Add(1)
	r.logger.Info("scrape run completed",
		"handle", st.TargetIdentity,
		"current_items", final.Current.ItemCount,
		"previous_items", final.Previous.ItemCount,
		"replies", st.Collected.SecondaryCount,
	)
	r.notify(final)
	return nil
}

// navigate moves the page and waits for it to stabilize before collection.
func (r *Runner) navigate(ctx context.Context, url string) error {
	if err := r.page.Navigate(url); err != nil {
		return &types.NavigationError{URL: url, Err: err}
	}
	return r.pause(ctx, r.cfg.StabilizeWait)
}

// detectHandle finds the operator's own handle via the sidebar profile link.
func (r *Runner) detectHandle() (string, error) {
	html, err := r.page.HTML()
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	href, ok := doc.Find(selectorProfileLink).First().Attr("href")
	if !ok || strings.TrimPrefix(href, "/") == "" {
		return "", types.ErrNoIdentity
	}
	return strings.TrimPrefix(href, "/"), nil
}

// collectProfileMeta captures the profile header once per run. Avatar
// re-encoding failure degrades to the raw URL.
func (r *Runner) collectProfileMeta(ctx context.Context, html string) types.ProfileMeta {
	meta, avatarURL := parseProfileHeader(html)
	if avatarURL == "" {
		return meta
	}

	meta.AvatarDataURI = avatarURL
	if r.avatar != nil {
		if uri, err := r.avatar.DataURI(ctx, avatarURL); err == nil {
			meta.AvatarDataURI = uri
		} else {
			r.logger.Warn("avatar re-encode failed, keeping raw URL", "error", err)
		}
	}
	return meta
}

func (r *Runner) notify(final *types.FinalResult) {
	r.mu.Lock()
	listeners := append(([]func(*types.FinalResult))(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(final)
	}
}

func (r *Runner) pause(ctx context.Context, d time.Duration) error {
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

// IsDeclined reports whether err is the operator declining ownership — a
// clean abort, not a failure.
func IsDeclined(err error) bool {
	return errors.Is(err, types.ErrDeclined)
}

func urlMatchesHandle(url, handle string) bool {
	return strings.Contains(strings.ToLower(url), strings.ToLower(handle))
}

func maxYear(years []int) int {
	max := 0
	for _, y := range years {
		if y > max {
			max = y
		}
	}
	return max
}
