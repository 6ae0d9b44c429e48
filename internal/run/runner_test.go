package run

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/feedwrap/feedwrap/internal/collect"
	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/state"
	"github.com/feedwrap/feedwrap/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const ownProfileHTML = `<html><body>
<a data-testid="AppTabBar_Profile_Link" href="/alice">Profile</a>
<div data-testid="UserName"><span>Alice</span></div>
<div data-testid="UserProfileHeader_Items"><span>Joined March 2020</span></div>
<a href="/alice/photo"><img src="https://pbs.example/profile_images/alice.jpg"></a>
<div data-testid="editProfileButton">Edit profile</div>
</body></html>`

const foreignProfileHTML = `<html><body>
<div data-testid="UserName"><span>Someone</span></div>
</body></html>`

type fakePager struct {
	currentURL string
	html       string
	navLog     []string
}

func (p *fakePager) Navigate(url string) error {
	p.currentURL = url
	p.navLog = append(p.navLog, url)
	return nil
}
func (p *fakePager) CurrentURL() string    { return p.currentURL }
func (p *fakePager) HTML() (string, error) { return p.html, nil }

type fakeCollector struct {
	primary   *collect.Harvest
	secondary *collect.Harvest
	calls     []collect.Kind
}

func (c *fakeCollector) Collect(ctx context.Context, kind collect.Kind, fn collect.ExtractFunc) (*collect.Harvest, error) {
	c.calls = append(c.calls, kind)
	if kind == collect.KindPrimary {
		return c.primary, nil
	}
	return c.secondary, nil
}

type confirmFunc func(string) bool

func (f confirmFunc) Confirm(prompt string) bool { return f(prompt) }

func testRunConfig() config.ScrapeConfig {
	cfg := config.DefaultConfig().Scrape
	cfg.StabilizeWait = 0
	cfg.Years = []int{2025, 2024}
	return cfg
}

func newTestRunner(t *testing.T, page Pager, c Collector, confirm Confirmer) (*Runner, state.Store) {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), testLogger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	r := New(store, page, c, nil, confirm, testRunConfig(), observability.NewMetrics(testLogger), testLogger)
	return r, store
}

func TestStartRunsFullWorkflow(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: ownProfileHTML}
	coll := &fakeCollector{
		primary: &collect.Harvest{
			Items: []types.Record{
				{ID: "1", Year: 2025, LikeCount: 10},
				{ID: "2", Year: 2025, LikeCount: 5},
				{ID: "3", Year: 2024, LikeCount: 7},
			},
			Count:  3,
			Reason: collect.StopBoundary,
		},
		secondary: &collect.Harvest{
			Items:  []types.Record{{ID: "r1", Year: 2025}, {ID: "r2", Year: 2025}, {ID: "r3", Year: 2024}},
			Count:  3,
			Reason: collect.StopExhausted,
		},
	}
	r, store := newTestRunner(t, page, coll, nil)

	var notified *types.FinalResult
	r.OnComplete(func(res *types.FinalResult) { notified = res })

	if err := r.Start(ctx, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}

	st, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Step != types.StepCompleted || st.Active {
		t.Errorf("final state = %+v, want inactive COMPLETED", st)
	}
	if len(st.Collected.PrimaryCurrent) != 2 || len(st.Collected.PrimaryPrevious) != 1 {
		t.Errorf("partition = %d current / %d previous, want 2/1",
			len(st.Collected.PrimaryCurrent), len(st.Collected.PrimaryPrevious))
	}

	res, err := store.LoadResults(ctx)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if res.Current.ItemCount != 2 || res.Current.ReplyCount != 2 {
		t.Errorf("current stats = %+v, want 2 items / 2 replies", res.Current)
	}
	if res.Previous.ItemCount != 1 || res.Previous.ReplyCount != 1 {
		t.Errorf("previous stats = %+v, want 1 item / 1 reply", res.Previous)
	}
	if res.Current.TopItem == nil || res.Current.TopItem.ID != "1" {
		t.Errorf("top item = %+v, want id 1", res.Current.TopItem)
	}
	if res.Profile.JoinedDate != "March 2020" {
		t.Errorf("joined date = %q, want %q", res.Profile.JoinedDate, "March 2020")
	}
	if res.Profile.AvatarDataURI != "https://pbs.example/profile_images/alice.jpg" {
		t.Errorf("avatar = %q, want raw URL fallback without encoder", res.Profile.AvatarDataURI)
	}

	if notified == nil {
		t.Error("completion listener not notified")
	}
	if len(page.navLog) != 2 ||
		page.navLog[0] != "https://x.com/alice" ||
		page.navLog[1] != "https://x.com/alice/with_replies" {
		t.Errorf("nav log = %v", page.navLog)
	}
}

func TestStartResetsPriorCompletedState(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: ownProfileHTML}
	coll := &fakeCollector{
		primary:   &collect.Harvest{},
		secondary: &collect.Harvest{},
	}
	r, store := newTestRunner(t, page, coll, nil)

	stale := types.NewScrapeState("alice", []int{2025, 2024})
	stale.Step = types.StepCompleted
	stale.Active = false
	stale.Collected.PrimaryCurrent = []types.Record{{ID: "stale", Year: 2025}}
	stale.Collected.SecondaryCount = 99
	if err := store.SaveState(ctx, stale); err != nil {
		t.Fatalf("seed stale state: %v", err)
	}

	if err := r.Start(ctx, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}

	st, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(st.Collected.PrimaryCurrent) != 0 || st.Collected.SecondaryCount != 0 {
		t.Errorf("collected = %+v, want fresh state with no merge of stale data", st.Collected)
	}
}

func TestResumeDispatchesToSecondary(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: ownProfileHTML, currentURL: "https://x.com/alice/with_replies"}
	coll := &fakeCollector{
		secondary: &collect.Harvest{Items: []types.Record{{ID: "r1", Year: 2025}}, Count: 1},
	}
	r, store := newTestRunner(t, page, coll, nil)

	st := types.NewScrapeState("alice", []int{2025, 2024})
	st.Step = types.StepCollectSecondary
	st.Collected.PrimaryCurrent = []types.Record{{ID: "1", Year: 2025, LikeCount: 4}}
	if err := store.SaveState(ctx, st); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if err := r.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}

	for _, kind := range coll.calls {
		if kind == collect.KindPrimary {
			t.Fatal("primary collection re-ran on resume into COLLECT_SECONDARY")
		}
	}
	res, err := store.LoadResults(ctx)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if res.Current.ItemCount != 1 {
		t.Errorf("current items = %d, want 1 from checkpointed primary bucket", res.Current.ItemCount)
	}
	if len(page.navLog) != 0 {
		t.Errorf("nav log = %v, want none (already on replies view)", page.navLog)
	}
}

func TestDeclinedOwnershipAborts(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: foreignProfileHTML}
	coll := &fakeCollector{}
	decline := confirmFunc(func(string) bool { return false })
	r, store := newTestRunner(t, page, coll, decline)

	// Prior results must survive a declined run.
	prior := &types.FinalResult{Current: types.PeriodStats{ItemCount: 7}}
	if err := store.SaveResults(ctx, prior); err != nil {
		t.Fatalf("seed results: %v", err)
	}

	err := r.Start(ctx, "alice")
	if !errors.Is(err, types.ErrDeclined) {
		t.Fatalf("start err = %v, want ErrDeclined", err)
	}

	st, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Active {
		t.Error("state still active after decline")
	}
	if len(coll.calls) != 0 {
		t.Errorf("collector ran %v despite decline", coll.calls)
	}

	res, err := store.LoadResults(ctx)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if res.Current.ItemCount != 7 {
		t.Errorf("prior results lost after decline: %+v", res)
	}
}

func TestMissingEditAffordanceConfirmedProceeds(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: foreignProfileHTML}
	coll := &fakeCollector{primary: &collect.Harvest{}, secondary: &collect.Harvest{}}
	accept := confirmFunc(func(string) bool { return true })
	r, store := newTestRunner(t, page, coll, accept)

	if err := r.Start(ctx, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Step != types.StepCompleted {
		t.Errorf("step = %s, want COMPLETED", st.Step)
	}
}

func TestStartAutoDetectsHandle(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: ownProfileHTML}
	coll := &fakeCollector{primary: &collect.Harvest{}, secondary: &collect.Harvest{}}
	r, store := newTestRunner(t, page, coll, nil)

	if err := r.Start(ctx, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.TargetIdentity != "alice" {
		t.Errorf("target = %q, want auto-detected alice", st.TargetIdentity)
	}
}

func TestStartAutoDetectFailure(t *testing.T) {
	ctx := context.Background()
	page := &fakePager{html: foreignProfileHTML}
	r, _ := newTestRunner(t, page, &fakeCollector{}, nil)

	if err := r.Start(ctx, ""); !errors.Is(err, types.ErrNoIdentity) {
		t.Fatalf("start err = %v, want ErrNoIdentity", err)
	}
}
