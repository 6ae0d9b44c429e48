package collect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/extract"
	"github.com/feedwrap/feedwrap/internal/observability"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// feedStep is one rendered state of the fake feed: the items visible during a
// cycle and the container height reported after the scroll that follows.
type feedStep struct {
	items  []string
	height int
}

// fakeFeed replays a scripted sequence of rendered states. Items and Height
// advance independently because empty-render cycles skip the scroll/height
// phase. The last step repeats once the script runs out.
type fakeFeed struct {
	script      []feedStep
	itemCalls   int
	heightCalls int
}

func (f *fakeFeed) at(i int) feedStep {
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i]
}

func (f *fakeFeed) Items() ([]*goquery.Selection, error) {
	step := f.at(f.itemCalls)
	f.itemCalls++

	var sels []*goquery.Selection
	for _, html := range step.items {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, err
		}
		if item := doc.Find(extract.SelectorItem).First(); item.Length() > 0 {
			sels = append(sels, item)
		}
	}
	return sels, nil
}

func (f *fakeFeed) Height() (int, error) {
	h := f.at(f.heightCalls).height
	f.heightCalls++
	return h, nil
}

func (f *fakeFeed) ScrollToBottom() error { return nil }
func (f *fakeFeed) ScrollBy(y int) error  { return nil }

func feedItem(id string, year int, pinned bool) string {
	ctx := ""
	if pinned {
		ctx = `<div data-testid="socialContext">Pinned</div>`
	}
	return fmt.Sprintf(`<article data-testid="tweet">%s`+
		`<div data-testid="User-Name"><a href="/alice">@alice</a>`+
		`<a href="/alice/status/%s"><time datetime="%d-06-01T00:00:00Z"></time></a></div>`+
		`<div data-testid="tweetText">item %s</div>`+
		`<div role="group"><div data-testid="like" aria-label="2 Likes"><div dir="ltr">2</div></div></div>`+
		`</article>`, ctx, id, year, id)
}

func testScrapeConfig() config.ScrapeConfig {
	cfg := config.DefaultConfig().Scrape
	cfg.ScrollDelay = 0
	cfg.ScrollJitter = 0
	cfg.WiggleDelay = 0
	cfg.EmptyRetryDelay = 0
	cfg.MaxUnproductive = 3
	cfg.PrimaryCeiling = 50
	cfg.SecondaryCeiling = 25
	return cfg
}

func newTestEngine(feed FeedPage, cfg config.ScrapeConfig) *Engine {
	return NewEngine(feed, cfg, observability.NewMetrics(testLogger), testLogger)
}

func extractor() *extract.Extractor {
	return extract.New("alice", []int{2025, 2024}, testLogger)
}

func TestCollectDeduplicatesAcrossBatches(t *testing.T) {
	feed := &fakeFeed{script: []feedStep{
		{items: []string{feedItem("1", 2025, false), feedItem("2", 2025, false)}, height: 100},
		{items: []string{feedItem("1", 2025, false), feedItem("2", 2025, false), feedItem("3", 2025, false)}, height: 200},
		{items: []string{feedItem("1", 2025, false), feedItem("2", 2025, false), feedItem("3", 2025, false)}, height: 200},
	}}
	e := newTestEngine(feed, testScrapeConfig())

	h, err := e.Collect(context.Background(), KindPrimary, extractor().Extract)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if h.Count != 3 {
		t.Fatalf("count = %d, want 3 unique records", h.Count)
	}
	ids := make(map[string]bool)
	for _, rec := range h.Items {
		if ids[rec.ID] {
			t.Errorf("duplicate id %q in harvest", rec.ID)
		}
		ids[rec.ID] = true
	}
}

func TestCollectStopsAtBoundary(t *testing.T) {
	// Newest-first feed with a trailing pinned in-window item after the
	// boundary. Collection must stop before reaching it.
	feed := &fakeFeed{script: []feedStep{
		{items: []string{
			feedItem("a", 2025, false),
			feedItem("b", 2025, false),
			feedItem("c", 2024, false),
			feedItem("d", 2023, false),
			feedItem("e", 2025, true),
		}, height: 100},
	}}
	e := newTestEngine(feed, testScrapeConfig())

	h, err := e.Collect(context.Background(), KindPrimary, extractor().Extract)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if h.Reason != StopBoundary {
		t.Errorf("reason = %s, want boundary", h.Reason)
	}
	if h.Count != 3 {
		t.Fatalf("count = %d, want 3 (2025/2024 items before the 2023 boundary)", h.Count)
	}
	for _, rec := range h.Items {
		if rec.ID == "d" || rec.ID == "e" {
			t.Errorf("item %q collected after boundary", rec.ID)
		}
	}
}

func TestCollectTerminatesOnStagnation(t *testing.T) {
	feed := &fakeFeed{script: []feedStep{
		{items: []string{feedItem("1", 2025, false)}, height: 100},
	}}
	cfg := testScrapeConfig()
	e := newTestEngine(feed, cfg)

	h, err := e.Collect(context.Background(), KindPrimary, extractor().Extract)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if h.Reason != StopExhausted {
		t.Errorf("reason = %s, want exhausted", h.Reason)
	}
	if h.Count != 1 {
		t.Errorf("count = %d, want 1", h.Count)
	}
	// One productive first cycle, then the unproductive budget.
	if feed.heightCalls > cfg.MaxUnproductive+1 {
		t.Errorf("ran %d cycles, want at most %d", feed.heightCalls, cfg.MaxUnproductive+1)
	}
}

func TestCollectHonorsIterationCeiling(t *testing.T) {
	// Height grows forever; only the ceiling can stop the run.
	script := make([]feedStep, 10)
	for i := range script {
		script[i] = feedStep{items: []string{feedItem("1", 2025, false)}, height: 100 * (i + 1)}
	}
	feed := &fakeFeed{script: script}
	cfg := testScrapeConfig()
	cfg.SecondaryCeiling = 4
	e := newTestEngine(feed, cfg)

	h, err := e.Collect(context.Background(), KindSecondary, extractor().Extract)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if h.Reason != StopCeiling {
		t.Errorf("reason = %s, want ceiling", h.Reason)
	}
	if feed.itemCalls != 4 {
		t.Errorf("ran %d cycles, want exactly the ceiling of 4", feed.itemCalls)
	}
}

func TestCollectRetriesEmptyRender(t *testing.T) {
	// The first two cycles render nothing; they consume iterations but not
	// the unproductive budget, and never reach the scroll/height phase.
	feed := &fakeFeed{script: []feedStep{
		{items: nil, height: 100},
		{items: nil, height: 100},
		{items: []string{feedItem("1", 2025, false)}, height: 100},
	}}
	cfg := testScrapeConfig()
	e := newTestEngine(feed, cfg)

	h, err := e.Collect(context.Background(), KindPrimary, extractor().Extract)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if h.Count != 1 {
		t.Errorf("count = %d, want 1 after empty retries", h.Count)
	}
	if h.Reason != StopExhausted {
		t.Errorf("reason = %s, want exhausted", h.Reason)
	}
}
