// Package extract classifies rendered feed items and turns authored ones into
// normalized records. It operates on parsed markup only, so it can run against
// synthetic fixtures as well as live page snapshots.
package extract

import (
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedwrap/feedwrap/internal/metric"
	"github.com/feedwrap/feedwrap/internal/types"
)

// Signal is the tri-state classification of a feed item.
type Signal int

const (
	// SignalSkip marks an item as out of scope; it is remembered but not recorded.
	SignalSkip Signal = iota

	// SignalRecord marks an authored, in-window item carrying a Record.
	SignalRecord

	// SignalBoundary marks the first non-pinned item older than the year
	// window. The feed is ordered newest-first, so everything below it is
	// older too and collection can stop.
	SignalBoundary
)

func (s Signal) String() string {
	switch s {
	case SignalSkip:
		return "skip"
	case SignalRecord:
		return "record"
	case SignalBoundary:
		return "boundary"
	default:
		return "unknown"
	}
}

// Result is the outcome of classifying one feed item.
type Result struct {
	Signal Signal
	Record *types.Record
}

// Extractor classifies feed items for one target identity and year window.
type Extractor struct {
	handle  string
	years   map[int]bool
	minYear int
	logger  *slog.Logger
}

// New creates an Extractor for the given handle and year window.
func New(handle string, years []int, logger *slog.Logger) *Extractor {
	e := &Extractor{
		handle: strings.ToLower(strings.TrimPrefix(handle, "@")),
		years:  make(map[int]bool, len(years)),
		logger: logger.With("component", "extractor"),
	}
	for _, y := range years {
		e.years[y] = true
		if e.minYear == 0 || y < e.minYear {
			e.minYear = y
		}
	}
	return e
}

// Extract classifies a primary feed item and, for authored in-window items,
// returns its normalized record.
func (e *Extractor) Extract(sel *goquery.Selection) Result {
	if e.isReshare(sel) {
		return Result{Signal: SignalSkip}
	}
	if !e.bylineMatches(sel) {
		// Quoted or nested items render their own byline; anything not
		// attributed to the target is not the target's content.
		return Result{Signal: SignalSkip}
	}

	ts, year, ok := itemTime(sel)
	if !ok {
		return Result{Signal: SignalSkip}
	}

	if !e.years[year] {
		return e.outOfWindow(sel, year)
	}

	likes := parseCount(sel.Find(selectorLike).First())
	shares := parseCount(sel.Find(selectorShare).First())
	views := e.viewCount(sel)

	text := strings.TrimSpace(sel.Find(selectorText).First().Text())
	if text == "" && sel.Find(selectorMedia).Length() == 0 {
		// Deleted or placeholder item.
		return Result{Signal: SignalSkip}
	}

	return Result{
		Signal: SignalRecord,
		Record: &types.Record{
			ID:         ItemID(sel),
			Text:       text,
			Timestamp:  ts.Format(time.RFC3339),
			Year:       year,
			LikeCount:  likes,
			ShareCount: shares,
			ViewCount:  views,
		},
	}
}

// ExtractReply classifies a secondary (replies view) item where only
// year-bucket membership matters.
func (e *Extractor) ExtractReply(sel *goquery.Selection) Result {
	ts, year, ok := itemTime(sel)
	if !ok {
		return Result{Signal: SignalSkip}
	}
	if !e.years[year] {
		return e.outOfWindow(sel, year)
	}
	return Result{
		Signal: SignalRecord,
		Record: &types.Record{
			ID:        ItemID(sel),
			Timestamp: ts.Format(time.RFC3339),
			Year:      year,
		},
	}
}

// outOfWindow decides between Skip and Boundary for an out-of-window year.
// Pinned items float to arbitrary positions and must never end the run.
func (e *Extractor) outOfWindow(sel *goquery.Selection, year int) Result {
	if e.isPinned(sel) {
		return Result{Signal: SignalSkip}
	}
	if year < e.minYear {
		return Result{Signal: SignalBoundary}
	}
	return Result{Signal: SignalSkip}
}

func (e *Extractor) isReshare(sel *goquery.Selection) bool {
	ctx := sel.Find(selectorSocialContext).First()
	if ctx.Length() == 0 {
		return false
	}
	text := ctx.Text()
	for _, marker := range reshareMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (e *Extractor) isPinned(sel *goquery.Selection) bool {
	ctx := sel.Find(selectorSocialContext).First()
	return ctx.Length() > 0 && strings.Contains(ctx.Text(), pinnedMarker)
}

// bylineMatches reports whether the item's visible byline links to the target
// profile.
func (e *Extractor) bylineMatches(sel *goquery.Selection) bool {
	matched := false
	sel.Find(selectorByline).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if strings.EqualFold(strings.TrimPrefix(href, "/"), e.handle) {
			matched = true
			return false
		}
		return true
	})
	return matched
}

// viewCount reads the item's view count. The dedicated analytics link is
// authoritative; when absent, fall back to the last numeric group in the
// action row. The fallback is positional and known to be brittle against
// markup reordering.
func (e *Extractor) viewCount(sel *goquery.Selection) int {
	if link := sel.Find(selectorAnalytics).First(); link.Length() > 0 {
		return parseCount(link)
	}
	groups := sel.Find(selectorActionGroup)
	if groups.Length() == 0 {
		return 0
	}
	return parseCount(groups.Last())
}

// itemTime reads the item's timestamp element. Items without one (ads,
// malformed placeholders) are unusable.
func itemTime(sel *goquery.Selection) (time.Time, int, bool) {
	el := sel.Find(selectorTime).First()
	if el.Length() == 0 {
		return time.Time{}, 0, false
	}
	raw, ok := el.Attr("datetime")
	if !ok {
		return time.Time{}, 0, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, 0, false
	}
	return ts, ts.Year(), true
}

// parseCount reads a count from an action element, preferring its accessible
// label over the visible abbreviated text.
func parseCount(sel *goquery.Selection) int {
	if sel.Length() == 0 {
		return 0
	}
	label, _ := sel.Attr("aria-label")
	return metric.ParseLabeled(label, strings.TrimSpace(sel.Text()))
}

// ItemID extracts the opaque status id from the item's permalink, or "" when
// the item carries none.
func ItemID(sel *goquery.Selection) string {
	var id string
	sel.Find(selectorPermalink).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if got := statusID(href); got != "" {
			id = got
			return false
		}
		return true
	})
	return id
}

// statusID pulls the path segment following "/status/" out of a permalink.
func statusID(href string) string {
	const marker = "/status/"
	i := strings.Index(href, marker)
	if i < 0 {
		return ""
	}
	rest := href[i+len(marker):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	if j := strings.IndexByte(rest, '?'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
