// Package aggregate reduces a period's collected records into comparable
// summary statistics.
package aggregate

import (
	"github.com/feedwrap/feedwrap/internal/types"
)

// Options tunes the engagement-rate estimation used when the platform hides
// real view counts. The multipliers are heuristics carried over from observed
// behavior, not derived quantities, which is why they are configurable.
type Options struct {
	ViewsPerInteraction int
	ViewsPerItem        int
}

// DefaultOptions returns the historical fallback multipliers.
func DefaultOptions() Options {
	return Options{ViewsPerInteraction: 50, ViewsPerItem: 100}
}

// Aggregate reduces one period's records plus its reply count into summary
// statistics. The reported TotalViews is always the real sum; the estimated
// fallback feeds the engagement rate only.
func Aggregate(items []types.Record, replyCount int, opts Options) types.PeriodStats {
	stats := types.PeriodStats{
		ItemCount:  len(items),
		ReplyCount: replyCount,
	}

	var top *types.Record
	for i := range items {
		rec := &items[i]
		stats.TotalLikes += rec.LikeCount
		stats.TotalShares += rec.ShareCount
		stats.TotalViews += rec.ViewCount
		// First maximum wins on ties.
		if top == nil || rec.LikeCount > top.LikeCount {
			top = rec
		}
	}
	if top != nil {
		cp := *top
		stats.TopItem = &cp
	}

	interactions := stats.TotalLikes + stats.TotalShares + replyCount

	effectiveViews := stats.TotalViews
	if effectiveViews == 0 && stats.ItemCount > 0 {
		if interactions > 0 {
			effectiveViews = interactions * opts.ViewsPerInteraction
		} else {
			effectiveViews = stats.ItemCount * opts.ViewsPerItem
		}
	}

	if effectiveViews > 0 {
		stats.EngagementRate = float64(interactions) / float64(effectiveViews) * 100
	}

	return stats
}
