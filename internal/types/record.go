package types

import (
	"time"
)

// Record is one authored feed item collected from the target's timeline.
type Record struct {
	// ID is the opaque status identifier from the item's permalink.
	// Records are unique by ID within a single collection run.
	ID string `json:"id" bson:"id"`

	// Text is the item's visible body text (may be empty for media-only items).
	Text string `json:"text" bson:"text"`

	// Timestamp is the item's publish time in RFC 3339 form.
	Timestamp string `json:"timestamp" bson:"timestamp"`

	// Year is derived from Timestamp and selects the comparison bucket.
	Year int `json:"year" bson:"year"`

	LikeCount  int `json:"like_count"  bson:"like_count"`
	ShareCount int `json:"share_count" bson:"share_count"`
	ViewCount  int `json:"view_count"  bson:"view_count"`
}

// ProfileMeta holds one-time profile header data captured at the start of a run.
type ProfileMeta struct {
	JoinedDate  string `json:"joined_date,omitempty"  bson:"joined_date,omitempty"`
	DisplayName string `json:"display_name,omitempty" bson:"display_name,omitempty"`

	// AvatarDataURI is the profile image re-encoded as a data: URI, or the
	// original remote URL when re-encoding failed.
	AvatarDataURI string `json:"avatar_data_uri,omitempty" bson:"avatar_data_uri,omitempty"`
}

// PeriodStats summarizes one year-long bucket of collected items.
type PeriodStats struct {
	ItemCount   int     `json:"item_count"   bson:"item_count"`
	ReplyCount  int     `json:"reply_count"  bson:"reply_count"`
	TotalLikes  int     `json:"total_likes"  bson:"total_likes"`
	TotalShares int     `json:"total_shares" bson:"total_shares"`
	TotalViews  int     `json:"total_views"  bson:"total_views"`

	// EngagementRate is (likes+shares+replies)/effective views, as a percentage.
	// TotalViews above always reports the real sum; only the rate uses the
	// estimated fallback when real views are unavailable.
	EngagementRate float64 `json:"engagement_rate" bson:"engagement_rate"`

	// TopItem is the item with the most likes; first maximum wins on ties.
	TopItem *Record `json:"top_item,omitempty" bson:"top_item,omitempty"`
}

// FinalResult is the long-lived output of a completed run. It survives until
// the next run overwrites it or a logout clears the store.
type FinalResult struct {
	Profile     ProfileMeta `json:"profile"      bson:"profile"`
	Current     PeriodStats `json:"current"      bson:"current"`
	Previous    PeriodStats `json:"previous"     bson:"previous"`
	CurrentItems []Record   `json:"current_items" bson:"current_items"`
	CompletedAt time.Time   `json:"completed_at" bson:"completed_at"`
}

// Identity is the small user record mirrored between storage domains.
type Identity struct {
	User   string `json:"user"   bson:"user"`
	Handle string `json:"handle" bson:"handle"`
}
