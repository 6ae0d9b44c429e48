// Package state persists the scrape workflow record and the long-lived
// latest-results slot. The persisted state is the only thing that survives a
// full page navigation, so every workflow step checkpoints through a Store.
package state

import (
	"context"
	"time"

	"github.com/feedwrap/feedwrap/internal/types"
)

// Storage keys in the durable store.
const (
	KeyScrapeState   = "scrapingState"
	KeyLatestResults = "latestResults"
	KeyLastSync      = "lastSyncTimestamp"
	KeyIdentity      = "identity"
)

// Store is the interface for durable state backends.
type Store interface {
	// LoadState returns the persisted workflow state, or types.ErrNoState.
	LoadState(ctx context.Context) (*types.ScrapeState, error)

	// SaveState overwrites the persisted workflow state.
	SaveState(ctx context.Context, s *types.ScrapeState) error

	// LoadResults returns the latest-results slot, or types.ErrNoResults.
	LoadResults(ctx context.Context) (*types.FinalResult, error)

	// SaveResults writes the latest-results slot and stamps the sync time.
	SaveResults(ctx context.Context, r *types.FinalResult) error

	// LoadIdentity returns the mirrored identity record (nil when unset).
	LoadIdentity(ctx context.Context) (*types.Identity, error)

	// SaveIdentity overwrites the mirrored identity record.
	SaveIdentity(ctx context.Context, id *types.Identity) error

	// LastSync returns the last results-sync timestamp (zero when unset).
	LastSync(ctx context.Context) (time.Time, error)

	// Clear removes all keys (logout).
	Clear(ctx context.Context) error

	// Ping probes backend health before privileged writes.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error

	// Name returns the backend identifier.
	Name() string
}
