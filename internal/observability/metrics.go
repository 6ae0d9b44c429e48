package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for the scrape pipeline.
type Metrics struct {
	// Collection metrics
	ItemsCollected atomic.Int64
	ItemsSkipped   atomic.Int64
	ScrollCycles   atomic.Int64
	StagnantCycles atomic.Int64
	BoundaryStops  atomic.Int64
	EmptyRetries   atomic.Int64

	// Run metrics
	RunsStarted   atomic.Int64
	RunsCompleted atomic.Int64
	RunsAborted   atomic.Int64

	// Sync metrics
	SyncPasses atomic.Int64
	SyncWrites atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"feedwrap_items_collected_total", "Total feed items recorded", m.ItemsCollected.Load()},
		{"feedwrap_items_skipped_total", "Total feed items classified as skip", m.ItemsSkipped.Load()},
		{"feedwrap_scroll_cycles_total", "Total scroll cycles performed", m.ScrollCycles.Load()},
		{"feedwrap_stagnant_cycles_total", "Total unproductive scroll cycles", m.StagnantCycles.Load()},
		{"feedwrap_boundary_stops_total", "Collections ended by chronological boundary", m.BoundaryStops.Load()},
		{"feedwrap_empty_retries_total", "Retries while the feed had no rendered items", m.EmptyRetries.Load()},
		{"feedwrap_runs_started_total", "Scrape runs started", m.RunsStarted.Load()},
		{"feedwrap_runs_completed_total", "Scrape runs completed", m.RunsCompleted.Load()},
		{"feedwrap_runs_aborted_total", "Scrape runs aborted", m.RunsAborted.Load()},
		{"feedwrap_sync_passes_total", "Mirror reconciliation passes", m.SyncPasses.Load()},
		{"feedwrap_sync_writes_total", "Mirror reconciliation writes", m.SyncWrites.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all counters as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"items_collected": m.ItemsCollected.Load(),
		"items_skipped":   m.ItemsSkipped.Load(),
		"scroll_cycles":   m.ScrollCycles.Load(),
		"stagnant_cycles": m.StagnantCycles.Load(),
		"boundary_stops":  m.BoundaryStops.Load(),
		"empty_retries":   m.EmptyRetries.Load(),
		"runs_started":    m.RunsStarted.Load(),
		"runs_completed":  m.RunsCompleted.Load(),
		"runs_aborted":    m.RunsAborted.Load(),
		"sync_passes":     m.SyncPasses.Load(),
		"sync_writes":     m.SyncWrites.Load(),
	}
}
