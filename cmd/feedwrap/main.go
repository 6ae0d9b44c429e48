package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feedwrap/feedwrap/internal/api"
	"github.com/feedwrap/feedwrap/internal/avatar"
	"github.com/feedwrap/feedwrap/internal/browser"
	"github.com/feedwrap/feedwrap/internal/collect"
	"github.com/feedwrap/feedwrap/internal/config"
	"github.com/feedwrap/feedwrap/internal/observability"
	"github.com/feedwrap/feedwrap/internal/run"
	"github.com/feedwrap/feedwrap/internal/state"
	"github.com/feedwrap/feedwrap/internal/syncbridge"
	"github.com/feedwrap/feedwrap/internal/types"
)

var (
	cfgFile  string
	verbose  bool
	headless bool
	years    []int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedwrap",
		Short: "FeedWrap — year-in-review scraper for your own social feed",
		Long: `FeedWrap drives a real browser session over your own profile and builds a
year-over-year engagement summary from what the page actually renders.

Features:
  • Resumable scrape workflow with durable checkpoints
  • Scroll-and-collect with stagnation detection and dedup
  • Year-over-year engagement aggregation with view-count fallback
  • File or MongoDB state backends
  • REST API and Prometheus metrics endpoints`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [handle]",
		Short: "Run a fresh scrape against a profile",
		Long: `Run a fresh scrape against the given handle. With no handle, the target is
auto-detected from the logged-in session. Any prior checkpoint is discarded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := ""
			if len(args) > 0 {
				handle = args[0]
			}
			return runWorkflow(handle, false)
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")
	cmd.Flags().IntSliceVar(&years, "years", nil, "comparison years (default: current and prior)")

	return cmd
}

// resumeCmd creates the "resume" subcommand.
func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted scrape from its last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow("", true)
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")

	return cmd
}

// runWorkflow wires the full pipeline and executes one run (fresh or resumed).
func runWorkflow(handle string, resume bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	logger := setupLogger(cfg.Logging)

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}
	defer store.Close(context.Background())

	session, err := browser.NewSession(cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer session.Close()

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	engine := collect.NewEngine(collect.NewRodFeedPage(session.Page()), cfg.Scrape, metrics, logger)
	encoder := avatar.NewEncoder(cfg.Scrape.AvatarMaxBytes, logger)
	runner := run.New(store, session, engine, encoder, stdinConfirmer{}, cfg.Scrape, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, checkpointing and shutting down...", "signal", sig)
		cancel()
	}()

	if resume {
		err = runner.Resume(ctx)
	} else {
		err = runner.Start(ctx, handle)
	}
	if err != nil {
		if run.IsDeclined(err) {
			fmt.Println("Aborted: ownership not confirmed.")
			return nil
		}
		if ctx.Err() != nil {
			fmt.Println("\nInterrupted. Run `feedwrap resume` to continue from the last checkpoint.")
			return nil
		}
		return err
	}

	res, err := store.LoadResults(ctx)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}
	printSummary(res.Current.ItemCount, res.Previous.ItemCount, res.Current.EngagementRate, res.Previous.EngagementRate)
	return nil
}

// serveCmd creates the "serve" subcommand: API server over a live browser
// session, runs until signalled.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API over a persistent browser session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyCLIOverrides(cfg)
			logger := setupLogger(cfg.Logging)

			store, err := buildStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("create state store: %w", err)
			}
			defer store.Close(context.Background())

			session, err := browser.NewSession(cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("start browser: %w", err)
			}
			defer session.Close()

			metrics := observability.NewMetrics(logger)
			if cfg.Metrics.Enabled {
				if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
					logger.Warn("failed to start metrics server", "error", err)
				}
			}

			engine := collect.NewEngine(collect.NewRodFeedPage(session.Page()), cfg.Scrape, metrics, logger)
			encoder := avatar.NewEncoder(cfg.Scrape.AvatarMaxBytes, logger)
			// No interactive confirmer under serve: unverified ownership aborts.
			runner := run.New(store, session, engine, encoder, nil, cfg.Scrape, metrics, logger)

			// With a file backend plus a configured Mongo URI, mirror state
			// into Mongo so other consumers can read it.
			if cfg.Storage.MongoURI != "" && store.Name() != "mongodb" {
				mirror, err := state.NewMongoStore(cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, cfg.Storage.MongoCollection, logger)
				if err != nil {
					logger.Warn("mirror store unavailable, sync disabled", "error", err)
				} else {
					defer mirror.Close(context.Background())
					bridge := syncbridge.New(store, mirror, nil, cfg.Sync, metrics, logger)
					runner.OnComplete(func(*types.FinalResult) { bridge.Trigger() })

					syncCtx, cancelSync := context.WithCancel(context.Background())
					defer cancelSync()
					go func() {
						if err := bridge.Run(syncCtx); err != nil && !errors.Is(err, context.Canceled) {
							logger.Warn("sync bridge stopped", "error", err)
						}
					}()
				}
			}

			server := api.NewServer(cfg.API.Port, store, metrics, logger)
			server.SetRunner(runner)
			if err := server.Start(); err != nil {
				return fmt.Errorf("start API server: %w", err)
			}

			fmt.Printf("FeedWrap serving on :%d (storage: %s)\n", cfg.API.Port, store.Name())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, shutting down...", "signal", sig)
			return nil
		},
	}
	return cmd
}

// resultsCmd creates the "results" subcommand.
func resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Print the latest scrape results as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := setupLogger(cfg.Logging)

			store, err := buildStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("create state store: %w", err)
			}
			defer store.Close(context.Background())

			res, err := store.LoadResults(context.Background())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// clearCmd creates the "clear" subcommand.
func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all persisted state and results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := setupLogger(cfg.Logging)

			store, err := buildStore(cfg, logger)
			if err != nil {
				return fmt.Errorf("create state store: %w", err)
			}
			defer store.Close(context.Background())

			if err := store.Clear(context.Background()); err != nil {
				return err
			}
			fmt.Println("State cleared.")
			return nil
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Browser:\n")
			fmt.Printf("  Headless:          %v\n", cfg.Browser.Headless)
			fmt.Printf("  Stealth:           %v\n", cfg.Browser.Stealth)
			fmt.Printf("  User Data Dir:     %s\n", cfg.Browser.UserDataDir)
			fmt.Printf("  Nav Timeout:       %s\n", cfg.Browser.NavTimeout)
			fmt.Printf("\nScrape:\n")
			fmt.Printf("  Base URL:          %s\n", cfg.Scrape.BaseURL)
			fmt.Printf("  Scroll Delay:      %s (+%s jitter)\n", cfg.Scrape.ScrollDelay, cfg.Scrape.ScrollJitter)
			fmt.Printf("  Max Unproductive:  %d\n", cfg.Scrape.MaxUnproductive)
			fmt.Printf("  Ceilings:          %d primary / %d secondary\n", cfg.Scrape.PrimaryCeiling, cfg.Scrape.SecondaryCeiling)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:              %s\n", cfg.Storage.Type)
			fmt.Printf("  Path:              %s\n", cfg.Storage.Path)
			fmt.Printf("\nSync:\n")
			fmt.Printf("  Interval:          %s\n", cfg.Sync.Interval)
			fmt.Printf("  Logout Debounce:   %s\n", cfg.Sync.LogoutDebounce)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.API.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.API.Port)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FeedWrap %s\n", config.Version)
		},
	}
}

// buildStore selects the state backend from config.
func buildStore(cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	switch cfg.Storage.Type {
	case "mongodb":
		return state.NewMongoStore(cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, cfg.Storage.MongoCollection, logger)
	case "file", "":
		return state.NewFileStore(cfg.Storage.Path, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// setupLogger creates a structured logger from the logging config. The
// --verbose flag forces debug level regardless of config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if headless {
		cfg.Browser.Headless = true
	}
	if len(years) > 0 {
		cfg.Scrape.Years = years
	}
}

// stdinConfirmer asks the operator a yes/no question on the terminal.
type stdinConfirmer struct{}

func (stdinConfirmer) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printSummary prints the human-readable wrap-up after a successful run.
func printSummary(currentItems, previousItems int, currentRate, previousRate float64) {
	fmt.Printf("\n✅ Scrape complete\n")
	fmt.Printf("   Items:       %d this year, %d last year\n", currentItems, previousItems)
	fmt.Printf("   Engagement:  %.2f%% this year, %.2f%% last year\n", currentRate, previousRate)
	fmt.Println("\nRun `feedwrap results` for the full JSON report.")
}
