package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for FeedWrap.
type Config struct {
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"  yaml:"scrape"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"    yaml:"sync"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// BrowserConfig controls the Chromium session.
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless"     yaml:"headless"`
	Stealth     bool          `mapstructure:"stealth"      yaml:"stealth"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	WindowSize  string        `mapstructure:"window_size"  yaml:"window_size"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"  yaml:"nav_timeout"`
}

// ScrapeConfig controls the collection pipeline.
type ScrapeConfig struct {
	BaseURL          string        `mapstructure:"base_url"          yaml:"base_url"`
	ScrollDelay      time.Duration `mapstructure:"scroll_delay"      yaml:"scroll_delay"`
	ScrollJitter     time.Duration `mapstructure:"scroll_jitter"     yaml:"scroll_jitter"`
	WiggleDelay      time.Duration `mapstructure:"wiggle_delay"      yaml:"wiggle_delay"`
	EmptyRetryDelay  time.Duration `mapstructure:"empty_retry_delay" yaml:"empty_retry_delay"`
	StabilizeWait    time.Duration `mapstructure:"stabilize_wait"    yaml:"stabilize_wait"`
	MaxUnproductive  int           `mapstructure:"max_unproductive"  yaml:"max_unproductive"`
	PrimaryCeiling   int           `mapstructure:"primary_ceiling"   yaml:"primary_ceiling"`
	SecondaryCeiling int           `mapstructure:"secondary_ceiling" yaml:"secondary_ceiling"`

	// Years overrides the comparison window; empty means the current and
	// prior calendar year at run start.
	Years []int `mapstructure:"years" yaml:"years"`

	// Engagement-rate estimation fallback multipliers, used only when the
	// platform hides real view counts.
	ViewsPerInteraction int `mapstructure:"views_per_interaction" yaml:"views_per_interaction"`
	ViewsPerItem        int `mapstructure:"views_per_item"        yaml:"views_per_item"`

	AvatarMaxBytes int64 `mapstructure:"avatar_max_bytes" yaml:"avatar_max_bytes"`
}

// StorageConfig selects and configures the durable state backend.
type StorageConfig struct {
	Type            string `mapstructure:"type"             yaml:"type"` // file, mongodb
	Path            string `mapstructure:"path"             yaml:"path"`
	MongoURI        string `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
}

// SyncConfig controls the cross-domain mirror reconciler.
type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval"        yaml:"interval"`
	LogoutDebounce time.Duration `mapstructure:"logout_debounce" yaml:"logout_debounce"`
}

// APIConfig controls the control/status HTTP server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port"    yaml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:   false,
			Stealth:    true,
			WindowSize: "1280,900",
			NavTimeout: 30 * time.Second,
		},
		Scrape: ScrapeConfig{
			BaseURL:             "https://x.com",
			ScrollDelay:         1500 * time.Millisecond,
			ScrollJitter:        1 * time.Second,
			WiggleDelay:         800 * time.Millisecond,
			EmptyRetryDelay:     1500 * time.Millisecond,
			StabilizeWait:       3 * time.Second,
			MaxUnproductive:     8,
			PrimaryCeiling:      400,
			SecondaryCeiling:    200,
			ViewsPerInteraction: 50,
			ViewsPerItem:        100,
			AvatarMaxBytes:      2 * 1024 * 1024,
		},
		Storage: StorageConfig{
			Type:            "file",
			Path:            "./feedwrap-state.json",
			MongoDatabase:   "feedwrap",
			MongoCollection: "state",
		},
		Sync: SyncConfig{
			Interval:       2 * time.Second,
			LogoutDebounce: 5 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8750,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// YearWindow resolves the comparison window, defaulting to the current and
// prior calendar year.
func (c *ScrapeConfig) YearWindow(now time.Time) []int {
	if len(c.Years) > 0 {
		return append([]int(nil), c.Years...)
	}
	return []int{now.Year(), now.Year() - 1}
}
