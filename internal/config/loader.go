package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("FEEDWRAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("feedwrap")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".feedwrap"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)
	v.SetDefault("browser.window_size", cfg.Browser.WindowSize)
	v.SetDefault("browser.nav_timeout", cfg.Browser.NavTimeout)

	v.SetDefault("scrape.base_url", cfg.Scrape.BaseURL)
	v.SetDefault("scrape.scroll_delay", cfg.Scrape.ScrollDelay)
	v.SetDefault("scrape.scroll_jitter", cfg.Scrape.ScrollJitter)
	v.SetDefault("scrape.wiggle_delay", cfg.Scrape.WiggleDelay)
	v.SetDefault("scrape.empty_retry_delay", cfg.Scrape.EmptyRetryDelay)
	v.SetDefault("scrape.stabilize_wait", cfg.Scrape.StabilizeWait)
	v.SetDefault("scrape.max_unproductive", cfg.Scrape.MaxUnproductive)
	v.SetDefault("scrape.primary_ceiling", cfg.Scrape.PrimaryCeiling)
	v.SetDefault("scrape.secondary_ceiling", cfg.Scrape.SecondaryCeiling)
	v.SetDefault("scrape.views_per_interaction", cfg.Scrape.ViewsPerInteraction)
	v.SetDefault("scrape.views_per_item", cfg.Scrape.ViewsPerItem)
	v.SetDefault("scrape.avatar_max_bytes", cfg.Scrape.AvatarMaxBytes)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.mongo_collection", cfg.Storage.MongoCollection)

	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.logout_debounce", cfg.Sync.LogoutDebounce)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
