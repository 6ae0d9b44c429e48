// Package browser owns the Chromium session the scrape runs inside.
package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/feedwrap/feedwrap/internal/config"
)

// Session is a connected browser with one active page. The scrape pipeline is
// single-tab: all navigation and collection happens on this page.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	cfg     config.BrowserConfig
	logger  *slog.Logger
}

// NewSession launches Chromium and opens the working page.
func NewSession(cfg config.BrowserConfig, logger *slog.Logger) (*Session, error) {
	s := &Session{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
	}

	launchURL, err := s.launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser

	if cfg.Stealth {
		s.page, err = stealth.Page(browser)
	} else {
		s.page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	s.logger.Info("browser session ready",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
		"user_data_dir", cfg.UserDataDir,
	)
	return s, nil
}

// launch starts a Chromium instance with appropriate flags.
func (s *Session) launch() (string, error) {
	l := launcher.New().
		Headless(s.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if s.cfg.UserDataDir != "" {
		l = l.UserDataDir(s.cfg.UserDataDir)
	}
	if s.cfg.WindowSize != "" {
		l = l.Set("window-size", s.cfg.WindowSize)
	}

	return l.Launch()
}

// Page returns the session's working page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Navigate moves the working page to url and waits for it to settle.
func (s *Session) Navigate(url string) error {
	if err := s.page.Timeout(s.cfg.NavTimeout).Navigate(url); err != nil {
		return err
	}
	if err := s.page.Timeout(s.cfg.NavTimeout).WaitStable(300 * time.Millisecond); err != nil {
		s.logger.Warn("page stability timeout, continuing", "url", url, "error", err)
	}
	return nil
}

// CurrentURL returns the page's current location ("" when unavailable).
func (s *Session) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// HTML returns the full serialized page markup.
func (s *Session) HTML() (string, error) {
	return s.page.HTML()
}

// Close shuts down the browser.
func (s *Session) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}
