package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig controls the Chrome session behind the live analyzer.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome via launcher.
	RemoteURL string

	// NavigateTimeout bounds page navigation. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// browserManager owns the Chrome connection and a small page cache keyed
// by URL, so repeated validations against the same page reuse one tab.
type browserManager struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	pages   map[string]*rod.Page
	closed  bool
}

func newBrowserManager(cfg BrowserConfig) *browserManager {
	cfg.defaults()
	return &browserManager{cfg: cfg, pages: make(map[string]*rod.Page)}
}

// start launches or connects to Chrome lazily.
func (m *browserManager) start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("analyzer: browser manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
	} else {
		m.lnch = launcher.New().Headless(true)
		u, err := m.lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("analyzer: launch chrome: %w", err)
		}
		wsURL = u
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("analyzer: connect chrome: %w", err)
	}
	m.browser = b
	m.cfg.Logger.Info("analyzer: browser ready", "remote", m.cfg.RemoteURL != "")
	return b, nil
}

// pageFor returns a stealth tab navigated to pageURL, reusing a cached tab
// when one exists.
func (m *browserManager) pageFor(ctx context.Context, pageURL string) (*rod.Page, error) {
	b, err := m.start(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if p, ok := m.pages[pageURL]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("analyzer: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("analyzer: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("analyzer: wait load timeout", "url", pageURL, "error", err)
	}

	m.mu.Lock()
	m.pages[pageURL] = page
	m.mu.Unlock()
	return page, nil
}

// close shuts down all tabs and the browser.
func (m *browserManager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for url, p := range m.pages {
		if err := p.Close(); err != nil {
			m.cfg.Logger.Warn("analyzer: close tab", "url", url, "error", err)
		}
	}
	m.pages = nil

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Warn("analyzer: close browser", "error", err)
		}
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
	}
}
