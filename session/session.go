// Package session maintains the process-wide maps session token: a cookie
// string harvested once through a real browser and shared read-only by every
// lightweight-tier request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/singleflight"
)

// ErrHarvest is fatal for a pipeline run: no lightweight request can succeed
// without a session token.
var ErrHarvest = errors.New("session harvest failed")

const (
	DefaultTTL = 2 * time.Hour

	seedURL        = "https://www.google.com/maps/search/restaurant"
	harvestTimeout = 25000 // ms
	harvestUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type storedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// Manager loads, refreshes and serves the session cookie string. The browser
// harvest is serialized process-wide: concurrent callers finding a stale
// token share one harvest and its result.
type Manager struct {
	path  string
	ttl   time.Duration
	group singleflight.Group
}

func New(path string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Manager{path: path, ttl: ttl}
}

// Cookie returns a fresh cookie header value, harvesting a new session via a
// one-time browser run when the persisted token is stale or missing.
func (m *Manager) Cookie(ctx context.Context) (string, error) {
	if m.fresh() {
		if s, err := m.load(); err == nil && s != "" {
			return s, nil
		}
	}

	v, err, _ := m.group.Do("harvest", func() (any, error) {
		// Re-check inside the flight: a waiter may arrive just after the
		// winner persisted a fresh token.
		if m.fresh() {
			if s, err := m.load(); err == nil && s != "" {
				return s, nil
			}
		}

		return m.harvest(ctx)
	})

	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHarvest, err)
	}

	return v.(string), nil
}

func (m *Manager) fresh() bool {
	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}

	return time.Since(info.ModTime()) < m.ttl
}

func (m *Manager) load() (string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return "", err
	}

	var cookies []storedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return "", err
	}

	return cookieString(cookies), nil
}

// harvest runs a one-time headless browser session. Its own navigation
// timeouts bound it; the surrounding singleflight serializes it.
func (m *Manager) harvest(_ context.Context) (string, error) {
	log.Printf("session: harvesting cookies via browser")

	pw, err := playwright.Run()
	if err != nil {
		return "", fmt.Errorf("starting playwright: %w", err)
	}

	defer func() {
		_ = pw.Stop()
	}()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	})
	if err != nil {
		return "", fmt.Errorf("launching browser: %w", err)
	}

	defer func() {
		_ = browser.Close()
	}()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: 1366, Height: 768},
		Locale:    playwright.String("en-US"),
		UserAgent: playwright.String(harvestUA),
	})
	if err != nil {
		return "", fmt.Errorf("creating browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("opening page: %w", err)
	}

	if _, err = page.Goto(seedURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(harvestTimeout),
	}); err != nil {
		return "", fmt.Errorf("navigating to seed page: %w", err)
	}

	page.WaitForTimeout(2500)

	acceptConsent(page)

	page.WaitForTimeout(1500)

	raw, err := bctx.Cookies()
	if err != nil {
		return "", fmt.Errorf("capturing cookies: %w", err)
	}

	cookies := make([]storedCookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, storedCookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}

	data, err := json.Marshal(cookies)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return "", fmt.Errorf("persisting cookies: %w", err)
	}

	log.Printf("session: harvested %d cookies", len(cookies))

	return cookieString(cookies), nil
}

func acceptConsent(page playwright.Page) {
	btn := page.Locator(`button:has-text("Accept all")`).First()

	if count, err := btn.Count(); err == nil && count > 0 {
		if err := btn.Click(); err == nil {
			page.WaitForTimeout(800)
		}
	}
}

func cookieString(cookies []storedCookie) string {
	var parts []string

	for _, c := range cookies {
		if !strings.Contains(c.Domain, "google") {
			continue
		}

		parts = append(parts, c.Name+"="+c.Value)
	}

	return strings.Join(parts, "; ")
}
