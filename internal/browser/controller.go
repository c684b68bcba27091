package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// blankURLs are new-tab placeholders never worth claiming in reuse mode.
var blankURLs = map[string]bool{
	"":                       true,
	"about:blank":            true,
	"chrome://newtab/":       true,
	"chrome://new-tab-page/": true,
	"edge://newtab/":         true,
}

// Config configures the Chrome controller.
type Config struct {
	// Mode selects cdp attach or direct launch. Defaults to launch.
	Mode Mode

	// CDPURL is the debugger endpoint for cdp mode.
	CDPURL string

	// CDPTimeout bounds the attach attempt. Defaults to 10s.
	CDPTimeout time.Duration

	// CDPFallbackToLaunch switches to launch mode when attach fails and an
	// executable path is known.
	CDPFallbackToLaunch bool

	// CDPReuseExistingPage claims an unclaimed non-blank page instead of
	// opening a new one.
	CDPReuseExistingPage bool

	// ExecutablePath is the browser binary for launch mode; empty uses the
	// playwright-managed build.
	ExecutablePath string

	// Headless applies to launch mode. Defaults to true.
	Headless *bool

	// MaxSessions caps concurrent sessions; the least-recently-updated
	// session is evicted at capacity. Defaults to 4.
	MaxSessions int

	// Logger for controller events.
	Logger *slog.Logger

	// Emit publishes browser events to the shared bus; optional.
	Emit func(eventType string, payload map[string]any)
}

// session is one claimed page plus its CDP debug channel.
type session struct {
	id          string
	context     playwright.BrowserContext
	page        playwright.Page
	cdp         playwright.CDPSession
	ownsContext bool
	ownsPage    bool
	createdAt   time.Time
	updatedAt   time.Time
}

// Controller owns at most one browser process and every session opened on
// it.
type Controller struct {
	cfg    Config
	paths  workspace.Paths
	logger *slog.Logger

	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	launched bool // true when we spawned the process ourselves
	sessions map[string]*session
}

// NewController creates an idle controller; the browser starts on first
// session open.
func NewController(paths workspace.Paths, cfg Config) *Controller {
	if cfg.Mode == "" {
		cfg.Mode = ModeLaunch
	}
	if cfg.CDPTimeout <= 0 {
		cfg.CDPTimeout = 10 * time.Second
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		paths:    paths,
		logger:   logger.With("component", "browser"),
		sessions: make(map[string]*session),
	}
}

func (c *Controller) emit(eventType string, payload map[string]any) {
	if c.cfg.Emit != nil {
		c.cfg.Emit(eventType, payload)
	}
}

// ensureBrowserLocked attaches or launches the browser on first use.
func (c *Controller) ensureBrowserLocked() error {
	if c.browser != nil && c.browser.IsConnected() {
		return nil
	}
	if c.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("start playwright driver: %w", err)
		}
		c.pw = pw
	}

	if c.cfg.Mode == ModeCDP {
		browser, err := c.pw.Chromium.ConnectOverCDP(c.cfg.CDPURL, playwright.BrowserTypeConnectOverCDPOptions{
			Timeout: playwright.Float(float64(c.cfg.CDPTimeout.Milliseconds())),
		})
		if err == nil {
			c.browser = browser
			c.launched = false
			c.logger.Info("attached to browser over cdp", "url", c.cfg.CDPURL)
			return nil
		}
		if !c.cfg.CDPFallbackToLaunch || c.cfg.ExecutablePath == "" {
			return fmt.Errorf("cdp attach to %s failed: %w", c.cfg.CDPURL, err)
		}
		c.logger.Warn("cdp attach failed, falling back to launch", "error", err)
	}

	headless := true
	if c.cfg.Headless != nil {
		headless = *c.cfg.Headless
	}
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
		},
	}
	if c.cfg.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(c.cfg.ExecutablePath)
	}
	browser, err := c.pw.Chromium.Launch(opts)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	c.browser = browser
	c.launched = true
	c.logger.Info("launched browser", "headless", headless)
	return nil
}

// OpenSession claims or creates a page and optionally navigates it. At
// capacity the least-recently-updated session is closed first.
func (c *Controller) OpenSession(targetURL string) (SessionInfo, error) {
	c.mu.Lock()
	if err := c.ensureBrowserLocked(); err != nil {
		c.mu.Unlock()
		return SessionInfo{}, err
	}

	if len(c.sessions) >= c.cfg.MaxSessions {
		evict := c.oldestSessionLocked()
		if evict != nil {
			c.logger.Info("evicting least-recently-used session", "sessionId", evict.id)
			c.closeSessionLocked(evict)
		}
	}

	s, err := c.claimPageLocked()
	if err != nil {
		c.mu.Unlock()
		return SessionInfo{}, err
	}
	s.id = uuid.NewString()
	now := time.Now()
	s.createdAt = now
	s.updatedAt = now

	// Debug-channel setup is best effort; ref operations work without it.
	if cdp, err := s.context.NewCDPSession(s.page); err == nil {
		s.cdp = cdp
		for _, domain := range []string{"Page.enable", "Runtime.enable"} {
			if _, err := cdp.Send(domain, nil); err != nil {
				c.logger.Debug("cdp domain enable failed", "domain", domain, "error", err)
			}
		}
	}

	c.sessions[s.id] = s
	c.mu.Unlock()

	if targetURL != "" && targetURL != "about:blank" {
		if _, err := s.page.Goto(targetURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(30_000),
		}); err != nil {
			c.logger.Warn("navigation failed", "sessionId", s.id, "url", targetURL, "error", err)
		}
	}

	info := c.sessionInfo(s)
	c.emit("chrome.session.open", map[string]any{"sessionId": s.id, "url": info.URL})
	return info, nil
}

// claimPageLocked applies the session opening policy for the current mode.
func (c *Controller) claimPageLocked() (*session, error) {
	if c.cfg.Mode == ModeCDP && !c.launched && c.cfg.CDPReuseExistingPage {
		claimed := make(map[playwright.Page]bool)
		for _, s := range c.sessions {
			claimed[s.page] = true
		}
		var fallback playwright.Page
		var fallbackCtx playwright.BrowserContext
		for _, ctx := range c.browser.Contexts() {
			for _, page := range ctx.Pages() {
				if claimed[page] {
					continue
				}
				if !blankURLs[strings.TrimSpace(page.URL())] {
					return &session{context: ctx, page: page}, nil
				}
				if fallback == nil {
					fallback = page
					fallbackCtx = ctx
				}
			}
		}
		if fallback != nil {
			return &session{context: fallbackCtx, page: fallback}, nil
		}
		if contexts := c.browser.Contexts(); len(contexts) > 0 {
			page, err := contexts[0].NewPage()
			if err != nil {
				return nil, fmt.Errorf("open page: %w", err)
			}
			return &session{context: contexts[0], page: page, ownsPage: true}, nil
		}
	}

	ctx, err := c.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("open context: %w", err)
	}
	page, err := ctx.NewPage()
	if err != nil {
		ctx.Close() //nolint:errcheck
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &session{context: ctx, page: page, ownsContext: true, ownsPage: true}, nil
}

// oldestSessionLocked returns the least-recently-updated session.
func (c *Controller) oldestSessionLocked() *session {
	var oldest *session
	for _, s := range c.sessions {
		if oldest == nil || s.updatedAt.Before(oldest.updatedAt) {
			oldest = s
		}
	}
	return oldest
}

func (c *Controller) get(sessionID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrNoSession
	}
	s.updatedAt = time.Now()
	return s, nil
}

func (c *Controller) sessionInfo(s *session) SessionInfo {
	title, _ := s.page.Title()
	return SessionInfo{
		ID:        s.id,
		URL:       s.page.URL(),
		Title:     title,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// ListSessions snapshots open sessions, newest update first not guaranteed.
func (c *Controller) ListSessions() []SessionInfo {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, c.sessionInfo(s))
	}
	return out
}

// Navigate points a session at a URL.
func (c *Controller) Navigate(sessionID, targetURL string) error {
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	if _, err := s.page.Goto(targetURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(30_000),
	}); err != nil {
		return fmt.Errorf("navigate to %s: %w", targetURL, err)
	}
	return nil
}

// Snapshot numbers the page's interactive elements and returns their
// descriptors. Ref numbers stay valid until the DOM changes or the next
// snapshot.
func (c *Controller) Snapshot(sessionID string, opts SnapshotOptions) (*PageSnapshot, error) {
	s, err := c.get(sessionID)
	if err != nil {
		return nil, err
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = 150
	}
	if opts.MaxElements > 500 {
		opts.MaxElements = 500
	}

	result, err := s.page.Evaluate(snapshotScript, map[string]any{
		"includeInvisible": opts.IncludeInvisible,
		"maxElements":      opts.MaxElements,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot page: %w", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	var decoded struct {
		URL      string              `json:"url"`
		Title    string              `json:"title"`
		Elements []ElementDescriptor `json:"elements"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	snap := &PageSnapshot{
		SessionID: sessionID,
		URL:       decoded.URL,
		Title:     decoded.Title,
		Timestamp: time.Now(),
		Elements:  decoded.Elements,
	}
	c.emit("chrome.snapshot", map[string]any{"sessionId": sessionID, "elements": len(snap.Elements)})
	return snap, nil
}

// ClickByRef clicks the element numbered by the last snapshot.
func (c *Controller) ClickByRef(sessionID string, ref int) error {
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	selector := refSelector(ref)
	if ok, err := c.refExists(s, ref); err == nil && !ok {
		return refNotFoundError(ref)
	}
	if err := s.page.Click(selector, playwright.PageClickOptions{
		Timeout: playwright.Float(5_000),
	}); err != nil {
		return refNotFoundError(ref)
	}
	return nil
}

// TypeByRef types into the element numbered by the last snapshot. Fill is
// attempted first; focus plus keyboard typing is the fallback for widgets
// that reject fill.
func (c *Controller) TypeByRef(sessionID string, ref int, text string, opts TypeOptions) error {
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	selector := refSelector(ref)
	if ok, err := c.refExists(s, ref); err == nil && !ok {
		return refNotFoundError(ref)
	}

	// Fill first; fall back to focus plus keyboard input for elements that
	// fill cannot target.
	fillErr := s.page.Fill(selector, text, playwright.PageFillOptions{Timeout: playwright.Float(5_000)})
	if fillErr != nil {
		if err := s.page.Focus(selector); err != nil {
			return refNotFoundError(ref)
		}
		if opts.Clear {
			s.page.Keyboard().Press("ControlOrMeta+a") //nolint:errcheck
		}
		if err := s.page.Keyboard().Type(text); err != nil {
			return fmt.Errorf("type into ref %d: %w", ref, err)
		}
	}
	if opts.PressEnter {
		if err := s.page.Keyboard().Press("Enter"); err != nil {
			return fmt.Errorf("press enter: %w", err)
		}
	}
	return nil
}

// refExists checks the numbered attribute without waiting.
func (c *Controller) refExists(s *session, ref int) (bool, error) {
	result, err := s.page.Evaluate(
		`(ref) => document.querySelector('[data-nx-ref="' + ref + '"]') !== null`, ref)
	if err != nil {
		return false, err
	}
	exists, _ := result.(bool)
	return exists, nil
}

func refSelector(ref int) string {
	return fmt.Sprintf(`[data-nx-ref="%d"]`, ref)
}

// Screenshot captures the page to the shots directory and returns the file
// path. The framework path is preferred; CDP capture is the fallback.
func (c *Controller) Screenshot(sessionID string, fullPage bool) (string, error) {
	s, err := c.get(sessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.paths.ChromeShotsDir(), fmt.Sprintf("shot-%s.png", time.Now().Format("20060102-150405.000")))

	data, shotErr := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if shotErr != nil && s.cdp != nil {
		result, cdpErr := s.cdp.Send("Page.captureScreenshot", map[string]any{"format": "png"})
		if cdpErr != nil {
			return "", fmt.Errorf("screenshot: %w", shotErr)
		}
		payload, _ := result.(map[string]any)
		encoded, _ := payload["data"].(string)
		data, shotErr = base64.StdEncoding.DecodeString(encoded)
		if shotErr != nil {
			return "", fmt.Errorf("decode cdp screenshot: %w", shotErr)
		}
	} else if shotErr != nil {
		return "", fmt.Errorf("screenshot: %w", shotErr)
	}

	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	c.emit("chrome.screenshot", map[string]any{"sessionId": sessionID, "path": path})
	return path, nil
}

// CloseSession releases one session: the debug channel detaches, then only
// resources this session created are closed.
func (c *Controller) CloseSession(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.closeSessionLocked(s)
	c.mu.Unlock()
	c.emit("chrome.session.close", map[string]any{"sessionId": sessionID})
	return nil
}

func (c *Controller) closeSessionLocked(s *session) {
	if s.cdp != nil {
		s.cdp.Detach() //nolint:errcheck
	}
	switch {
	case s.ownsContext:
		s.context.Close() //nolint:errcheck
	case s.ownsPage:
		s.page.Close() //nolint:errcheck
	}
	delete(c.sessions, s.id)
}

// Shutdown closes every session and, when we launched the process, the
// browser itself.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		c.closeSessionLocked(s)
	}
	if c.browser != nil && c.launched {
		c.browser.Close() //nolint:errcheck
	}
	c.browser = nil
	if c.pw != nil {
		c.pw.Stop() //nolint:errcheck
		c.pw = nil
	}
	c.logger.Info("browser controller stopped")
}
