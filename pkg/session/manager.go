// Package session owns the browser engine handle and composes the identity
// persistence layers into context creation: each profile gets a stable
// fingerprint, its sticky proxy, and its stored (or fabricated) cookie jar
// every time a context is created for it.
package session

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/driplet/driplet/pkg/config"
	"github.com/driplet/driplet/pkg/cookies"
	"github.com/driplet/driplet/pkg/fingerprint"
	"github.com/driplet/driplet/pkg/health"
	"github.com/driplet/driplet/pkg/logging"
	"github.com/driplet/driplet/pkg/proxy"
	"github.com/driplet/driplet/pkg/store"
)

// Durable record file names under the state directory.
const (
	fingerprintsFile   = "fingerprints.json"
	proxyBindingsFile  = "proxy_bindings.json"
	proxyHealthFile    = "proxy_health.json"
	cookieProfilesFile = "cookie_profiles.json"
	cookieJarDir       = "cookies"
)

// Manager creates, tracks, and recycles browser execution contexts.
//
// Lifecycle methods other than Launch and CreateContext never return errors:
// per the error-handling contract they report failure as false/absent and
// log the cause, so a dying engine can never take the hosting process down.
type Manager struct {
	mu         sync.Mutex
	cfg        config.Config
	pw         *playwright.Playwright
	browser    playwright.Browser
	defaultCtx playwright.BrowserContext
	launched   bool

	fingerprints *fingerprint.Registry
	proxies      *proxy.Table
	vault        *cookies.Vault
	tracker      *health.Tracker
	log          *logging.Logger
}

// New creates a manager persisting identity state to disk under
// cfg.StateDir.
func New(cfg config.Config) *Manager {
	return NewWithStore(cfg, store.NewFileStore(cfg.BackupDepth))
}

// NewWithStore creates a manager over an injected record store, letting
// tests substitute an in-memory implementation.
func NewWithStore(cfg config.Config, s store.Store) *Manager {
	log, _ := logging.NewLogger("session")

	return &Manager{
		cfg:          cfg,
		fingerprints: fingerprint.NewRegistry(s, cfg.RecordPath(fingerprintsFile)),
		proxies:      proxy.NewTable(s, cfg.RecordPath(proxyBindingsFile), cfg.RecordPath(proxyHealthFile)),
		vault: cookies.New(s, cfg.RecordPath(cookieJarDir), cfg.RecordPath(cookieProfilesFile),
			cookies.KeyFromEnv(cfg.VaultKeyEnv)),
		tracker: health.NewTracker(),
		log:     log,
	}
}

// Tracker exposes the context health tracker so callers holding handles can
// validate and close them.
func (m *Manager) Tracker() *health.Tracker {
	return m.tracker
}

// launchArgs returns the hardened engine arguments. The fixed window size
// keeps headless runs from reporting a degenerate low-resolution screen.
func (m *Manager) launchArgs() []string {
	return []string{
		"--disable-blink-features=AutomationControlled",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-infobars",
		fmt.Sprintf("--window-size=%d,%d", m.cfg.ScreenWidth, m.cfg.ScreenHeight),
	}
}

// Launch starts the browser engine. Calling Launch on an already-launched
// manager returns ErrAlreadyLaunched; callers must not double-launch.
func (m *Manager) Launch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.launched {
		return ErrAlreadyLaunched
	}

	// Driver output is discarded so it cannot interleave with callers'
	// own output streams.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     m.launchArgs(),
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.pw = pw
	m.browser = browser
	m.launched = true
	m.log.Infof("engine launched (headless=%v)", m.cfg.Headless)
	return nil
}

// CreateContext builds an isolated context for profile: fingerprint loaded
// or generated, sticky proxy resolved, anti-fingerprint payload installed,
// resource blocking applied, and the profile's cookie jar hydrated. The
// returned handle is exclusively owned by the caller.
func (m *Manager) CreateContext(profile string, opts ContextOptions) (playwright.BrowserContext, error) {
	m.mu.Lock()
	browser := m.browser
	launched := m.launched
	m.mu.Unlock()

	if !launched {
		return nil, ErrNotLaunched
	}

	fp := m.resolveFingerprint(profile, opts)
	proxyAddr := m.proxies.Resolve(profile, opts.Proxy)

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  fp.ViewportWidth,
			Height: fp.ViewportHeight,
		},
		Screen: &playwright.Size{
			Width:  m.cfg.ScreenWidth,
			Height: m.cfg.ScreenHeight,
		},
		DeviceScaleFactor: playwright.Float(fp.DeviceScaleFactor),
		Locale:            playwright.String(fp.Locale),
		TimezoneId:        playwright.String(fp.TimezoneID),
	}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if proxyAddr != "" {
		ctxOpts.Proxy = &playwright.Proxy{Server: proxyAddr}
	}

	ctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context for %q: %w", profile, err)
	}

	if err := ctx.AddInitScript(playwright.Script{
		Content: playwright.String(stealthScript(fp)),
	}); err != nil {
		// The context is still usable, just more detectable.
		m.log.Warnf("profile %q: stealth payload rejected: %v", profile, err)
	}

	if err := m.applyBlocking(ctx); err != nil {
		m.log.Warnf("profile %q: resource blocking not installed: %v", profile, err)
	}

	m.hydrateCookies(profile, ctx)

	m.log.Infof("context created for %q (proxy=%q)", profile, proxyAddr)
	return ctx, nil
}

// resolveFingerprint loads the profile's record, generating it on first use
// and persisting explicit locale/timezone overrides back with the stored
// seeds passed through unchanged.
func (m *Manager) resolveFingerprint(profile string, opts ContextOptions) fingerprint.Fingerprint {
	fp, ok := m.fingerprints.Load(profile)
	if !ok {
		return m.fingerprints.Save(profile, opts.Locale, opts.Timezone)
	}

	localeOverridden := opts.Locale != "" && opts.Locale != fp.Locale
	tzOverridden := opts.Timezone != "" && opts.Timezone != fp.TimezoneID
	if !localeOverridden && !tzOverridden {
		return fp
	}

	locale := fp.Locale
	if localeOverridden {
		locale = opts.Locale
	}
	timezone := fp.TimezoneID
	if tzOverridden {
		timezone = opts.Timezone
	}

	return m.fingerprints.Save(profile, locale, timezone,
		fingerprint.WithSeeds(fp.CanvasSeed, fp.GPUIndex, fp.AudioSeed),
		fingerprint.WithViewport(fp.ViewportWidth, fp.ViewportHeight, fp.DeviceScaleFactor),
		fingerprint.WithPlatform(fp.Platform),
	)
}

// applyBlocking aborts requests for the configured resource classes on every
// request in the context.
func (m *Manager) applyBlocking(ctx playwright.BrowserContext) error {
	if len(m.cfg.BlockResources) == 0 {
		return nil
	}

	blocked := make(map[string]bool, len(m.cfg.BlockResources))
	for _, kind := range m.cfg.BlockResources {
		blocked[kind] = true
	}

	return ctx.Route("**/*", func(route playwright.Route) {
		if blocked[route.Request().ResourceType()] {
			_ = route.Abort()
			return
		}
		_ = route.Continue()
	})
}

// hydrateCookies installs the profile's stored jar, or a seeded one for
// profiles with no history when seeding is enabled.
func (m *Manager) hydrateCookies(profile string, ctx playwright.BrowserContext) {
	jar, ok := m.vault.Load(profile)
	if !ok {
		if !m.cfg.SeedCookies {
			return
		}
		jar = m.vault.Seed(profile)
		m.log.Debugf("profile %q: seeded %d cookies", profile, len(jar))
	}
	if len(jar) == 0 {
		return
	}

	if err := ctx.AddCookies(toEngineCookies(jar)); err != nil {
		m.log.Warnf("profile %q: cookie hydration failed: %v", profile, err)
	}
}

// PersistCookies reads the context's current cookies back into the vault.
// Returns false (and logs) when the engine or the vault refuses; the context
// stays usable either way.
func (m *Manager) PersistCookies(profile string, ctx playwright.BrowserContext) bool {
	engineCookies, err := ctx.Cookies()
	if err != nil {
		m.log.Warnf("profile %q: cookie readback failed: %v", profile, err)
		return false
	}
	return m.vault.Save(profile, fromEngineCookies(engineCookies))
}

// NewPage creates a page in ctx. With a nil ctx the manager lazily launches
// if needed and serves the page from an engine-global context carrying the
// same resource-blocking policy.
func (m *Manager) NewPage(ctx playwright.BrowserContext) (playwright.Page, error) {
	if ctx != nil {
		page, ok := m.tracker.SafeNewPage(ctx)
		if !ok {
			return nil, ErrContextDead
		}
		page.SetDefaultTimeout(m.cfg.NavigationTimeoutMs)
		return page, nil
	}

	m.mu.Lock()
	if !m.launched {
		m.mu.Unlock()
		if err := m.Launch(); err != nil {
			return nil, err
		}
		m.mu.Lock()
	}

	if m.defaultCtx == nil || !m.tracker.IsContextAlive(m.defaultCtx) {
		defaultCtx, err := m.browser.NewContext()
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to create default context: %w", err)
		}
		if err := m.applyBlocking(defaultCtx); err != nil {
			m.log.Warnf("default context: resource blocking not installed: %v", err)
		}
		m.defaultCtx = defaultCtx
	}
	defaultCtx := m.defaultCtx
	m.mu.Unlock()

	page, err := defaultCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(m.cfg.NavigationTimeoutMs)
	return page, nil
}

// CheckHealth verifies the engine still responds by opening and closing a
// throwaway context. False on any failure, absent engine included; never an
// error.
func (m *Manager) CheckHealth() bool {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()

	if browser == nil {
		return false
	}

	ctx, err := browser.NewContext()
	if err != nil {
		m.log.Warnf("health probe failed: %v", err)
		return false
	}
	if err := ctx.Close(); err != nil {
		m.log.Warnf("health probe context close failed: %v", err)
		return false
	}
	return true
}

// statusProbeJS asks the page itself whether its origin is reachable.
// Unreachable origins surface as status 0 via the catch arm.
const statusProbeJS = `async () => {
  try {
    const res = await fetch(window.location.href, { method: 'HEAD', cache: 'no-store' });
    return res.status;
  } catch (err) {
    return 0;
  }
}`

// CheckPageStatus classifies a page's reachability. 401/403 report Blocked,
// status 0 or a failed probe report NetworkError; anything else carries the
// raw status through. Never returns an error; the worst case is Status -1.
func (m *Manager) CheckPageStatus(page playwright.Page) PageStatus {
	result, err := page.Evaluate(statusProbeJS)
	if err != nil {
		m.log.Warnf("page status probe failed: %v", err)
		return PageStatus{NetworkError: true, Status: -1}
	}
	return classifyPageStatus(evalToInt(result, -1))
}

func classifyPageStatus(status int) PageStatus {
	switch {
	case status == 401 || status == 403:
		return PageStatus{Blocked: true, Status: status}
	case status <= 0:
		return PageStatus{NetworkError: true, Status: status}
	default:
		return PageStatus{Status: status}
	}
}

// evalToInt normalizes the engine's numeric evaluate results.
func evalToInt(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// Restart tears the engine's browser down best-effort and relaunches it.
// Every outstanding context is dead afterwards; callers must re-validate
// held handles through the tracker before reuse.
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.launched {
		return ErrNotLaunched
	}

	for _, ctx := range m.browser.Contexts() {
		m.tracker.MarkClosed(ctx)
	}
	if err := m.browser.Close(); err != nil {
		m.log.Warnf("restart: browser close failed: %v", err)
	}
	m.defaultCtx = nil

	browser, err := m.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     m.launchArgs(),
	})
	if err != nil {
		m.launched = false
		m.browser = nil
		return fmt.Errorf("failed to relaunch browser: %w", err)
	}

	m.browser = browser
	m.log.Infof("engine restarted")
	return nil
}

// Close shuts the engine down best-effort and returns the manager to a
// launchable state. The tracker's closed set is cleared: no handle issued by
// this manager is valid afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.log.Warnf("close: browser close failed: %v", err)
		}
		m.browser = nil
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			m.log.Warnf("close: engine stop failed: %v", err)
		}
		m.pw = nil
	}

	m.defaultCtx = nil
	m.launched = false
	m.tracker.Reset()
	m.log.Infof("engine closed")
}
