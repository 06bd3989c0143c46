// Package health tracks which browser contexts and pages are known dead and
// makes close operations idempotent. Late or repeated closes from callers
// that timed out are harmless by construction: a handle is marked closed on
// the first attempt regardless of outcome, and every operation on a closed
// handle is a no-op.
package health

import (
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/driplet/driplet/pkg/logging"
)

// Context is the slice of the engine context surface the tracker needs.
// playwright.BrowserContext satisfies it.
type Context interface {
	Cookies(urls ...string) ([]playwright.Cookie, error)
	Close(options ...playwright.BrowserContextCloseOptions) error
	NewPage() (playwright.Page, error)
}

// Page is the slice of the engine page surface the tracker needs.
// playwright.Page satisfies it.
type Page interface {
	IsClosed() bool
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// Tracker maintains the closed-handle set.
type Tracker struct {
	mu     sync.Mutex
	closed map[interface{}]struct{}
	log    *logging.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	log, _ := logging.NewLogger("health")
	return &Tracker{
		closed: make(map[interface{}]struct{}),
		log:    log,
	}
}

// IsContextAlive reports whether the context can still be used. A handle in
// the closed set is dead without touching the engine; otherwise a cheap
// read-only probe decides. Probe failures outside the closed-target class
// are logged as genuine errors and reported as not alive.
func (t *Tracker) IsContextAlive(ctx Context) bool {
	if ctx == nil || t.isTrackedClosed(ctx) {
		return false
	}

	if _, err := ctx.Cookies(); err != nil {
		if !isClosedError(err) {
			t.log.Errorf("context liveness probe failed: %v", err)
		}
		return false
	}
	return true
}

// IsPageAlive reports whether the page can still be used. A page is dead
// once its owning context closes, even if the page handle itself was never
// closed.
func (t *Tracker) IsPageAlive(page Page) bool {
	if page == nil || page.IsClosed() {
		return false
	}

	if _, err := page.Evaluate("1"); err != nil {
		if !isClosedError(err) {
			t.log.Errorf("page liveness probe failed: %v", err)
		}
		return false
	}
	return true
}

// SafeClose closes a context exactly once. The first call attempts the real
// close, marks the handle closed regardless of outcome, and returns whether
// the close itself succeeded. Every later call is a no-op returning false.
func (t *Tracker) SafeClose(ctx Context) bool {
	if ctx == nil {
		return false
	}

	t.mu.Lock()
	if _, done := t.closed[ctx]; done {
		t.mu.Unlock()
		return false
	}
	t.closed[ctx] = struct{}{}
	t.mu.Unlock()

	if err := ctx.Close(); err != nil {
		t.log.Warnf("context close failed: %v", err)
		return false
	}
	return true
}

// SafeNewPage creates a page in ctx after verifying the context is alive,
// returning absent instead of attempting page creation on a dead context.
func (t *Tracker) SafeNewPage(ctx Context) (playwright.Page, bool) {
	if !t.IsContextAlive(ctx) {
		return nil, false
	}

	page, err := ctx.NewPage()
	if err != nil {
		t.log.Warnf("page creation failed: %v", err)
		return nil, false
	}
	return page, true
}

// MarkClosed records a handle as closed without attempting a close, used
// when the engine invalidated it out from under us (restart).
func (t *Tracker) MarkClosed(ctx Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed[ctx] = struct{}{}
}

// Reset clears the closed set. Only valid on full manager shutdown, when no
// outstanding handles remain.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = make(map[interface{}]struct{})
}

func (t *Tracker) isTrackedClosed(ctx Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, done := t.closed[ctx]
	return done
}

// isClosedError matches the engine's closed-target error class: the context,
// page, or transport is gone, which is a liveness answer rather than a
// failure.
func isClosedError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "closed") || strings.Contains(msg, "disconnected")
}
