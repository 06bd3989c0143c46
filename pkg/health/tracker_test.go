package health

import (
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContext simulates the engine context surface. Once closed, probes fail
// the way a real engine reports a gone target.
type fakeContext struct {
	closed     bool
	closeErr   error
	closeCalls int
	probeErr   error
	newPageErr error
}

func (f *fakeContext) Cookies(urls ...string) ([]playwright.Cookie, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if f.closed {
		return nil, errors.New("target page, context or browser has been closed")
	}
	return nil, nil
}

func (f *fakeContext) Close(options ...playwright.BrowserContextCloseOptions) error {
	f.closeCalls++
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = true
	return nil
}

func (f *fakeContext) NewPage() (playwright.Page, error) {
	if f.closed {
		return nil, errors.New("target page, context or browser has been closed")
	}
	if f.newPageErr != nil {
		return nil, f.newPageErr
	}
	return nil, nil
}

type fakePage struct {
	closed  bool
	evalErr error
}

func (f *fakePage) IsClosed() bool {
	return f.closed
}

func (f *fakePage) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	if f.closed {
		return nil, errors.New("target closed")
	}
	return 1, nil
}

func TestIsContextAlive(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{}

	assert.True(t, tracker.IsContextAlive(ctx))

	require.True(t, tracker.SafeClose(ctx))
	assert.False(t, tracker.IsContextAlive(ctx))
}

func TestIsContextAliveNil(t *testing.T) {
	tracker := NewTracker()
	assert.False(t, tracker.IsContextAlive(nil))
}

func TestIsContextAliveEngineClosedUnderneath(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{closed: true}

	// Never tracked as closed, but the probe reports a gone target.
	assert.False(t, tracker.IsContextAlive(ctx))
}

func TestIsContextAliveGenuineProbeError(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{probeErr: errors.New("protocol error: unexpected frame")}

	// Non-closed-class failures are logged and still read as not alive;
	// this API never raises.
	assert.False(t, tracker.IsContextAlive(ctx))
}

func TestSafeCloseIdempotent(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{}

	assert.True(t, tracker.SafeClose(ctx), "first close succeeds")
	assert.False(t, tracker.SafeClose(ctx), "second close is a no-op")
	assert.False(t, tracker.SafeClose(ctx), "third close is a no-op")
	assert.Equal(t, 1, ctx.closeCalls, "the engine close must run exactly once")
}

func TestSafeCloseFailureStillMarksClosed(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{closeErr: errors.New("browser crashed")}

	assert.False(t, tracker.SafeClose(ctx), "failed close reports false")
	assert.False(t, tracker.SafeClose(ctx), "handle is tracked closed regardless")
	assert.Equal(t, 1, ctx.closeCalls)
}

func TestSafeCloseIndependentHandles(t *testing.T) {
	tracker := NewTracker()
	a := &fakeContext{}
	b := &fakeContext{}

	assert.True(t, tracker.SafeClose(a))
	assert.True(t, tracker.SafeClose(b), "closing one handle must not poison another")
}

func TestSafeNewPage(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{}

	_, ok := tracker.SafeNewPage(ctx)
	assert.True(t, ok)
}

func TestSafeNewPageDeadContext(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{}
	tracker.SafeClose(ctx)

	page, ok := tracker.SafeNewPage(ctx)
	assert.False(t, ok, "no page creation is attempted on a dead context")
	assert.Nil(t, page)
}

func TestIsPageAlive(t *testing.T) {
	tracker := NewTracker()

	page := &fakePage{}
	assert.True(t, tracker.IsPageAlive(page))

	page.closed = true
	assert.False(t, tracker.IsPageAlive(page))

	assert.False(t, tracker.IsPageAlive(nil))
}

func TestIsPageAliveContextGone(t *testing.T) {
	tracker := NewTracker()

	// The page handle was never closed, but its owning context is gone and
	// evaluation fails with a closed-target error.
	page := &fakePage{evalErr: errors.New("target page, context or browser has been closed")}
	assert.False(t, tracker.IsPageAlive(page))
}

func TestMarkClosed(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{}

	tracker.MarkClosed(ctx)
	assert.False(t, tracker.IsContextAlive(ctx))
	assert.False(t, tracker.SafeClose(ctx), "marked handles close as no-ops")
	assert.Equal(t, 0, ctx.closeCalls)
}

func TestReset(t *testing.T) {
	tracker := NewTracker()
	ctx := &fakeContext{}
	tracker.MarkClosed(ctx)

	tracker.Reset()

	// After a full shutdown the set is empty; a fresh handle with the same
	// identity would be tracked anew.
	assert.True(t, tracker.IsContextAlive(ctx))
}

func TestIsClosedErrorClassification(t *testing.T) {
	assert.True(t, isClosedError(errors.New("Target closed")))
	assert.True(t, isClosedError(errors.New("target page, context or browser has been closed")))
	assert.True(t, isClosedError(errors.New("websocket: connection closed")))
	assert.True(t, isClosedError(errors.New("browser disconnected")))
	assert.False(t, isClosedError(errors.New("navigation timeout exceeded")))
}
