package session

import "errors"

var (
	// ErrNotLaunched is returned when a context or page is requested
	// before Launch. This is a programming error in the caller, not a
	// transient condition.
	ErrNotLaunched = errors.New("session manager not launched")

	// ErrAlreadyLaunched is returned on a second Launch. Callers must not
	// double-launch.
	ErrAlreadyLaunched = errors.New("session manager already launched")

	// ErrContextDead is returned when a page is requested in a context
	// that is no longer alive.
	ErrContextDead = errors.New("browser context is not alive")
)

// ContextOptions are the per-call overrides for CreateContext. Zero values
// mean "use the stored or derived value".
type ContextOptions struct {
	// Proxy requests an exit proxy. A proxy different from the profile's
	// sticky binding is an explicit rotation and is persisted.
	Proxy string

	// UserAgent overrides the engine default for this context only.
	UserAgent string

	// Locale and Timezone override the stored fingerprint fields; the
	// override is persisted back to the profile's record.
	Locale   string
	Timezone string
}

// Account is the credentials record handed over by per-site callers. Only
// the proxy participates in session construction; username and password are
// opaque to this core.
type Account struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Proxy    string `json:"proxy,omitempty"`
}

// ContextOptions maps the account onto per-call context overrides.
func (a Account) ContextOptions() ContextOptions {
	return ContextOptions{Proxy: a.Proxy}
}

// PageStatus classifies a page's reachability as reported by an in-page
// probe. Exactly one of Blocked/NetworkError is set for those outcomes;
// otherwise Status carries the raw HTTP status.
type PageStatus struct {
	Blocked      bool `json:"blocked"`
	NetworkError bool `json:"network_error"`
	Status       int  `json:"status"`
}
