// Package proxy keeps each profile pinned to a stable exit proxy and evicts
// bindings whose proxy an external health monitor has marked dead or cooling
// down. The health ledger is written elsewhere; this package only reads it.
package proxy

import (
	"strings"
	"time"

	"github.com/driplet/driplet/pkg/logging"
	"github.com/driplet/driplet/pkg/store"
)

// Ledger is the proxy health document maintained by the external monitor.
// Keys are normalized proxy addresses (scheme stripped).
type Ledger struct {
	DeadProxies   []string         `json:"dead_proxies"`
	ProxyCooldown map[string]int64 `json:"proxy_cooldowns"`
}

// Table resolves sticky per-profile proxy assignments.
type Table struct {
	store        store.Store
	bindingsPath string
	ledgerPath   string
	log          *logging.Logger
	now          func() time.Time
}

// NewTable creates a table persisting bindings at bindingsPath and reading
// the health ledger from ledgerPath.
func NewTable(s store.Store, bindingsPath, ledgerPath string) *Table {
	log, _ := logging.NewLogger("proxy")
	return &Table{
		store:        s,
		bindingsPath: bindingsPath,
		ledgerPath:   ledgerPath,
		log:          log,
		now:          time.Now,
	}
}

// LoadBinding returns the proxy bound to profile, if any.
func (t *Table) LoadBinding(profile string) (string, bool) {
	bindings := t.readBindings()
	bound, ok := bindings[profile]
	return bound, ok
}

// SaveBinding pins profile to proxy, replacing any previous binding.
func (t *Table) SaveBinding(profile, proxyAddr string) {
	bindings := t.readBindings()
	bindings[profile] = proxyAddr
	if !t.store.Write(t.bindingsPath, bindings) {
		t.log.Errorf("save binding %q -> %q: write failed", profile, proxyAddr)
	}
}

// RemoveBinding clears the binding for profile if present.
func (t *Table) RemoveBinding(profile string) {
	bindings := t.readBindings()
	if _, ok := bindings[profile]; !ok {
		return
	}
	delete(bindings, profile)
	if !t.store.Write(t.bindingsPath, bindings) {
		t.log.Errorf("remove binding for %q: write failed", profile)
	}
}

// IsBlacklisted reports whether the health monitor currently forbids the
// proxy: listed dead, or cooling down with the cooldown strictly in the
// future.
func (t *Table) IsBlacklisted(proxyAddr string) bool {
	key := NormalizeKey(proxyAddr)

	var ledger Ledger
	if !t.store.Read(t.ledgerPath, &ledger) {
		return false
	}

	for _, dead := range ledger.DeadProxies {
		if NormalizeKey(dead) == key {
			return true
		}
	}
	if until, ok := ledger.ProxyCooldown[key]; ok {
		return time.Unix(until, 0).After(t.now())
	}
	return false
}

// Resolve picks the proxy for a context creation on profile, applying the
// sticky-assignment policy:
//
//  1. a blacklisted binding is evicted and treated as absent,
//  2. a requested proxy different from the binding is an explicit rotation,
//  3. an existing healthy binding is reused,
//  4. a request with no binding creates the binding,
//  5. otherwise no proxy is used.
//
// The returned string is empty when no proxy applies.
func (t *Table) Resolve(profile, requested string) string {
	bound, hasBound := t.LoadBinding(profile)

	if hasBound && t.IsBlacklisted(bound) {
		t.log.Warnf("profile %q: bound proxy %q is blacklisted, evicting", profile, bound)
		t.RemoveBinding(profile)
		bound, hasBound = "", false
	}

	switch {
	case hasBound && requested != "" && requested != bound:
		t.SaveBinding(profile, requested)
		return requested
	case hasBound:
		return bound
	case requested != "":
		t.SaveBinding(profile, requested)
		return requested
	default:
		return ""
	}
}

func (t *Table) readBindings() map[string]string {
	bindings := make(map[string]string)
	t.store.Read(t.bindingsPath, &bindings)
	return bindings
}

// NormalizeKey strips any scheme prefix so "http://host:port" and
// "host:port" collide to the same ledger key.
func NormalizeKey(proxyAddr string) string {
	if i := strings.Index(proxyAddr, "://"); i >= 0 {
		return proxyAddr[i+3:]
	}
	return proxyAddr
}
