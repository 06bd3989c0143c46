package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driplet/driplet/pkg/store"
)

const (
	bindingsPath = "proxy_bindings.json"
	ledgerPath   = "proxy_health.json"
)

func newTestTable(t *testing.T) (*Table, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	table := NewTable(mem, bindingsPath, ledgerPath)
	return table, mem
}

func writeLedger(t *testing.T, mem *store.Memory, ledger Ledger) {
	t.Helper()
	require.True(t, mem.Write(ledgerPath, ledger))
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "host:8080", NormalizeKey("http://host:8080"))
	assert.Equal(t, "host:8080", NormalizeKey("socks5://host:8080"))
	assert.Equal(t, "host:8080", NormalizeKey("host:8080"))
}

func TestFirstRequestCreatesBinding(t *testing.T) {
	table, _ := newTestTable(t)

	got := table.Resolve("acct1", "p1:8080")
	assert.Equal(t, "p1:8080", got)

	bound, ok := table.LoadBinding("acct1")
	require.True(t, ok)
	assert.Equal(t, "p1:8080", bound)
}

func TestStickiness(t *testing.T) {
	table, _ := newTestTable(t)
	table.Resolve("acct1", "p1:8080")

	// No explicit request: the binding is reused, repeatedly.
	for i := 0; i < 3; i++ {
		assert.Equal(t, "p1:8080", table.Resolve("acct1", ""))
	}

	// Requesting the bound proxy again is also sticky reuse.
	assert.Equal(t, "p1:8080", table.Resolve("acct1", "p1:8080"))
}

func TestExplicitRotation(t *testing.T) {
	table, _ := newTestTable(t)
	table.Resolve("acct1", "p1:8080")

	got := table.Resolve("acct1", "p2:8080")
	assert.Equal(t, "p2:8080", got)

	bound, ok := table.LoadBinding("acct1")
	require.True(t, ok)
	assert.Equal(t, "p2:8080", bound, "rotation must never be silently ignored")
}

func TestNoProxyNoBinding(t *testing.T) {
	table, _ := newTestTable(t)

	assert.Equal(t, "", table.Resolve("acct1", ""))
	_, ok := table.LoadBinding("acct1")
	assert.False(t, ok)
}

func TestDeadProxyEvictsBinding(t *testing.T) {
	table, mem := newTestTable(t)
	table.Resolve("acct1", "p1:8080")

	// The external monitor marks the proxy dead, scheme-prefixed.
	writeLedger(t, mem, Ledger{DeadProxies: []string{"http://p1:8080"}})

	assert.Equal(t, "", table.Resolve("acct1", ""))

	_, ok := table.LoadBinding("acct1")
	assert.False(t, ok, "blacklisted binding must be removed")
}

func TestEvictionThenRotationToRequested(t *testing.T) {
	table, mem := newTestTable(t)
	table.Resolve("acct1", "p1:8080")
	writeLedger(t, mem, Ledger{DeadProxies: []string{"p1:8080"}})

	got := table.Resolve("acct1", "p2:8080")
	assert.Equal(t, "p2:8080", got)

	bound, ok := table.LoadBinding("acct1")
	require.True(t, ok)
	assert.Equal(t, "p2:8080", bound)
}

func TestCooldownBlacklisting(t *testing.T) {
	table, mem := newTestTable(t)
	now := time.Unix(1_700_000_000, 0)
	table.now = func() time.Time { return now }

	writeLedger(t, mem, Ledger{ProxyCooldown: map[string]int64{
		"cooling:1080": now.Add(time.Hour).Unix(),
		"cooled:1080":  now.Add(-time.Hour).Unix(),
	}})

	assert.True(t, table.IsBlacklisted("socks5://cooling:1080"))
	assert.False(t, table.IsBlacklisted("cooled:1080"), "expired cooldown is not a blacklist")
	assert.False(t, table.IsBlacklisted("unknown:1080"))
}

func TestCooldownBoundaryIsNotBlacklisted(t *testing.T) {
	table, mem := newTestTable(t)
	now := time.Unix(1_700_000_000, 0)
	table.now = func() time.Time { return now }

	// Cooldown exactly now: not strictly in the future.
	writeLedger(t, mem, Ledger{ProxyCooldown: map[string]int64{"edge:1080": now.Unix()}})
	assert.False(t, table.IsBlacklisted("edge:1080"))
}

func TestMissingLedgerMeansHealthy(t *testing.T) {
	table, _ := newTestTable(t)
	assert.False(t, table.IsBlacklisted("p1:8080"))
}

func TestRemoveBindingAbsentProfile(t *testing.T) {
	table, _ := newTestTable(t)
	table.RemoveBinding("ghost") // must not panic or create state
	_, ok := table.LoadBinding("ghost")
	assert.False(t, ok)
}

func TestBindingsAreIndependentPerProfile(t *testing.T) {
	table, _ := newTestTable(t)
	table.Resolve("acct1", "p1:8080")
	table.Resolve("acct2", "p2:8080")

	assert.Equal(t, "p1:8080", table.Resolve("acct1", ""))
	assert.Equal(t, "p2:8080", table.Resolve("acct2", ""))
}
