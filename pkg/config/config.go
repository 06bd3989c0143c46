// Package config holds the runtime configuration for the driplet session
// core: where persisted identity state lives, how the engine is launched,
// and which resource classes are blocked inside contexts.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config configures the session manager and its persistence layers.
type Config struct {
	// StateDir is the directory holding all durable record files
	// (fingerprints, proxy bindings, health ledger, cookie jars).
	StateDir string `yaml:"state_dir"`

	// Headless controls whether the engine runs without a visible window.
	Headless bool `yaml:"headless"`

	// BackupDepth is the number of rotated .backup.N files kept per record.
	BackupDepth int `yaml:"backup_depth"`

	// BlockResources lists engine resource types aborted inside every
	// context (e.g. "image", "media", "font").
	BlockResources []string `yaml:"block_resources"`

	// SeedCookies enables fabricating an aged cookie jar for profiles
	// with no stored history.
	SeedCookies bool `yaml:"seed_cookies"`

	// VaultKeyEnv names the environment variable holding the cookie vault
	// encryption key. An absent or malformed key degrades the vault to
	// the plaintext tier.
	VaultKeyEnv string `yaml:"vault_key_env"`

	// ScreenWidth and ScreenHeight fix the screen constraint for headless
	// runs so fingerprints never report a degenerate low resolution.
	ScreenWidth  int `yaml:"screen_width"`
	ScreenHeight int `yaml:"screen_height"`

	// NavigationTimeoutMs is the default timeout applied to pages.
	NavigationTimeoutMs float64 `yaml:"navigation_timeout_ms"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	stateDir := ".driplet"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".driplet")
	}

	return Config{
		StateDir:            stateDir,
		Headless:            true,
		BackupDepth:         3,
		BlockResources:      []string{"image", "media", "font"},
		SeedCookies:         true,
		VaultKeyEnv:         "DRIPLET_VAULT_KEY",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		NavigationTimeoutMs: 30000,
	}
}

// Load reads a yaml config file over the defaults. On any read or parse
// failure the defaults are returned along with the error, so callers can
// proceed degraded.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// RecordPath returns the absolute path of a named durable record file.
func (c Config) RecordPath(name string) string {
	return filepath.Join(c.StateDir, name)
}
