// Package fingerprint maintains the per-profile device identity records
// presented to visited sites. A profile's entropy seeds are derived from the
// profile name once, persisted, and never regenerated, so a long-lived
// account looks like the same device across process restarts.
package fingerprint

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/driplet/driplet/pkg/logging"
	"github.com/driplet/driplet/pkg/store"
)

// Defaults applied when a field has no stored value and no override.
const (
	DefaultLocale     = "en-US"
	DefaultTimezoneID = "America/New_York"
	DefaultPlatform   = "Win32"

	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	defaultScaleFactor    = 1.0

	canvasSeedRange = 1_000_000
	audioSeedRange  = 1_000_000
	gpuIndexRange   = 13
)

// Fingerprint is the device identity record for one profile.
type Fingerprint struct {
	Locale            string   `json:"locale"`
	TimezoneID        string   `json:"timezone_id"`
	Languages         []string `json:"languages"`
	Platform          string   `json:"platform"`
	ViewportWidth     int      `json:"viewport_width"`
	ViewportHeight    int      `json:"viewport_height"`
	DeviceScaleFactor float64  `json:"device_scale_factor"`
	CanvasSeed        int      `json:"canvas_seed"`
	GPUIndex          int      `json:"gpu_index"`
	AudioSeed         int      `json:"audio_seed"`
}

// Registry loads and saves fingerprints through the durable store. All
// records live in one document keyed by profile.
type Registry struct {
	store store.Store
	path  string
	log   *logging.Logger
}

// NewRegistry creates a registry persisting to path via s.
func NewRegistry(s store.Store, path string) *Registry {
	log, _ := logging.NewLogger("fingerprint")
	return &Registry{store: s, path: path, log: log}
}

// Load returns the stored fingerprint for profile verbatim. No field is
// regenerated on load.
func (r *Registry) Load(profile string) (Fingerprint, bool) {
	records := r.readAll()
	fp, ok := records[profile]
	return fp, ok
}

// Option overrides a derived field on save.
type Option func(*Fingerprint)

// WithSeeds pins the entropy seeds, used to pass loaded seeds through an
// explicit re-save unchanged.
func WithSeeds(canvas, gpu, audio int) Option {
	return func(fp *Fingerprint) {
		fp.CanvasSeed = canvas
		fp.GPUIndex = gpu
		fp.AudioSeed = audio
	}
}

// WithViewport overrides the viewport dimensions.
func WithViewport(width, height int, scale float64) Option {
	return func(fp *Fingerprint) {
		fp.ViewportWidth = width
		fp.ViewportHeight = height
		fp.DeviceScaleFactor = scale
	}
}

// WithPlatform overrides the navigator platform.
func WithPlatform(platform string) Option {
	return func(fp *Fingerprint) {
		fp.Platform = platform
	}
}

// Save builds the fingerprint for profile and persists it before returning.
// Fields not pinned by an option are derived deterministically from the
// profile name, so regenerating without prior state yields identical seeds.
func (r *Registry) Save(profile, locale, timezoneID string, opts ...Option) Fingerprint {
	if locale == "" {
		locale = DefaultLocale
	}
	if timezoneID == "" {
		timezoneID = DefaultTimezoneID
	}

	fp := Fingerprint{
		Locale:            locale,
		TimezoneID:        timezoneID,
		Languages:         deriveLanguages(locale),
		Platform:          DefaultPlatform,
		ViewportWidth:     defaultViewportWidth,
		ViewportHeight:    defaultViewportHeight,
		DeviceScaleFactor: defaultScaleFactor,
		CanvasSeed:        seedFor(profile, "", canvasSeedRange),
		GPUIndex:          seedFor(profile, "_gpu", gpuIndexRange),
		AudioSeed:         seedFor(profile, "_audio", audioSeedRange),
	}

	for _, opt := range opts {
		opt(&fp)
	}

	records := r.readAll()
	records[profile] = fp
	if !r.store.Write(r.path, records) {
		r.log.Errorf("save fingerprint for %q: write failed, identity may drift next run", profile)
	}
	return fp
}

func (r *Registry) readAll() map[string]Fingerprint {
	records := make(map[string]Fingerprint)
	r.store.Read(r.path, &records)
	return records
}

// seedFor derives a stable, well-distributed value in [0, mod) from the
// profile name. Not a security boundary; it only needs determinism and
// spread.
func seedFor(profile, suffix string, mod int) int {
	return int(xxhash.Sum64String(profile+suffix) % uint64(mod))
}

// deriveLanguages builds the navigator language list from a locale,
// e.g. "en-US" -> ["en-US", "en"].
func deriveLanguages(locale string) []string {
	primary := strings.SplitN(locale, "-", 2)[0]
	if primary == locale {
		return []string{locale}
	}
	return []string{locale, primary}
}
