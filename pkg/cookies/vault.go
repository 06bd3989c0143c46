// Package cookies persists per-profile session cookie jars, encrypted at
// rest when a vault key is configured, with a plaintext legacy tier kept
// readable for pre-encryption data. It also fabricates plausible aged jars
// for profiles with no history, since a brand-new cookie jar is itself a
// strong automation signal.
package cookies

import (
	"crypto/cipher"
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/driplet/driplet/pkg/logging"
	"github.com/driplet/driplet/pkg/store"
)

// Cookie is one stored cookie. Field layout mirrors what the engine
// round-trips through Context.Cookies/AddCookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// encryptedJar is the on-disk wrapper for the encrypted tier.
type encryptedJar struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// seedParams are the persisted cold-start parameters for one profile. The
// cookies themselves are regenerated each seeding; only the age and count
// stay fixed so the jar keeps looking like the same browsing history.
type seedParams struct {
	CreatedAt int64 `json:"created_at"`
	Count     int   `json:"count"`
}

// Vault stores cookie jars under a directory, keyed by profile.
type Vault struct {
	store    store.Store
	jarDir   string
	metaPath string
	aead     cipher.AEAD
	log      *logging.Logger
	now      func() time.Time

	// rngMu guards rng: seeding runs from concurrent per-profile tasks
	// and rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a vault writing jars under jarDir and seeding metadata at
// metaPath. key enables the encrypted tier; pass nil to stay on the
// plaintext tier.
func New(s store.Store, jarDir, metaPath string, key []byte) *Vault {
	log, _ := logging.NewLogger("cookies")

	var aead cipher.AEAD
	if len(key) > 0 {
		var err error
		aead, err = chacha20poly1305.NewX(key)
		if err != nil {
			log.Warnf("vault key rejected (%v), degrading to plaintext tier", err)
			aead = nil
		}
	} else {
		log.Warnf("no vault key configured, cookie jars stored in plaintext")
	}

	return &Vault{
		store:    s,
		jarDir:   jarDir,
		metaPath: metaPath,
		aead:     aead,
		log:      log,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// KeyFromEnv reads a 32-byte vault key from the named environment variable,
// accepting 64 hex characters or 32 raw bytes. Returns nil when absent or
// malformed; the vault then degrades to the plaintext tier.
func KeyFromEnv(envName string) []byte {
	raw := os.Getenv(envName)
	if raw == "" {
		return nil
	}
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) == chacha20poly1305.KeySize {
		return decoded
	}
	if len(raw) == chacha20poly1305.KeySize {
		return []byte(raw)
	}
	return nil
}

// Save persists the jar for profile. Encrypted tier when a key is
// configured, plaintext tier otherwise; never both. Failures are logged and
// swallowed.
func (v *Vault) Save(profile string, jar []Cookie) bool {
	if v.aead == nil {
		if !v.store.Write(v.plainPath(profile), jar) {
			v.log.Errorf("save jar for %q: plaintext write failed", profile)
			return false
		}
		return true
	}

	plaintext, err := json.Marshal(jar)
	if err != nil {
		v.log.Errorf("save jar for %q: marshal failed: %v", profile, err)
		return false
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		v.log.Errorf("save jar for %q: nonce generation failed: %v", profile, err)
		return false
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	doc := encryptedJar{
		Version:    1,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}
	if !v.store.Write(v.encPath(profile), doc) {
		v.log.Errorf("save jar for %q: encrypted write failed", profile)
		return false
	}
	return true
}

// Load returns the stored jar for profile. The encrypted tier is tried
// first; the plaintext tier only serves as a read fallback when the
// encrypted tier has nothing.
func (v *Vault) Load(profile string) ([]Cookie, bool) {
	if v.aead != nil {
		if jar, ok := v.loadEncrypted(profile); ok {
			return jar, true
		}
	}

	var jar []Cookie
	if v.store.Read(v.plainPath(profile), &jar) {
		return jar, true
	}
	return nil, false
}

func (v *Vault) loadEncrypted(profile string) ([]Cookie, bool) {
	var doc encryptedJar
	if !v.store.Read(v.encPath(profile), &doc) {
		return nil, false
	}

	nonce, err := base64.StdEncoding.DecodeString(doc.Nonce)
	if err != nil {
		v.log.Errorf("load jar for %q: bad nonce encoding: %v", profile, err)
		return nil, false
	}
	sealed, err := base64.StdEncoding.DecodeString(doc.Ciphertext)
	if err != nil {
		v.log.Errorf("load jar for %q: bad ciphertext encoding: %v", profile, err)
		return nil, false
	}

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		v.log.Errorf("load jar for %q: decryption failed: %v", profile, err)
		return nil, false
	}

	var jar []Cookie
	if err := json.Unmarshal(plaintext, &jar); err != nil {
		v.log.Errorf("load jar for %q: decrypted payload corrupt: %v", profile, err)
		return nil, false
	}
	return jar, true
}

// Encrypted reports whether the encrypted tier is active.
func (v *Vault) Encrypted() bool {
	return v.aead != nil
}

func (v *Vault) encPath(profile string) string {
	return filepath.Join(v.jarDir, sanitize(profile)+".enc.json")
}

func (v *Vault) plainPath(profile string) string {
	return filepath.Join(v.jarDir, sanitize(profile)+".json")
}

// sanitize maps a profile name onto a safe filename.
func sanitize(profile string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, profile)
}
