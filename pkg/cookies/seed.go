package cookies

import (
	"fmt"
	"time"
)

// seedDomains is the fixed set of common third-party domains a real browser
// accumulates cookies from within days of normal use.
var seedDomains = []string{
	".google.com",
	".doubleclick.net",
	".facebook.com",
	".youtube.com",
	".cloudflare.com",
	".gstatic.com",
}

var seedNames = []string{"_ga", "_gid", "NID", "IDE", "fr", "__cf_bm", "consent", "_fbp"}

const (
	seedMinAgeDays = 7
	seedMaxAgeDays = 30
	seedMinCount   = 8
	seedMaxCount   = 20

	seedMinTTLDays = 30
	seedMaxTTLDays = 90
)

// Seed fabricates a plausible aged jar for a profile with no history.
//
// The first call for a profile picks a creation age and a cookie count and
// persists those two parameters; later calls reuse them, so the profile's
// "history" stays fixed across runs while cookie values are fresh each
// seeding.
func (v *Vault) Seed(profile string) []Cookie {
	params := v.seedParamsFor(profile)
	createdAt := time.Unix(params.CreatedAt, 0)
	now := v.now()

	jar := make([]Cookie, 0, params.Count)
	for i := 0; i < params.Count; i++ {
		ttlDays := seedMinTTLDays + v.randIntn(seedMaxTTLDays-seedMinTTLDays+1)
		expires := createdAt.AddDate(0, 0, ttlDays)
		// An already-expired cookie would be dropped by the engine and
		// shrink the jar; push it just past now instead.
		if !expires.After(now) {
			expires = now.AddDate(0, 0, 1+v.randIntn(seedMinTTLDays))
		}

		jar = append(jar, Cookie{
			Name:     fmt.Sprintf("%s_%d", seedNames[i%len(seedNames)], i),
			Value:    v.randomValue(),
			Domain:   seedDomains[i%len(seedDomains)],
			Path:     "/",
			Expires:  float64(expires.Unix()),
			HTTPOnly: i%3 == 0,
			Secure:   true,
			SameSite: "Lax",
		})
	}
	return jar
}

// seedParamsFor loads the persisted age/count for profile, generating and
// persisting them on first use.
func (v *Vault) seedParamsFor(profile string) seedParams {
	all := make(map[string]seedParams)
	v.store.Read(v.metaPath, &all)

	if params, ok := all[profile]; ok {
		return params
	}

	ageDays := seedMinAgeDays + v.randIntn(seedMaxAgeDays-seedMinAgeDays+1)
	params := seedParams{
		CreatedAt: v.now().AddDate(0, 0, -ageDays).Unix(),
		Count:     seedMinCount + v.randIntn(seedMaxCount-seedMinCount+1),
	}

	all[profile] = params
	if !v.store.Write(v.metaPath, all) {
		v.log.Errorf("seed params for %q: write failed, jar history will not be stable", profile)
	}
	return params
}

// randIntn is rand.Intn over the vault's shared source, safe for the
// concurrent seeding callers.
func (v *Vault) randIntn(n int) int {
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return v.rng.Intn(n)
}

func (v *Vault) randomValue() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 24)
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	for i := range b {
		b[i] = alphabet[v.rng.Intn(len(alphabet))]
	}
	return string(b)
}
