package session

import (
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/driplet/driplet/pkg/cookies"
)

// toEngineCookies converts vault cookies into the engine's install shape.
func toEngineCookies(jar []cookies.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(jar))
	for _, c := range jar {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			Expires:  playwright.Float(c.Expires),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
			SameSite: sameSiteAttribute(c.SameSite),
		}
		out = append(out, oc)
	}
	return out
}

// fromEngineCookies converts the engine's readback shape into vault cookies.
func fromEngineCookies(engineCookies []playwright.Cookie) []cookies.Cookie {
	out := make([]cookies.Cookie, 0, len(engineCookies))
	for _, c := range engineCookies {
		sameSite := ""
		if c.SameSite != nil {
			sameSite = string(*c.SameSite)
		}
		out = append(out, cookies.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSite,
		})
	}
	return out
}

// sameSiteAttribute maps a stored same-site string onto the engine's enum.
// Unknown or empty values map to Lax, the browser default.
func sameSiteAttribute(v string) *playwright.SameSiteAttribute {
	switch strings.ToLower(v) {
	case "strict":
		return playwright.SameSiteAttributeStrict
	case "none":
		return playwright.SameSiteAttributeNone
	default:
		return playwright.SameSiteAttributeLax
	}
}
