// Package security keeps sensitive content away from the injection
// surface and out of persisted audit rows.
package security

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

var (
	secretKeyExpr    = `(?:password|passwd|secret|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*)`
	secretLikeExpr   = regexp.MustCompile(`(?i)\b` + secretKeyExpr + `\b`)
	bearerExpr       = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	credentialPhrase = []string{
		"contraseña",
		"contrase",
		"otp",
		"2fa",
		"mfa",
		"captcha",
		"verification code",
		"código de verificación",
		"codigo de verificacion",
	}
)

// SensitiveText reports whether text looks like credential or MFA
// content that must never be typed into a screen the system only
// half-understands.
func SensitiveText(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range credentialPhrase {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	if secretLikeExpr.MatchString(lowered) {
		return true
	}
	return bearerExpr.MatchString(lowered)
}

// FingerprintDigest maps a fingerprint to a short stable hash for audit
// rows, so subject lines never land in the database in the clear. Empty
// fingerprints digest to "".
func FingerprintDigest(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(fingerprint))
	return fmt.Sprintf("%016x", h.Sum64())
}
