// Package logging provides log redaction for gatekeep.
package logging

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute names whose values never reach the log
// output. Matching is case-insensitive on substrings, so "redis_password"
// and "X-Api-Key" are both caught.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"authorization",
	"cookie",
	"credential",
}

// MaskedValue replaces sensitive attribute values.
const MaskedValue = "[REDACTED]"

// IsSensitiveKey reports whether an attribute name carries a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactAttr is a slog ReplaceAttr function that masks sensitive
// attribute values. Group paths are ignored; the key alone decides.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		a.Value = slog.StringValue(MaskedValue)
	}
	return a
}

// MaskAPIKey keeps the first and last four characters of a key for
// correlation in logs and masks the rest.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return MaskedValue
	}
	return key[:4] + "****" + key[len(key)-4:]
}
