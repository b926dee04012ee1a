// Package errors sanitizes error text before it leaves the process in
// an HTTP response body.
package errors

import (
	"regexp"
	"strings"
)

var (
	// Absolute file paths leak deployment layout.
	filePathPattern = regexp.MustCompile(`/[a-zA-Z0-9_\-./]{2,}`)

	// Connection-string style credentials embedded in driver errors.
	credentialPattern = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)=\S+`)
)

// safePrefixes are validation and normalization messages that are
// meant for the caller and pass through untouched.
var safePrefixes = []string{
	"validation failed",
	"malformed",
	"missing",
	"invalid",
	"payload too large",
	"rate limit",
	"unsupported",
}

// SafeMessage returns a client-safe rendering of err. Caller-facing
// validation text passes through; anything carrying internal detail is
// scrubbed or replaced wholesale.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, prefix := range safePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return Scrub(msg)
		}
	}

	// Unknown error shapes get a generic message. Multi-line text is
	// almost always a wrapped internal failure.
	if strings.Contains(msg, "\n") {
		return "request could not be processed"
	}
	return Scrub(msg)
}

// Scrub removes paths and embedded credentials from a string while
// keeping the rest of the message intact.
func Scrub(s string) string {
	s = credentialPattern.ReplaceAllString(s, "${1}=[redacted]")
	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		idx := strings.LastIndexByte(match, '/')
		return match[idx:]
	})
	return s
}
