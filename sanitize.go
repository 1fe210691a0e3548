package gql

import (
	"regexp"
	"strings"
)

const redactedText = "[REDACTED]"

// Secrets show up in three places on this pipeline: header maps attached to
// a request, the JSON request body, and endpoint URLs. One pattern per
// shape, applied before anything reaches the log output.
var (
	// credential-looking JSON fields, value replaced but field name kept
	sensitiveFieldPattern = regexp.MustCompile(`(?i)"?(password|passwd|pwd|token|apikey|api_key|api-key|secret|authorization|auth|bearer|credentials|private_key|private-key|access_token|refresh_token|client_secret|session|cookie)"?\s*:\s*"[^"]*"`)

	// auth-carrying headers rendered as "name: value"
	authHeaderPattern = regexp.MustCompile(`(?i)(authorization|x-api-key|x-auth-token|bearer)\s*:\s*[^\s,}]+`)

	// user:password embedded in endpoint URLs
	basicAuthURLPattern = regexp.MustCompile(`(https?://)([^:]+):([^@]+)@`)

	// bare JWTs anywhere in the string
	jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
)

// sanitizeForLogging redacts credential values from a string, preserving
// enough structure (field and header names) to keep the log line readable.
func sanitizeForLogging(input string) string {
	if input == "" {
		return input
	}

	sanitized := sensitiveFieldPattern.ReplaceAllStringFunc(input, func(match string) string {
		name, _, found := strings.Cut(match, ":")
		if !found {
			return redactedText
		}
		return name + `: "` + redactedText + `"`
	})

	sanitized = authHeaderPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		name, _, found := strings.Cut(match, ":")
		if !found {
			return redactedText
		}
		return name + ": " + redactedText
	})

	sanitized = basicAuthURLPattern.ReplaceAllString(sanitized, "${1}"+redactedText+":"+redactedText+"@")

	return jwtPattern.ReplaceAllString(sanitized, redactedText)
}
