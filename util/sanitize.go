package util

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxSanitizeLength is the maximum input length considered before redaction
	MaxSanitizeLength = 1024 * 1024 // 1MB

	// MaxMessageLength bounds error messages stored in analysis metadata
	MaxMessageLength = 2048
)

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)"password"\s*:\s*"[^"]+"`), `"password":"REDACTED"`},
	{regexp.MustCompile(`(?i)(token|authorization)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(secret|client[_-]?secret)[\s:=]+[^\s\n]+`), "$1=REDACTED"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "REDACTED_AWS_KEY"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
	{regexp.MustCompile(`(?s)-----BEGIN (RSA |DSA |EC |OPENSSH )?PRIVATE KEY-----.*?-----END (RSA |DSA |EC |OPENSSH )?PRIVATE KEY-----`), "REDACTED_PRIVATE_KEY"},
}

// SanitizeError sanitizes an error message before it is logged or stored
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString redacts credentials that may leak into error text.
// Input is truncated to MaxSanitizeLength first.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}

	result := s
	for _, r := range redactions {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// SanitizeMessage prepares text for an analysis result: secrets are redacted,
// control characters become spaces and the result is cut to maxLen runes
// (MaxMessageLength when maxLen <= 0).
func SanitizeMessage(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, SanitizeString(s))
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "... [truncated]"
	}
	return s
}
