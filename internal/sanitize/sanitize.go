// Package sanitize scrubs raw text before it is cached, persisted or
// shown to a learner: credential-shaped substrings are redacted and
// model scratch-reasoning blocks are stripped.
package sanitize

import (
	"regexp"
	"strings"
)

// RedactionMarker replaces every credential-shaped match.
const RedactionMarker = "[REDACTED]"

// credentialPatterns are applied globally over the whole text, one
// pattern at a time, in this exact order. Order matters for overlapping
// matches: an AWS key inside a longer hex blob is redacted by the AWS
// pattern before the hex pattern sees the text.
var credentialPatterns = []*regexp.Regexp{
	// AWS access key IDs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// OpenAI-style secret keys
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),
	// GitHub tokens (classic and fine-grained prefixes)
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),
	// Slack tokens
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),
	// Generic long hex tokens (API keys, session secrets)
	regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
}

// thinkOpen and thinkBlock drive scratch-reasoning removal. The block
// pattern is non-greedy and spans newlines; matching is case-insensitive.
var (
	thinkOpen  = regexp.MustCompile(`(?i)<think>`)
	thinkClose = regexp.MustCompile(`(?i)</think>`)
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
)

// Redact replaces credential-shaped substrings with RedactionMarker.
// Best-effort defense, not a security boundary.
func Redact(text string) string {
	for _, p := range credentialPatterns {
		text = p.ReplaceAllString(text, RedactionMarker)
	}
	return text
}

// StripThinkTags removes <think>...</think> scratch blocks. An opening
// tag with no closing tag fails open: the text comes back unchanged
// apart from trimming, never truncated.
func StripThinkTags(text string) string {
	if thinkOpen.MatchString(text) && !thinkClose.MatchString(text) {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
}

// Clean applies the full sanitizer: scratch blocks out first, then
// credential redaction over what remains.
func Clean(text string) string {
	return Redact(StripThinkTags(text))
}
