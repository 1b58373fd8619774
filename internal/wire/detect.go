package wire

import (
	"regexp"
	"strings"
)

// cloudflarePatterns mirrors the original bridge's cloudflare_patterns list:
// a single match anywhere in the accumulated buffer or an upstream error
// message is enough to classify the failure as a Cloudflare challenge.
var cloudflarePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<title>\s*Just a moment\.\.\.\s*</title>`),
	regexp.MustCompile(`(?i)Enable JavaScript and cookies to continue`),
}

// looksLikeCloudflareChallenge reports whether s contains any of the
// Cloudflare interstitial markers.
func looksLikeCloudflareChallenge(s string) bool {
	for _, p := range cloudflarePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// looksLikeAttachmentTooLarge reports whether an upstream error message
// indicates the request was rejected for exceeding an attachment size
// limit: either an explicit 413 status or a case-insensitive "too large".
func looksLikeAttachmentTooLarge(s string) bool {
	return strings.Contains(s, "413") || strings.Contains(strings.ToLower(s), "too large")
}
