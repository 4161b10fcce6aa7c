// Package util provides small shared helpers that don't fit a
// domain-specific package.
package util

// SafeTruncate truncates a string to maxLen characters without panicking.
// Used when logging token or identifier prefixes, where only the first few
// characters may appear in logs.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
