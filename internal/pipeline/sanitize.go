package pipeline

import "strings"

// SanitizeForSpeech drops every non-ASCII rune so emoji and symbols are not
// read out by the synthesizer, then trims the result.
func SanitizeForSpeech(text string) string {
	clean := strings.Map(func(r rune) rune {
		if r > 0x7f {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(clean)
}
