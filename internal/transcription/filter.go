package transcription

import (
	"strings"
	"unicode"
)

// hallucinations are outputs whisper produces on silence or noise. Matched
// case-insensitively after trimming, with and without trailing punctuation.
var hallucinations = map[string]bool{
	"you":                     true,
	"thank you":               true,
	"thanks":                  true,
	"thanks for watching":     true,
	"thank you for watching":  true,
	"subscribe":               true,
	"please subscribe":        true,
	"subtitles by the amara.org community": true,
	"silence":     true,
	"blank_audio": true,
	"blank audio": true,
	"music":       true,
	"inaudible":   true,
	"hmm":         true,
	"bye":         true,
	"...":         true,
	".":           true,
}

// IsHallucination reports whether decoded text is a known silence artifact
// rather than real speech. Applied to finalized segments and to partial
// previews before they are emitted.
func IsHallucination(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if len(normalized) < 2 {
		return true
	}

	if isPunctuationOnly(normalized) {
		return true
	}

	// Fully bracketed outputs like [Music], (silence), or [speaking in
	// foreign language] are annotations, not speech.
	if isFullyBracketed(normalized) {
		return true
	}

	stripped := strings.TrimRight(normalized, ".!?, ")
	if hallucinations[normalized] || hallucinations[stripped] {
		return true
	}

	return false
}

// isFullyBracketed reports whether s is entirely wrapped in [] or ()
func isFullyBracketed(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')')
}

// isPunctuationOnly reports whether s contains no letters or digits
func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
