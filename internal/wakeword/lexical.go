package wakeword

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/koompiai/kiri/internal/transcription"
)

// Matcher decides whether a window of model-rate audio contains a wake
// phrase. Implementations return the matched phrase name and whether a
// match occurred.
type Matcher interface {
	Match(samples []float32) (string, bool, error)
}

// LexicalMatcher detects wake phrases by transcribing the window with a
// prompt biased toward the phrases and fuzzy-matching the text. The prompt
// raises the odds that whisper spells the phrase consistently.
type LexicalMatcher struct {
	phrases   []string
	tolerance float64
	decoder   Decoder
	language  string
	prompt    string
	logger    *slog.Logger
}

// Decoder transcribes audio. Satisfied by *transcription.Engine.
type Decoder interface {
	Decode(req transcription.Request) (string, error)
}

// NewLexicalMatcher creates a lexical matcher. tolerance is the maximum
// normalized edit distance that still counts as a match.
func NewLexicalMatcher(phrases []string, tolerance float64, decoder Decoder, language string, logger *slog.Logger) (*LexicalMatcher, error) {
	if len(phrases) == 0 {
		return nil, fmt.Errorf("phrases cannot be empty")
	}

	if tolerance < 0 || tolerance > 1 {
		return nil, fmt.Errorf("tolerance must be between 0 and 1, got %f", tolerance)
	}

	if decoder == nil {
		return nil, fmt.Errorf("decoder cannot be nil")
	}

	normalized := make([]string, len(phrases))
	for i, p := range phrases {
		normalized[i] = normalizeText(p)
		if normalized[i] == "" {
			return nil, fmt.Errorf("phrase %d is empty after normalization", i)
		}
	}

	return &LexicalMatcher{
		phrases:   normalized,
		tolerance: tolerance,
		decoder:   decoder,
		language:  language,
		prompt:    strings.Join(phrases, ". ") + ".",
		logger:    logger,
	}, nil
}

// Match transcribes the window and looks for any wake phrase in the text
func (m *LexicalMatcher) Match(samples []float32) (string, bool, error) {
	text, err := m.decoder.Decode(transcription.Request{
		Samples:  samples,
		Language: m.language,
		Prompt:   m.prompt,
		Strategy: transcription.StrategyPrompted,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to decode window: %w", err)
	}

	normalized := normalizeText(text)
	if normalized == "" {
		return "", false, nil
	}

	for _, phrase := range m.phrases {
		if MatchesPhrase(normalized, phrase, m.tolerance) {
			m.logger.Debug("Wake phrase matched",
				slog.String("phrase", phrase),
				slog.String("heard", normalized))
			return phrase, true, nil
		}
	}

	return "", false, nil
}

// normalizeText lowercases and strips everything but letters, digits, and
// single spaces
func normalizeText(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) && !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// MatchesPhrase reports whether phrase occurs in text, either verbatim or
// within the given normalized edit distance over a sliding word window.
func MatchesPhrase(text, phrase string, tolerance float64) bool {
	if text == "" || phrase == "" {
		return false
	}

	if strings.Contains(text, phrase) {
		return true
	}

	phraseWords := strings.Fields(phrase)
	textWords := strings.Fields(text)
	if len(textWords) == 0 {
		return false
	}

	// Slide a window of the phrase's word count across the text.
	n := len(phraseWords)
	if n > len(textWords) {
		return normalizedDistance(strings.Join(textWords, " "), phrase) <= tolerance
	}

	for i := 0; i+n <= len(textWords); i++ {
		window := strings.Join(textWords[i:i+n], " ")
		if normalizedDistance(window, phrase) <= tolerance {
			return true
		}
	}

	return false
}

// normalizedDistance returns the Levenshtein distance between a and b
// divided by the longer length
func normalizedDistance(a, b string) float64 {
	if a == b {
		return 0
	}

	ra := []rune(a)
	rb := []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	if longer == 0 {
		return 0
	}

	return float64(levenshtein(ra, rb)) / float64(longer)
}

// levenshtein computes the edit distance between two rune slices
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost

			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
