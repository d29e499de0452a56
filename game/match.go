package game

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Verdict is the outcome of a local answer comparison.
type Verdict int

const (
	// Unsure means the local comparison could not decide and the AI should.
	Unsure Verdict = iota
	Match
	NoMatch
)

const (
	acceptRatio   = 0.85
	rejectRatio   = 0.35
	fallbackRatio = 0.6
)

var (
	punctuation = regexp.MustCompile(`[^a-z0-9\s]`)
	articles    = regexp.MustCompile(`\b(the|a|an)\b`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text and strips punctuation, articles and extra whitespace.
func Normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = punctuation.ReplaceAllString(t, "")
	t = articles.ReplaceAllString(t, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(t, " "))
}

// Similarity returns a 0..1 edit-distance ratio between two strings.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// LocalMatch compares a player's answer with the expected one without the AI.
func LocalMatch(expected, player string) Verdict {
	exp := Normalize(expected)
	got := Normalize(player)
	if exp == "" {
		return Unsure
	}
	if exp == got {
		return Match
	}
	// containment only counts when the answer is not a tiny fragment
	if (strings.Contains(got, exp) || strings.Contains(exp, got)) && float64(len(got)) >= float64(len(exp))*0.5 {
		return Match
	}
	ratio := Similarity(exp, got)
	switch {
	case ratio >= acceptRatio:
		return Match
	case ratio <= rejectRatio:
		return NoMatch
	}
	return Unsure
}

// FallbackMatch is the stricter comparison used when AI validation fails.
func FallbackMatch(expected, player string) bool {
	exp := Normalize(expected)
	if exp == "" {
		return false
	}
	return Similarity(exp, Normalize(player)) >= fallbackRatio
}
