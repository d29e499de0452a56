package server

import (
	"regexp"
	"strings"
)

// MaxAnswerLength is the longest player answer passed on to the model.
const MaxAnswerLength = 200

var (
	roleMarker = regexp.MustCompile(`(?i)\b(system|assistant|user)\s*:`)
	longSpace  = regexp.MustCompile(`\s{3,}`)
)

// sanitizeInput cleans player text before it is placed in a prompt: it is
// truncated, code fences and chat role markers are removed and long runs of
// whitespace are collapsed.
func sanitizeInput(text string, maxLength int) string {
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > maxLength {
		text = string(r[:maxLength])
	}
	text = strings.ReplaceAll(text, "```", "")
	text = roleMarker.ReplaceAllString(text, "")
	text = longSpace.ReplaceAllString(text, "  ")
	return strings.TrimSpace(text)
}
