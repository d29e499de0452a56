package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNoJSON is returned when no JSON object can be found in a completion.
var ErrNoJSON = errors.New("could not extract JSON from response")

var fenced = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

// ExtractJSON decodes the JSON object in text into out. Models often wrap
// their answer in a markdown fence or add prose around it, so it tries the
// whole text, then the first fenced block, then the outermost braces.
func ExtractJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if json.Unmarshal([]byte(text), out) == nil {
		return nil
	}
	if m := fenced.FindStringSubmatch(text); m != nil {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), out) == nil {
			return nil
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if json.Unmarshal([]byte(text[start:end+1]), out) == nil {
			return nil
		}
	}
	preview := text
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return errors.Wrapf(ErrNoJSON, "%q", preview)
}
