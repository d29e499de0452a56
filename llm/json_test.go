package llm

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"plain":       `{"answer": "echo"}`,
		"padded":      "\n  {\"answer\": \"echo\"}  \n",
		"fenced":      "```json\n{\"answer\": \"echo\"}\n```",
		"bare fence":  "```\n{\"answer\": \"echo\"}\n```",
		"prose":       "Sure! Here is the puzzle: {\"answer\": \"echo\"} Enjoy.",
		"fence+prose": "Here:\n```json\n{\"answer\": \"echo\"}\n```\nGood luck",
	}
	for name, text := range cases {
		var out struct {
			Answer string `json:"answer"`
		}
		require.NoError(t, ExtractJSON(text, &out), name)
		assert.Equal(t, "echo", out.Answer, name)
	}
}

func TestExtractJSONFailure(t *testing.T) {
	var out map[string]any
	err := ExtractJSON("no braces here", &out)
	assert.True(t, errors.Is(err, ErrNoJSON))

	err = ExtractJSON("{not json}", &out)
	assert.True(t, errors.Is(err, ErrNoJSON))
}
