package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
)

// ErrUnknownTheme is returned when a prompt is requested for a theme that does not exist.
var ErrUnknownTheme = errors.New("unknown theme")

const PuzzleGenerationSystem = `You are a master escape room puzzle designer and game master.
You create clever, engaging puzzles for an interactive escape room game.

RULES:
- Each puzzle must be solvable with logic, wordplay, or lateral thinking.
- The answer should be a single word or short phrase (1-4 words max).
- Provide exactly 3 hints, each progressively more helpful.
- The puzzle must fit the theme and setting naturally.
- Vary puzzle types: riddles, ciphers, logic puzzles, pattern recognition, word puzzles.
- The narrative_text should advance the room's story and flow naturally from the previous puzzle context.

You MUST respond with valid JSON in this exact format:
{
    "question": "The full puzzle text presented to the player",
    "type": "riddle|cipher|logic|pattern|wordplay",
    "answer": "the answer (lowercase)",
    "hints": ["Hint 1 (subtle)", "Hint 2 (moderate)", "Hint 3 (very helpful)"],
    "narrative_text": "A 1-2 sentence narrative that sets the scene for this puzzle within the room's story",
    "difficulty": 1-5
}`

const AnswerValidationSystem = `You are a fair and flexible puzzle answer validator for an escape room game.
Your job is to determine if the player's answer is correct.

RULES:
- Accept answers that are semantically equivalent to the expected answer.
- Accept minor typos, different capitalization, or slight rephrasing.
- Be generous but not absurdly so. The answer must demonstrate understanding.
- If wrong, give encouraging feedback that subtly nudges toward the right direction WITHOUT revealing the answer.

You MUST respond with valid JSON:
{
    "correct": true/false,
    "feedback": "Your feedback message to the player"
}`

const ImageAnalysisSystem = `You are a game master for an AI escape room. The player has uploaded an image as a clue.
Analyze the image and create a puzzle based on what you see in it.

The puzzle should require the player to identify or describe something specific in the image.
Keep the answer to 1-4 words.

You MUST respond with valid JSON:
{
    "question": "A puzzle question based on the image content",
    "type": "visual",
    "answer": "the answer (lowercase)",
    "hints": ["Hint 1", "Hint 2", "Hint 3"],
    "narrative_text": "How this image connects to the escape room narrative",
    "difficulty": 1-5,
    "image_description": "Brief description of what you see in the image"
}`

const HintSystem = `You are a helpful game master. The player is stuck on a puzzle and asking for a hint.
Provide a helpful hint that nudges the player toward the answer without giving it away directly.
Be encouraging and keep the immersive tone of the escape room.

Respond with valid JSON:
{
    "hint": "Your hint text",
    "encouragement": "A short encouraging message"
}`

const puzzleGenerationTemplate = `Generate puzzle {{.Number}} of {{.Total}} for the escape room.

Theme: {{.Theme.Name}}
Setting: {{.Theme.Setting}}
Target difficulty: {{.Difficulty}}/5
{{- if .Previous}}

Previous puzzles in this room (avoid repeating types or similar answers):
{{- range $i, $p := .Previous}}
  Puzzle {{inc $i}}: type={{$p.Type}}, answer='{{$p.Answer}}'
{{- end}}
{{- end}}
{{- if .Narrative}}

Narrative so far:
{{.Narrative}}
{{- end}}
{{- if .Final}}

This is the FINAL puzzle. Make it the most challenging and climactic!
{{- end}}
{{- if eq .Number 1}}

This is the FIRST puzzle. Set the scene dramatically in the narrative_text.
{{- end}}
{{- if .EasterEgg}}

This is a secret bonus puzzle worth double points. Make it playful and hide a small in-world surprise in the narrative_text.
{{- end}}
`

const answerValidationTemplate = `Puzzle: {{.Question}}

Expected answer: {{.Expected}}
Player's answer: {{.Player}}

Is the player's answer correct?`

const imageAnalysisTemplate = `The player has uploaded an image as part of puzzle {{.Number}} of {{.Total}}.

Theme: {{.Theme.Name}}
Setting: {{.Theme.Setting}}

Analyze the image and create a puzzle that ties the image into the escape room narrative.
Make the puzzle engaging and the connection to the theme creative.`

const hintTemplate = `Theme: {{.Theme.Name}}
Puzzle: {{.Question}}
Answer: {{.Answer}}
Hints already given: {{.HintsUsed}}

Provide hint #{{inc .HintsUsed}}. {{if ge .HintsUsed 2}}Be more direct. The player is really struggling.{{else}}Be subtle but helpful.{{end}}`

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

var (
	puzzleGeneration = template.Must(template.New("puzzle").Funcs(funcs).Parse(puzzleGenerationTemplate))
	answerValidation = template.Must(template.New("answer").Funcs(funcs).Parse(answerValidationTemplate))
	imageAnalysis    = template.Must(template.New("image").Funcs(funcs).Parse(imageAnalysisTemplate))
	hint             = template.Must(template.New("hint").Funcs(funcs).Parse(hintTemplate))
)

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render %s prompt", t.Name())
	}
	return strings.TrimSpace(buf.String()), nil
}

func theme(id string) (Theme, error) {
	t, ok := LookupTheme(id)
	if !ok {
		return Theme{}, errors.Wrapf(ErrUnknownTheme, "%q", id)
	}
	return t, nil
}

// PreviousPuzzle summarises an earlier puzzle so the model avoids repeats.
type PreviousPuzzle struct {
	Type   string
	Answer string
}

// PuzzleRequest holds the inputs of the puzzle generation prompt.
type PuzzleRequest struct {
	ThemeID    string
	Number     int // 1-based
	Total      int
	Difficulty int
	Previous   []PreviousPuzzle
	Narrative  string
	EasterEgg  bool
}

// PuzzleGeneration builds the user prompt for generating a new puzzle.
func PuzzleGeneration(req PuzzleRequest) (string, error) {
	t, err := theme(req.ThemeID)
	if err != nil {
		return "", err
	}
	return render(puzzleGeneration, struct {
		PuzzleRequest
		Theme Theme
		Final bool
	}{req, t, req.Number == req.Total})
}

// AnswerValidation builds the user prompt for validating a player's answer.
func AnswerValidation(question, expected, player string) (string, error) {
	return render(answerValidation, struct{ Question, Expected, Player string }{question, expected, player})
}

// ImageAnalysis builds the user prompt for an image based puzzle.
func ImageAnalysis(themeID string, number, total int) (string, error) {
	t, err := theme(themeID)
	if err != nil {
		return "", err
	}
	return render(imageAnalysis, struct {
		Theme         Theme
		Number, Total int
	}{t, number, total})
}

// Hint builds the prompt for a contextual hint once the pre-generated ones run out.
func Hint(themeID, question, answer string, hintsUsed int) (string, error) {
	t, err := theme(themeID)
	if err != nil {
		return "", err
	}
	return render(hint, struct {
		Theme            Theme
		Question, Answer string
		HintsUsed        int
	}{t, question, answer, hintsUsed})
}
