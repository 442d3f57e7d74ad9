package task

import (
	"context"
	"math/rand"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	TranscriptionName = "transcription"
	DefaultLength     = 8
)

const letters = "abcdefghijklmnopqrstuvwxyz"

// Transcription asks the participant to retype a random lowercase string.
// The solution is the text itself.
type Transcription struct {
	rng    *lockedRand
	length int
}

// NewTranscription constructs a Transcription provider with strings of n letters.
func NewTranscription(rng *rand.Rand, n int) *Transcription {
	if n <= 0 {
		n = DefaultLength
	}
	return &Transcription{rng: &lockedRand{rng: rng}, length: n}
}

func (t *Transcription) Name() string      { return TranscriptionName }
func (t *Transcription) InputType() string { return "text" }
func (t *Transcription) InputHint() string { return "type the letters exactly" }

func (t *Transcription) Generate(ctx context.Context, playerID string) (Fields, error) {
	b := make([]byte, t.length)
	for i := range b {
		b[i] = letters[t.rng.Intn(len(letters))]
	}
	s := string(b)
	return Fields{Text: s, Solution: s}, nil
}

func (t *Transcription) Render(ctx context.Context, f Fields) (Encoding, error) {
	return Encoding{"text": f.Text}, nil
}

// Grade ignores surrounding whitespace and letter case. NFKC folds
// full-width input from IME keyboards onto plain ASCII.
func (t *Transcription) Grade(ctx context.Context, answer string, f Fields) (bool, error) {
	return strings.EqualFold(norm.NFKC.String(strings.TrimSpace(answer)), f.Solution), nil
}
