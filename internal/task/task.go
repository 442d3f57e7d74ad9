// internal/task/task.go
//
// Task providers generate puzzle content, render it for the client and
// grade answers. The session protocol only sees Fields and Encoding;
// what Text and Solution mean is up to each provider.
//
// Variants:
//   - "matrix":        count the zeros in a grid of 0/1 digits (PNG image).
//   - "transcription": retype a random letter string.

package task

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Fields is the stored content of one puzzle.
type Fields struct {
	Text     string `json:"text"`
	Solution string `json:"solution"`
}

// Encoding is the client-displayable form of a puzzle, e.g. {"image": "data:..."}.
type Encoding map[string]string

// Provider is a pluggable puzzle variant.
type Provider interface {
	Name() string
	// InputType is the HTML input type the client form should use.
	InputType() string
	// InputHint is the placeholder shown in the answer field.
	InputHint() string

	Generate(ctx context.Context, playerID string) (Fields, error)
	Render(ctx context.Context, f Fields) (Encoding, error)
	Grade(ctx context.Context, answer string, f Fields) (bool, error)
}

type factory func(rng *rand.Rand) Provider

var (
	registryMu sync.RWMutex
	registry   = map[string]factory{
		MatrixName:        func(rng *rand.Rand) Provider { return NewMatrix(rng, DefaultRows, DefaultCols) },
		TranscriptionName: func(rng *rand.Rand) Provider { return NewTranscription(rng, DefaultLength) },
	}
)

// Lookup returns a fresh provider for the named variant, seeded from the clock.
func Lookup(name string) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task: unknown variant %q (known: %v)", name, Names())
	}
	return f(rand.New(rand.NewSource(time.Now().UnixNano()))), nil
}

// Names lists the registered variants in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// lockedRand guards a *rand.Rand shared by concurrent sessions.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}
