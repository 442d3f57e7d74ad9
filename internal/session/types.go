// internal/session/types.go
//
// Data model for a single participant's puzzle session.
// Defines:
//   - Player: wage, running counters and the iteration cursor.
//   - Puzzle: one issued puzzle and the latest graded response to it.
//   - Progress: the snapshot attached to every outbound message.
//
// Counter bookkeeping lives in applyOutcome/revertOutcome so that every
// mutation of the counters has a paired inverse.

package session

import (
	"math"
	"time"
)

// Player is the root of a participant's session state.
type Player struct {
	ID           string     // Stable participant identifier (uuid).
	Label        string     // Optional external label (e.g. panel participant code).
	MoreHighWage bool       // Treatment flag used when drawing the wage.
	Wage         float64    // Currency earned per correct answer.
	Earning      float64    // NumCorrect * Wage, rounded to cents.
	Iteration    int        // Number of puzzles issued so far; identifies the current puzzle.
	NumTrials    int        // Puzzles with a graded answer.
	NumCorrect   int        // Puzzles whose latest answer is correct.
	NumFailed    int        // Puzzles whose latest answer is incorrect.
	CreatedAt    time.Time  // When the participant joined.
	FinishedAt   *time.Time // Set once the results page has been reached.
}

// Puzzle is a single issued puzzle. Text and Solution are opaque to the
// session and interpreted by the task provider only.
type Puzzle struct {
	PlayerID          string
	Iteration         int
	Text              string
	Solution          string
	Response          *string    // nil until the first answer.
	ResponseTimestamp *time.Time // time of the latest graded answer.
	Attempts          int
	IsCorrect         *bool // nil = not graded yet.
	Timestamp         time.Time
}

// Answered reports whether the puzzle has at least one graded response.
func (p *Puzzle) Answered() bool { return p.Response != nil }

// Progress is the counter snapshot sent with every response.
type Progress struct {
	NumTrials    int     `json:"num_trials"`
	NumCorrect   int     `json:"num_correct"`
	NumIncorrect int     `json:"num_incorrect"`
	Earning      float64 `json:"earning"`
	Iteration    int     `json:"iteration"`
}

// Progress returns the player's current counter snapshot.
func (p *Player) Progress() Progress {
	return Progress{
		NumTrials:    p.NumTrials,
		NumCorrect:   p.NumCorrect,
		NumIncorrect: p.NumFailed,
		Earning:      p.Earning,
		Iteration:    p.Iteration,
	}
}

// applyOutcome records one graded attempt.
func (p *Player) applyOutcome(correct bool) {
	p.NumTrials++
	if correct {
		p.NumCorrect++
	} else {
		p.NumFailed++
	}
	p.recomputeEarning()
}

// revertOutcome is the exact inverse of applyOutcome.
func (p *Player) revertOutcome(correct bool) {
	p.NumTrials--
	if correct {
		p.NumCorrect--
	} else {
		p.NumFailed--
	}
	p.recomputeEarning()
}

// recomputeEarning derives earning from scratch; wage is fixed for the session.
func (p *Player) recomputeEarning() {
	p.Earning = roundCents(float64(p.NumCorrect) * p.Wage)
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}

// AuditEntry is the exported shape of one puzzle in the audit trail.
type AuditEntry struct {
	Iteration   int        `json:"iteration"`
	Text        string     `json:"text"`
	Solution    string     `json:"solution"`
	Response    *string    `json:"response"`
	Attempts    int        `json:"attempts"`
	IsCorrect   *bool      `json:"is_correct"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at"`
}

// Audit converts the puzzle into its audit trail entry.
func (p Puzzle) Audit() AuditEntry {
	return AuditEntry{
		Iteration:   p.Iteration,
		Text:        p.Text,
		Solution:    p.Solution,
		Response:    p.Response,
		Attempts:    p.Attempts,
		IsCorrect:   p.IsCorrect,
		CreatedAt:   p.Timestamp,
		RespondedAt: p.ResponseTimestamp,
	}
}
