// internal/session/protocol.go
//
// Reactive session protocol: one inbound event in, one response out.
// Responsibilities:
//   - Dispatch load/next/answer/cheat events for a single player.
//   - Enforce pacing (puzzle_delay, retry_delay) and the attempt budget.
//   - Keep the counters equal to the latest grade of every puzzle by
//     reverting the previous attempt before applying a retry.
//   - Persist player + puzzle changes in one repository call, and only
//     after every precondition has passed.
//
// Notes:
//   - Events for one player are serialized by a per-player lane, so two
//     live connections for the same player cannot interleave.
//   - Timing checks compare wall-clock timestamps; there are no timers.

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/realeffort/internal/task"
)

// Params are the per-session task parameters.
type Params struct {
	RetryDelay        time.Duration // minimum spacing between answers to one puzzle
	PuzzleDelay       time.Duration // minimum age of the current puzzle before "next"
	AttemptsPerPuzzle int           // graded answers allowed per puzzle
	MaxIterations     int           // correct answers after which the session is exhausted
}

// Repository is the storage the protocol needs. Implementations must return
// copies: the protocol mutates what it loads and hands it back to SaveOutcome.
type Repository interface {
	// Player loads a player or returns ErrPlayerNotFound.
	Player(ctx context.Context, id string) (*Player, error)

	// CurrentPuzzle returns the puzzle issued at iteration, or nil if none.
	CurrentPuzzle(ctx context.Context, playerID string, iteration int) (*Puzzle, error)

	// SaveOutcome atomically stores the player's counters together with a
	// newly created (created=true) or updated puzzle.
	SaveOutcome(ctx context.Context, pl *Player, pz *Puzzle, created bool) error
}

// Protocol processes events against a Repository and a task.Provider.
type Protocol struct {
	repo     Repository
	provider task.Provider
	params   Params
	debug    bool
	timeout  time.Duration
	now      func() time.Time
	lanes    *lanes
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(p *Protocol) { p.now = now } }

// WithDebug enables the "cheat" event.
func WithDebug(on bool) Option { return func(p *Protocol) { p.debug = on } }

// WithTaskTimeout bounds every provider call. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option { return func(p *Protocol) { p.timeout = d } }

// New constructs a Protocol.
func New(repo Repository, provider task.Provider, params Params, opts ...Option) *Protocol {
	p := &Protocol{
		repo:     repo,
		provider: provider,
		params:   params,
		now:      time.Now,
		lanes:    newLanes(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Params returns the configured task parameters.
func (p *Protocol) Params() Params { return p.params }

// Provider returns the task provider in use.
func (p *Protocol) Provider() task.Provider { return p.provider }

// Handle processes one event for playerID and returns the reply for that
// player. Any error aborts the event without changing stored state.
func (p *Protocol) Handle(ctx context.Context, playerID string, ev Event) (Reply, error) {
	unlock := p.lanes.lock(playerID)
	defer unlock()

	pl, err := p.repo.Player(ctx, playerID)
	if err != nil {
		return Reply{}, err
	}
	var current *Puzzle
	if pl.Iteration > 0 {
		current, err = p.repo.CurrentPuzzle(ctx, playerID, pl.Iteration)
		if err != nil {
			return Reply{}, fmt.Errorf("load current puzzle: %w", err)
		}
	}

	var msg Response
	switch ev.Type {
	case EventLoad:
		msg, err = p.load(ctx, pl, current)
	case EventNext:
		msg, err = p.next(ctx, pl, current)
	case EventAnswer:
		msg, err = p.answer(ctx, pl, current, ev.Answer)
	case EventCheat:
		msg, err = p.cheat(current)
	default:
		err = ErrUnrecognizedEvent
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{To: playerID, Message: msg}, nil
}

// load reports progress and, mid-game, re-sends the current puzzle.
func (p *Protocol) load(ctx context.Context, pl *Player, current *Puzzle) (Response, error) {
	if current == nil {
		return statusMessage(pl.Progress(), nil), nil
	}
	enc, err := p.render(ctx, current)
	if err != nil {
		return Response{}, err
	}
	return statusMessage(pl.Progress(), enc), nil
}

// next issues a new puzzle once the current one is answered and old enough.
func (p *Protocol) next(ctx context.Context, pl *Player, current *Puzzle) (Response, error) {
	now := p.now()
	if current != nil {
		if !current.Answered() {
			return Response{}, ErrUnansweredPuzzle
		}
		if now.Before(current.Timestamp.Add(p.params.PuzzleDelay)) {
			return Response{}, tooFast("requesting puzzle")
		}
		if pl.NumCorrect >= p.params.MaxIterations {
			return exhaustedMessage(pl.Progress()), nil
		}
	}

	fields, err := task.Bounded(ctx, p.timeout, func(ctx context.Context) (task.Fields, error) {
		return p.provider.Generate(ctx, pl.ID)
	})
	if err != nil {
		return Response{}, fmt.Errorf("generate puzzle: %w", err)
	}

	pl.Iteration++
	pz := &Puzzle{
		PlayerID:  pl.ID,
		Iteration: pl.Iteration,
		Text:      fields.Text,
		Solution:  fields.Solution,
		Timestamp: now,
	}
	enc, err := p.render(ctx, pz)
	if err != nil {
		return Response{}, err
	}
	if err := p.repo.SaveOutcome(ctx, pl, pz, true); err != nil {
		return Response{}, fmt.Errorf("save puzzle: %w", err)
	}
	return puzzleMessage(pl.Progress(), enc), nil
}

// answer grades a first attempt or a retry of the current puzzle.
func (p *Protocol) answer(ctx context.Context, pl *Player, current *Puzzle, answer *string) (Response, error) {
	if current == nil {
		return Response{}, ErrNoPuzzle
	}
	now := p.now()
	retry := current.Answered()
	if retry {
		if current.Attempts >= p.params.AttemptsPerPuzzle {
			return Response{}, ErrNoAttemptsLeft
		}
		if current.ResponseTimestamp != nil && now.Before(current.ResponseTimestamp.Add(p.params.RetryDelay)) {
			return Response{}, tooFast("retrying")
		}
	}
	if answer == nil || *answer == "" {
		return Response{}, ErrInvalidAnswer
	}

	correct, err := task.Bounded(ctx, p.timeout, func(ctx context.Context) (bool, error) {
		return p.provider.Grade(ctx, *answer, fieldsOf(current))
	})
	if err != nil {
		return Response{}, fmt.Errorf("grade answer: %w", err)
	}

	if retry && current.IsCorrect != nil {
		pl.revertOutcome(*current.IsCorrect)
	}
	resp := *answer
	current.Response = &resp
	current.IsCorrect = &correct
	current.ResponseTimestamp = &now
	current.Attempts++
	pl.applyOutcome(correct)

	if err := p.repo.SaveOutcome(ctx, pl, current, false); err != nil {
		return Response{}, fmt.Errorf("save answer: %w", err)
	}
	retriesLeft := p.params.AttemptsPerPuzzle - current.Attempts
	return feedbackMessage(pl.Progress(), correct, retriesLeft), nil
}

// cheat reveals the solution; only served when debug is on.
func (p *Protocol) cheat(current *Puzzle) (Response, error) {
	if !p.debug {
		return Response{}, ErrUnrecognizedEvent
	}
	if current == nil {
		return Response{}, ErrNoPuzzle
	}
	return Response{Type: ResponseSolution, Solution: current.Solution}, nil
}

func (p *Protocol) render(ctx context.Context, pz *Puzzle) (task.Encoding, error) {
	enc, err := task.Bounded(ctx, p.timeout, func(ctx context.Context) (task.Encoding, error) {
		return p.provider.Render(ctx, fieldsOf(pz))
	})
	if err != nil {
		return nil, fmt.Errorf("render puzzle: %w", err)
	}
	return enc, nil
}

func fieldsOf(pz *Puzzle) task.Fields {
	return task.Fields{Text: pz.Text, Solution: pz.Solution}
}

// IsProtocolError reports whether err is a protocol violation.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
