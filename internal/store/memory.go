// internal/store/memory.go
//
// In-memory implementation of Store.
// Used for tests and for running without a database (DB_DRIVER=memory).
//
// Characteristics:
//   - Players keyed by ID; puzzles kept per player in iteration order, so
//     the puzzle for iteration n sits at index n-1.
//   - Concurrency-safe via RWMutex.
//   - Values are copied in and out; callers never share state with the map.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robalobadob/realeffort/internal/session"
)

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu      sync.RWMutex                // guards players and puzzles
	players map[string]session.Player   // keyed by Player.ID
	puzzles map[string][]session.Puzzle // keyed by Player.ID, index = iteration-1
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{
		players: make(map[string]session.Player),
		puzzles: make(map[string][]session.Puzzle),
	}
}

func (m *memory) CreatePlayer(ctx context.Context, p *session.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[p.ID]; ok {
		return fmt.Errorf("player %s already exists", p.ID)
	}
	m.players[p.ID] = clonePlayer(*p)
	return nil
}

func (m *memory) Player(ctx context.Context, id string) (*session.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return nil, session.ErrPlayerNotFound
	}
	out := clonePlayer(p)
	return &out, nil
}

func (m *memory) CurrentPuzzle(ctx context.Context, playerID string, iteration int) (*session.Puzzle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.puzzles[playerID]
	if iteration < 1 || iteration > len(list) {
		return nil, nil
	}
	out := clonePuzzle(list[iteration-1])
	return &out, nil
}

// SaveOutcome writes player counters and the puzzle under one lock.
func (m *memory) SaveOutcome(ctx context.Context, pl *session.Player, pz *session.Puzzle, created bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[pl.ID]; !ok {
		return session.ErrPlayerNotFound
	}
	list := m.puzzles[pl.ID]
	switch {
	case created && pz.Iteration <= len(list):
		return session.ErrDuplicatePuzzle
	case created && pz.Iteration != len(list)+1:
		return fmt.Errorf("puzzle iteration %d out of order (have %d)", pz.Iteration, len(list))
	case created:
		m.puzzles[pl.ID] = append(list, clonePuzzle(*pz))
	case pz.Iteration < 1 || pz.Iteration > len(list):
		return fmt.Errorf("no puzzle at iteration %d", pz.Iteration)
	default:
		list[pz.Iteration-1] = clonePuzzle(*pz)
	}
	m.players[pl.ID] = clonePlayer(*pl)
	return nil
}

func (m *memory) Puzzles(ctx context.Context, playerID string) ([]session.Puzzle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.players[playerID]; !ok {
		return nil, session.ErrPlayerNotFound
	}
	list := m.puzzles[playerID]
	out := make([]session.Puzzle, len(list))
	for i, pz := range list {
		out[i] = clonePuzzle(pz)
	}
	return out, nil
}

func (m *memory) FinishPlayer(ctx context.Context, playerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return session.ErrPlayerNotFound
	}
	if p.FinishedAt == nil {
		p.FinishedAt = &at
		m.players[playerID] = p
	}
	return nil
}

func (m *memory) Close() error { return nil }

func clonePlayer(p session.Player) session.Player {
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		p.FinishedAt = &t
	}
	return p
}

func clonePuzzle(p session.Puzzle) session.Puzzle {
	if p.Response != nil {
		s := *p.Response
		p.Response = &s
	}
	if p.ResponseTimestamp != nil {
		t := *p.ResponseTimestamp
		p.ResponseTimestamp = &t
	}
	if p.IsCorrect != nil {
		b := *p.IsCorrect
		p.IsCorrect = &b
	}
	return p
}
